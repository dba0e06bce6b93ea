package reconcile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Extensions the visualizer reads and writes. GIFs are browsable in
// the catalog but the external tools never touch them.
var snapshotExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// Extensions the matcher will rename. The visualizer only emits these.
var renameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Snapshot captures a folder's image files and their modification
// times at one instant, taken before a visualizer run.
type Snapshot struct {
	Dir      string
	ModTimes map[string]time.Time
}

// TakeSnapshot records the image files directly under dir.
func TakeSnapshot(dir string) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", dir, err)
	}

	snap := &Snapshot{Dir: dir, ModTimes: make(map[string]time.Time)}
	for _, e := range entries {
		if e.IsDir() || !snapshotExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snap.ModTimes[e.Name()] = info.ModTime()
	}
	return snap, nil
}

// pattern is one known output-naming convention of the external
// visualizer. strip derives the canonical base name and extension from
// a matching file name. Patterns are tried in order; first match wins.
type pattern struct {
	name  string
	match func(base, name string) bool
	strip func(base, name, ext string) (cleanBase, cleanExt string)
}

var patterns = []pattern{
	{
		// Old TF MegaDetector: anything~<realname>.
		name:  "tilde",
		match: func(base, name string) bool { return strings.Contains(name, "~") },
		strip: func(base, name, ext string) (string, string) {
			parts := strings.Split(name, "~")
			real := strings.TrimSpace(parts[len(parts)-1])
			if real == "" {
				return "", ""
			}
			rext := filepath.Ext(real)
			return strings.TrimSuffix(real, rext), rext
		},
	},
	{
		// YOLO MegaDetector: <name>_md.<ext>.
		name:  "md-suffix",
		match: func(base, name string) bool { return strings.HasSuffix(base, "_md") },
		strip: func(base, name, ext string) (string, string) {
			return strings.TrimSuffix(base, "_md"), ext
		},
	},
	{
		// YOLO MegaDetector: _md embedded anywhere in the base name.
		name:  "md-embedded",
		match: func(base, name string) bool { return strings.Contains(base, "_md") },
		strip: func(base, name, ext string) (string, string) {
			return strings.ReplaceAll(base, "_md", ""), ext
		},
	},
	{
		// md_ prefix.
		name:  "md-prefix",
		match: func(base, name string) bool { return strings.HasPrefix(base, "md_") },
		strip: func(base, name, ext string) (string, string) {
			return strings.TrimPrefix(base, "md_"), ext
		},
	},
}

// Reconciler canonicalizes visualizer artifacts after a run.
type Reconciler struct {
	// Suffix is the canonical artifact marker, "_bb" or "_pred".
	Suffix string
	Log    *logrus.Logger
}

func New(suffix string, log *logrus.Logger) *Reconciler {
	return &Reconciler{Suffix: suffix, Log: log}
}

// Reconcile diffs the folder against the pre-run snapshot, renames
// newly created artifacts matching a known convention to the canonical
// name, and duplicates overwritten originals to the canonical name so
// the pre-run content is never propagated as an original. Per-file
// failures are logged and skipped; the rest of the folder is still
// reconciled. Returns the canonical names produced, which is exactly
// the set of fresh visualizer artifacts.
func (r *Reconciler) Reconcile(before *Snapshot) ([]string, error) {
	after, err := TakeSnapshot(before.Dir)
	if err != nil {
		return nil, err
	}
	newFiles, overwritten := diff(before, after)

	r.Log.Infof("reconcile %s: %d new, %d overwritten", before.Dir, len(newFiles), len(overwritten))

	produced := make([]string, 0, len(newFiles)+len(overwritten))

	for _, name := range newFiles {
		cleanBase, cleanExt, ok := canonicalBase(name)
		if !ok {
			// Unknown convention: not a visualizer artifact, leave it.
			continue
		}
		dst := uniqueName(before.Dir, cleanBase+r.Suffix, cleanExt)
		if err := os.Rename(filepath.Join(before.Dir, name), filepath.Join(before.Dir, dst)); err != nil {
			r.Log.Errorf("failed to rename %s -> %s: %v", name, dst, err)
			continue
		}
		r.Log.Infof("renamed artifact %s -> %s", name, dst)
		produced = append(produced, dst)
	}

	for _, name := range overwritten {
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		dst := uniqueName(before.Dir, base+r.Suffix, ext)
		if err := copyFile(filepath.Join(before.Dir, name), filepath.Join(before.Dir, dst)); err != nil {
			r.Log.Errorf("failed to duplicate overwritten %s -> %s: %v", name, dst, err)
			continue
		}
		r.Log.Infof("duplicated overwritten artifact %s -> %s", name, dst)
		produced = append(produced, dst)
	}

	return produced, nil
}

// diff splits the after state into files created during the run and
// pre-existing files whose modification time strictly increased.
func diff(before, after *Snapshot) (newFiles, overwritten []string) {
	for name, mt := range after.ModTimes {
		prev, existed := before.ModTimes[name]
		switch {
		case !existed:
			newFiles = append(newFiles, name)
		case mt.After(prev):
			overwritten = append(overwritten, name)
		}
	}
	sort.Strings(newFiles)
	sort.Strings(overwritten)
	return newFiles, overwritten
}

// canonicalBase strips the first matching convention marker from name.
// Returns false for files matching none of the known conventions.
func canonicalBase(name string) (cleanBase, cleanExt string, ok bool) {
	ext := filepath.Ext(name)
	if !renameExtensions[strings.ToLower(ext)] {
		return "", "", false
	}
	base := strings.TrimSuffix(name, ext)

	for _, p := range patterns {
		if !p.match(base, name) {
			continue
		}
		cleanBase, cleanExt = p.strip(base, name, ext)
		if cleanBase == "" {
			return "", "", false
		}
		return cleanBase, cleanExt, true
	}
	return "", "", false
}

// uniqueName appends _1, _2, ... until base+ext is free in dir.
// Existing files are never overwritten.
func uniqueName(dir, base, ext string) string {
	name := base + ext
	for counter := 1; exists(filepath.Join(dir, name)); counter++ {
		name = fmt.Sprintf("%s_%d%s", base, counter, ext)
	}
	return name
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
