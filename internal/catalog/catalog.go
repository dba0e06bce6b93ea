package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
}

// IsImage reports whether name has a recognized image extension,
// case-insensitively.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Catalog is an ordered view of a folder's image files plus a cursor.
// It never recurses into subdirectories; Reload re-lists wholesale.
// Safe for concurrent use: the UI browses while task workers reload.
type Catalog struct {
	dir string

	mu     sync.Mutex
	files  []string
	cursor int
}

// Load lists the image files directly under dir, sorted by path.
// The cursor starts at 0, or -1 when the folder has no images.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the file list from disk. The cursor keeps its
// position when still in range, otherwise it clamps to the last entry.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to list folder %s: %w", c.dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(c.dir, e.Name()))
	}
	sort.Strings(files)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = files
	switch {
	case len(files) == 0:
		c.cursor = -1
	case c.cursor < 0:
		c.cursor = 0
	case c.cursor >= len(files):
		c.cursor = len(files) - 1
	}
	return nil
}

func (c *Catalog) Dir() string {
	return c.dir
}

func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

// Files returns the listed paths in order.
func (c *Catalog) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.files))
	copy(out, c.files)
	return out
}

func (c *Catalog) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Current returns the path under the cursor, or false when empty.
func (c *Catalog) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor < 0 || c.cursor >= len(c.files) {
		return "", false
	}
	return c.files[c.cursor], true
}

// Advance moves the cursor by delta with wraparound. No-op when the
// catalog is empty.
func (c *Catalog) Advance(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.files)
	if n == 0 {
		return
	}
	c.cursor = ((c.cursor+delta)%n + n) % n
}

// JumpTo sets the cursor directly, rejecting out-of-range indices.
func (c *Catalog) JumpTo(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.files) {
		return fmt.Errorf("index %d out of range [0, %d)", index, len(c.files))
	}
	c.cursor = index
	return nil
}
