package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wildeye/camtriage/internal/config"
	"github.com/wildeye/camtriage/internal/predictions"
)

// ErrNoPredictions means the visualizer was asked to run before the
// classifier produced a predictions file for the folder.
var ErrNoPredictions = errors.New("no predictions.json found in folder; run the classifier first")

// Extensions the external tools accept as input.
var toolInputExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// ClassifierCommand builds the classifier invocation for a folder: a
// comma-joined list of the folder's image paths and the predictions
// output path.
func ClassifierCommand(s *config.Settings, dir string) ([]string, error) {
	images, err := listToolImages(dir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no image files found in %s", dir)
	}

	return []string{
		s.Python, "-m", s.ClassifierModule,
		"--filepaths", strings.Join(images, ","),
		"--predictions_json", predictions.PathFor(dir),
		"country", s.Country,
	}, nil
}

// VisualizerCommand builds the visualizer invocation: the predictions
// file and the output directory. Annotated images land in the folder
// itself under the tool's own naming convention; reconciliation
// canonicalizes them afterwards.
func VisualizerCommand(s *config.Settings, dir string) ([]string, error) {
	pred := predictions.PathFor(dir)
	if info, err := os.Stat(pred); err != nil || info.IsDir() {
		return nil, ErrNoPredictions
	}

	return []string{
		s.Python, "-m", s.VisualizerModule,
		pred,
		dir,
	}, nil
}

func listToolImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", dir, err)
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() || !toolInputExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		images = append(images, filepath.Join(dir, e.Name()))
	}
	sort.Strings(images)
	return images, nil
}
