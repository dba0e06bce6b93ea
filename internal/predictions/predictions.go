package predictions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wildeye/camtriage/internal/models"
)

// FileName is the predictions file both external tools agree on.
const FileName = "predictions.json"

// PathFor returns the predictions file path for a folder.
func PathFor(dir string) string {
	return filepath.Join(dir, FileName)
}

// Set holds the parsed predictions for one folder. Two on-disk shapes
// exist: the structured {"images": [...]} form and the older flat
// filename -> {species, confidence} map. Both are supported.
type Set struct {
	images []models.ImagePrediction
	flat   map[string]models.FlatPrediction
}

// Load reads and parses a predictions file.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read predictions file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Set, error) {
	var probe struct {
		Images []models.ImagePrediction `json:"images"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Images != nil {
		return &Set{images: probe.Images}, nil
	}

	var flat map[string]models.FlatPrediction
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("unrecognized predictions shape: %w", err)
	}
	return &Set{flat: flat}, nil
}

// Len returns the number of images with predictions.
func (s *Set) Len() int {
	if s.flat != nil {
		return len(s.flat)
	}
	return len(s.images)
}

// ForImage looks up the prediction for an image path. Structured
// entries match when their recorded file path ends with the image's
// base name; flat entries match by base name key.
func (s *Set) ForImage(imagePath string) (*models.ImagePrediction, bool) {
	name := filepath.Base(imagePath)

	if s.flat != nil {
		for key, p := range s.flat {
			if filepath.Base(key) == name {
				return &models.ImagePrediction{
					File: key,
					Detections: []models.Detection{{
						Category: p.Species,
						Conf:     p.Confidence,
					}},
				}, true
			}
		}
		return nil, false
	}

	for i := range s.images {
		if strings.HasSuffix(s.images[i].File, name) {
			return &s.images[i], true
		}
	}
	return nil, false
}
