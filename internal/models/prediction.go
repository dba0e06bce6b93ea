package models

// Detection is one detector hit within an image, as written by the
// classifier's predictions file.
type Detection struct {
	Category   string             `json:"category"`
	Conf       float64            `json:"conf"`
	ClassProbs map[string]float64 `json:"class_probs,omitempty"`
}

type ImagePrediction struct {
	File       string      `json:"file"`
	Detections []Detection `json:"detections"`
}

// FlatPrediction is the older predictions shape: a plain
// filename -> {species, confidence} map.
type FlatPrediction struct {
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
}
