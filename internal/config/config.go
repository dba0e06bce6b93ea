package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings is the user-editable part of the configuration, read from
// settings.yaml in the data directory. Missing file means defaults.
type Settings struct {
	// Interpreter used to launch both external tools.
	Python string `yaml:"python"`

	// Module invoked for species classification.
	ClassifierModule string `yaml:"classifier_module"`

	// Module invoked for bounding-box visualization.
	VisualizerModule string `yaml:"visualizer_module"`

	// Country code passed to the classifier.
	Country string `yaml:"country"`

	// Suffix applied to reconciled visualizer artifacts. The legacy
	// front end used "_pred"; "_bb" is the current convention.
	CanonicalSuffix string `yaml:"canonical_suffix"`

	// Destination folders for the 1/2/3 sort shortcuts.
	Destinations []string `yaml:"destinations"`

	// Optional Lua script run after every task reaches a terminal state.
	HookScript string `yaml:"hook_script"`
}

type Config struct {
	DataDir      string
	DBPath       string
	LogPath      string
	SettingsPath string
	ThumbsDir    string
	Settings     *Settings
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("CAMTRIAGE_DATA_DIR", filepath.Join(homeDir, ".camtriage"))

	c := &Config{
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "camtriage.db"),
		LogPath:      filepath.Join(dataDir, "camtriage.log"),
		SettingsPath: filepath.Join(dataDir, "settings.yaml"),
		ThumbsDir:    filepath.Join(dataDir, "thumbs"),
	}

	settings, err := loadSettings(c.SettingsPath)
	if err != nil {
		return nil, err
	}
	c.Settings = settings

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ThumbsDir, 0755)
}

func defaultSettings() *Settings {
	return &Settings{
		Python:           "python3",
		ClassifierModule: "speciesnet.scripts.run_model",
		VisualizerModule: "megadetector.visualization.visualize_detector_output",
		Country:          "NL",
		CanonicalSuffix:  "_bb",
	}
}

func loadSettings(path string) (*Settings, error) {
	s := defaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}

	if s.Python == "" {
		s.Python = "python3"
	}
	if s.CanonicalSuffix == "" {
		s.CanonicalSuffix = "_bb"
	}
	return s, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
