package assets

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelsConfig is the shared models_config.yml consulted for output folders.
type ModelsConfig struct {
	FourCastNetFolder string `yaml:"fourcastnet_folder"`
}

// LoadModelsConfig reads path. An empty path yields an empty config.
func LoadModelsConfig(path string) (ModelsConfig, error) {
	if path == "" {
		return ModelsConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelsConfig{}, fmt.Errorf("read models config: %w", err)
	}
	var cfg ModelsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ModelsConfig{}, fmt.Errorf("parse models config %s: %w", path, err)
	}
	return cfg, nil
}

// OutputFolder returns fourcastnet_folder, or fallback when it is unset.
func (c ModelsConfig) OutputFolder(fallback string) string {
	if c.FourCastNetFolder == "" {
		return fallback
	}
	return c.FourCastNetFolder
}
