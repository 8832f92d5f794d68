// Package config provides configuration loading and management for
// aortakinetics. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Segmentation parameters
	Segmentation struct {
		// TThreshold is the cutoff in seconds for averaging early frames
		// before segmentation refinement
		TThreshold float64 `yaml:"tThreshold"`
	} `yaml:"segmentation"`

	// VOI placement parameters
	VOI struct {
		// VolumeML is the target VOI volume in milliliters
		VolumeML float64 `yaml:"volumeML"`

		// CylinderWidth is the VOI cross-section width in voxels
		CylinderWidth int `yaml:"cylinderWidth"`
	} `yaml:"voi"`

	// Patlak kinetic-fit parameters
	Patlak struct {
		// GaussianFilterSize is the spatial smoothing sigma in voxels
		// applied before the regression (0 disables smoothing)
		GaussianFilterSize float64 `yaml:"gaussianFilterSize"`

		// NFramesLinearRegression is the number of trailing frames used
		// for the per-voxel linear fit
		NFramesLinearRegression int `yaml:"nFramesLinearRegression"`

		// AxialChunkSize is the streaming chunk size along the axial axis
		AxialChunkSize int `yaml:"axialChunkSize"`
	} `yaml:"patlak"`

	// Output parameters
	Output struct {
		// Verbose controls the level of progress output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default segmentation parameters
	cfg.Segmentation.TThreshold = 40

	// Set default VOI parameters
	cfg.VOI.VolumeML = 1.0
	cfg.VOI.CylinderWidth = 3

	// Set default Patlak parameters
	cfg.Patlak.GaussianFilterSize = 0
	cfg.Patlak.NFramesLinearRegression = 10
	cfg.Patlak.AxialChunkSize = 8

	// Set default output parameters
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
