package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - BOXES_CONFIG_PATH: config file location (default: ~/.config/boxes.toml)
//   - BOXES_HOME: base directory for boxes data (default: ~/.local/share/boxes)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"data_dir":    filepath.Join(baseDir, "data"),
		"uploads_dir": filepath.Join(baseDir, "uploads"),
	}, nil
}

// getConfigPath returns the config file path, checking BOXES_CONFIG_PATH env var first,
// then falling back to the default ~/.config/boxes.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("BOXES_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "boxes.toml"), nil
}

// getBaseDir returns the base directory for boxes data, checking BOXES_HOME env var first,
// then falling back to the XDG default ~/.local/share/boxes.
func getBaseDir() (string, error) {
	if path := os.Getenv("BOXES_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "boxes"), nil
}
