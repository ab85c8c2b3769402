package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables locating the config file and the data directory.
const (
	EnvConfigPath = "FSTRACK_CONFIG_PATH"
	EnvHome       = "FSTRACK_HOME"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - FSTRACK_CONFIG_PATH: config file location (default: ~/.config/fstrack.toml)
//   - FSTRACK_HOME: base directory for fstrack data (default: ~/.local/share/fstrack)
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
	}, nil
}

// getConfigPath returns the config file path, checking FSTRACK_CONFIG_PATH first,
// then falling back to the default ~/.config/fstrack.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "fstrack.toml"), nil
}

// getBaseDir returns the base directory for fstrack data, checking FSTRACK_HOME first,
// then falling back to the XDG default ~/.local/share/fstrack.
func getBaseDir() (string, error) {
	if path := os.Getenv(EnvHome); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "fstrack"), nil
}
