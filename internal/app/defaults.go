package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - ZIPDAEMON_CONFIG_PATH: config file location (default: ~/.config/zipdaemon.toml)
//   - ZIPDAEMON_HOME: base directory for the ledger, keys and log (default: ~/.local/share/zipdaemon)
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
		"log_file":    filepath.Join(baseDir, "zipdaemon.log"),
	}, nil
}

// getConfigPath returns the config file path, checking ZIPDAEMON_CONFIG_PATH first,
// then falling back to ~/.config/zipdaemon.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("ZIPDAEMON_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "zipdaemon.toml"), nil
}

// getBaseDir returns the data directory, checking ZIPDAEMON_HOME first,
// then falling back to the XDG default ~/.local/share/zipdaemon.
func getBaseDir() (string, error) {
	if path := os.Getenv("ZIPDAEMON_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "zipdaemon"), nil
}
