package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envModelConfigPath  = "APPLYHARNESS_MODEL_CONFIG"
	envHarnessConfigPath = "APPLYHARNESS_CONFIG"
	envDataDir          = "APPLYHARNESS_DATA_DIR"
)

// resolveModelConfigPath finds the model-routing config file: an explicit
// env var override first, then the conventional per-user location. A
// missing file at the conventional location is not an error — callers
// pass the empty string through to config.LoadModelConfig, which falls
// back to defaults plus environment variables.
func resolveModelConfigPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv(envModelConfigPath)); path != "" {
		return expandHomePath(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}
	path := filepath.Join(home, ".applyharness", "models.yaml")
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return path, nil
}

// resolveHarnessConfigPath finds an optional override of the harness
// policy profile. Empty means: use the selected profile's defaults as-is.
func resolveHarnessConfigPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv(envHarnessConfigPath)); path != "" {
		return expandHomePath(path)
	}
	return "", nil
}

func expandHomePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}

	return path, nil
}
