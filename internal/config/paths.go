package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandPath resolves environment variables and "~/" home shortcuts.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := resolveHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
		}
	}

	return filepath.Clean(expanded), nil
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

func resolveHomeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil {
		if trimmed := strings.TrimSpace(home); isResolvedHome(trimmed) {
			return trimmed, nil
		}
	}

	if current, err := user.Current(); err == nil {
		if trimmed := strings.TrimSpace(current.HomeDir); isResolvedHome(trimmed) {
			return trimmed, nil
		}
	}

	return "", fmt.Errorf("HOME is not set or not fully resolved")
}

func isResolvedHome(home string) bool {
	return home != "" && home != "~" && !strings.HasPrefix(home, "~/")
}
