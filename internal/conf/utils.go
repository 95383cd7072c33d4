// conf/utils.go path helpers for the configuration package
package conf

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/trackwatch/trackwatch/internal/errors"
)

// GetDefaultConfigPaths returns the configuration search path: the working
// directory, the user config directory and the system directory. If a
// config.yaml exists in one of them, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	configPaths := []string{
		".",
		filepath.Join(homeDir, ".config", "trackwatch"),
		"/etc/trackwatch",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	// With nothing found, defaults are written to the user directory.
	return append(configPaths[1:], configPaths[0]), nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}
