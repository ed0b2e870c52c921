package utils

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

const (
	configDirName  = "novelai"
	configFileName = "config.toml"
)

// ConfigDir returns the directory holding the config file.
//
// Resolution order:
//   - $NOVELAI_CONFIG_DIR
//   - Windows: %APPDATA%\novelai
//   - $XDG_CONFIG_HOME/novelai
//   - ~/.config/novelai
func ConfigDir() string {
	if dir := os.Getenv("NOVELAI_CONFIG_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, configDirName)
		}
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, configDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), configDirName)
	}
	return filepath.Join(home, ".config", configDirName)
}

// ConfigPath returns the config file location. $NOVELAI_CONFIG overrides
// the directory-based default.
func ConfigPath() string {
	if path := os.Getenv("NOVELAI_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(ConfigDir(), configFileName)
}

// ReadTOMLFile decodes the TOML file at path into v. A missing file is not
// an error; found reports whether the file existed.
func ReadTOMLFile(path string, v interface{}) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := toml.Decode(string(data), v); err != nil {
		return true, err
	}
	return true, nil
}
