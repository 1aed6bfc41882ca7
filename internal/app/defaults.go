package app

import (
	"os"
	"path/filepath"
)

const (
	envConfigPath = "APPKEEP_CONFIG_PATH"
	envHome       = "APPKEEP_HOME"

	// deviceHome is used when the process has no home directory, which is
	// the usual case for a root shell on the device.
	deviceHome = "/data/local/appkeep"
)

// Defaults are the paths used before a config file has been read.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves the default paths. APPKEEP_CONFIG_PATH and
// APPKEEP_HOME override the config file and the base directory; otherwise
// they live under the user's home (~/.config/appkeep.toml and
// ~/.local/share/appkeep), or under /data/local/appkeep without one.
func GetDefaults() Defaults {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	d := Defaults{
		ConfigPath: os.Getenv(envConfigPath),
		BaseDir:    os.Getenv(envHome),
	}
	if d.ConfigPath == "" {
		if home != "" {
			d.ConfigPath = filepath.Join(home, ".config", "appkeep.toml")
		} else {
			d.ConfigPath = filepath.Join(deviceHome, "appkeep.toml")
		}
	}
	if d.BaseDir == "" {
		if home != "" {
			d.BaseDir = filepath.Join(home, ".local", "share", "appkeep")
		} else {
			d.BaseDir = deviceHome
		}
	}
	d.LogDir = filepath.Join(d.BaseDir, "log")
	return d
}
