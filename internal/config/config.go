package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for appkeep.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Shell      ShellConfig      `toml:"shell"`
	Vault      VaultConfig      `toml:"vault"`
	Staging    StagingConfig    `toml:"staging"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Archive    ArchiveConfig    `toml:"archive"`
	Installer  InstallerConfig  `toml:"installer"`
}

// ShellConfig describes how the elevated shell session is obtained.
type ShellConfig struct {
	Type           string   `toml:"type"`             // "su" (default) or "sh"
	Binary         string   `toml:"binary,omitempty"` // defaults to Type
	Args           []string `toml:"args,omitempty"`
	RequireRoot    bool     `toml:"require_root"`
	ConnectRetries int      `toml:"connect_retries"`
	RetryDelayMS   int      `toml:"retry_delay_ms"`
}

// VaultConfig represents configuration for the backup root.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type      string `toml:"type"`                 // "filesystem"
	BackupDir string `toml:"backup_dir,omitempty"` // only used for type=filesystem
}

// StagingConfig represents configuration for the staging area.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "filesystem" or "temp"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
}

// DatabaseConfig represents configuration for the package store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// EncryptionConfig selects where the data container passphrase comes from.
type EncryptionConfig struct {
	Type       string `toml:"type"`                 // "fixed" (default) or "age"
	Passphrase string `toml:"passphrase,omitempty"` // only used for type=fixed; empty selects the built-in one
	KeyPath    string `toml:"key_path,omitempty"`   // only used for type=age
}

// ArchiveConfig holds settings of the archive pipeline.
type ArchiveConfig struct {
	PackageExtensions []string `toml:"package_extensions"`
	Exclude           []string `toml:"exclude"`
	ProgressMax       int      `toml:"progress_max"`
	RelabelCommand    string   `toml:"relabel_command"`
}

// InstallerConfig names the package manager command used on restore.
type InstallerConfig struct {
	Command string `toml:"command"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Shell: ShellConfig{
			Type:           "su",
			RequireRoot:    true,
			ConnectRetries: 3,
			RetryDelayMS:   500,
		},
		Vault: VaultConfig{
			Type:      "filesystem",
			BackupDir: filepath.Join(baseDir, "backups"),
		},
		Staging: StagingConfig{
			Type:       "filesystem",
			StagingDir: filepath.Join(baseDir, "staging"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:    "fixed",
			KeyPath: filepath.Join(baseDir, "keys", "appkeep.key"),
		},
		Archive: ArchiveConfig{
			PackageExtensions: []string{".apk"},
			Exclude:           []string{"cache", "code_cache", "lib"},
			ProgressMax:       100,
			RelabelCommand:    "restorecon -RF",
		},
		Installer: InstallerConfig{Command: "pm"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate reports settings the pipeline cannot run with. Empty sections
// are left to the factories, which reject unknown types.
func (c *Config) Validate() error {
	var problems []string
	switch c.Shell.Type {
	case "", "su", "sh":
	default:
		problems = append(problems, fmt.Sprintf("shell.type %q is not su or sh", c.Shell.Type))
	}
	if c.Shell.ConnectRetries < 0 {
		problems = append(problems, "shell.connect_retries is negative")
	}
	if c.Shell.RetryDelayMS < 0 {
		problems = append(problems, "shell.retry_delay_ms is negative")
	}
	if c.Archive.ProgressMax < 0 {
		problems = append(problems, "archive.progress_max is negative")
	}
	for _, ext := range c.Archive.PackageExtensions {
		if !strings.HasPrefix(ext, ".") {
			problems = append(problems, fmt.Sprintf("archive.package_extensions entry %q does not start with a dot", ext))
		}
	}
	if c.Vault.Type == "filesystem" && c.Vault.BackupDir == "" {
		problems = append(problems, "vault.backup_dir is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ReadFromFile reads and validates the config at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Init writes cfg to path. It refuses to replace an existing file. The file
// is private to the owner since it may hold a passphrase.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".appkeep-*.toml")
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
