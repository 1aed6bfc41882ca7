package vault

import (
	"fmt"

	"appkeep/internal/config"
	"appkeep/internal/keep"
)

// NewVaultFromConfig creates a vault based on the vault config type.
func NewVaultFromConfig(cfg config.VaultConfig, fsmgr keep.FilesystemManager, idgen keep.IDGenerator, logger keep.Logger) (*FileSystemVault, error) {
	switch cfg.Type {
	case "filesystem", "":
		if cfg.BackupDir == "" {
			return nil, fmt.Errorf("filesystem vault requires backup_dir to be set")
		}
		return NewFileSystemVault(cfg.BackupDir, fsmgr, idgen, logger)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
