package staging

import (
	"fmt"

	"appkeep/internal/config"
)

// NewStagingAreaFromConfig creates a staging area based on the config type.
func NewStagingAreaFromConfig(cfg config.StagingConfig) (*FileSystemStagingArea, error) {
	switch cfg.Type {
	case "temp":
		return NewTempStagingArea()
	case "filesystem", "":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("filesystem staging area requires staging_dir to be set")
		}
		return NewFileSystemStagingArea(cfg.StagingDir)
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
}
