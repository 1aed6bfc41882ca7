package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"appkeep/internal/keep"
)

// FileSystemStagingArea hands out one working directory per key under a
// root directory:
//
//	<staging_dir>/
//	  <key>/    (a backup being assembled, or a restore work area)
//
// A key stays reserved from Prepare until Discard. Preparing a key that is
// already reserved fails, so two operations never share a directory.
type FileSystemStagingArea struct {
	root    string
	owned   bool // root was created by us and is removed by Close
	mu      sync.Mutex
	reserve map[string]bool
}

var _ keep.StagingArea = (*FileSystemStagingArea)(nil)

// NewFileSystemStagingArea creates a staging area rooted at stagingDir.
func NewFileSystemStagingArea(stagingDir string) (*FileSystemStagingArea, error) {
	if err := os.MkdirAll(stagingDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &FileSystemStagingArea{
		root:    stagingDir,
		reserve: make(map[string]bool),
	}, nil
}

// NewTempStagingArea creates a staging area in a fresh temporary directory
// that Close removes.
func NewTempStagingArea() (*FileSystemStagingArea, error) {
	dir, err := os.MkdirTemp("", "appkeep-staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary staging directory: %w", err)
	}
	return &FileSystemStagingArea{
		root:    dir,
		owned:   true,
		reserve: make(map[string]bool),
	}, nil
}

// Root returns the staging root directory.
func (s *FileSystemStagingArea) Root() string {
	return s.root
}

// Prepare returns an empty directory for key, clearing what an interrupted
// earlier run left behind.
func (s *FileSystemStagingArea) Prepare(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserve[key] {
		return "", fmt.Errorf("staging directory %q is in use", key)
	}

	dir := filepath.Join(s.root, key)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("removing leftover staging directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	s.reserve[key] = true
	return dir, nil
}

// Discard removes the directory for key and releases it.
func (s *FileSystemStagingArea) Discard(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserve, key)
	if err := os.RemoveAll(filepath.Join(s.root, key)); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}

// Close removes the root if this staging area created it.
func (s *FileSystemStagingArea) Close() error {
	if !s.owned {
		return nil
	}
	return os.RemoveAll(s.root)
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsRune(key, filepath.Separator) {
		return fmt.Errorf("invalid staging key %q", key)
	}
	return nil
}
