package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"appkeep/internal/keep"
)

const (
	incomingPrefix = ".incoming-"
	retiredPrefix  = ".retired-"
	catalogDir     = ".catalog"
)

// FileSystemVault keeps archive sets as directories under a backup root:
//
//	<root>/
//	  <Name>_<VersionName>/   (one complete archive set)
//	  .incoming-<id>/         (a set being moved in)
//	  .retired-<id>/          (a replaced set being removed)
//	  .catalog/<hostID>.db    (copy of the package catalog)
//
// Incoming and retired directories only exist while Store runs. Ones found
// later are leftovers of an interrupted Store and are removed by the next
// Store.
type FileSystemVault struct {
	root   string
	fsmgr  keep.FilesystemManager
	idgen  keep.IDGenerator
	logger keep.Logger
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(root string, fsmgr keep.FilesystemManager, idgen keep.IDGenerator, logger keep.Logger) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &FileSystemVault{
		root:   root,
		fsmgr:  fsmgr,
		idgen:  idgen,
		logger: logger,
	}, nil
}

// Root returns the backup root directory.
func (v *FileSystemVault) Root() string {
	return v.root
}

// Store moves stagedDir into the set directory for app. A previous set is
// swapped out by rename and deleted only after the new set is in place.
func (v *FileSystemVault) Store(app *keep.Application, stagedDir string) (string, error) {
	v.removeStale()

	setDir := filepath.Join(v.root, keep.SetDirName(app))
	incoming := filepath.Join(v.root, incomingPrefix+v.idgen.New())
	if err := v.fsmgr.MoveDir(stagedDir, incoming); err != nil {
		os.RemoveAll(incoming)
		return "", fmt.Errorf("moving staged set: %w", err)
	}

	retired := ""
	if _, err := os.Stat(setDir); err == nil {
		retired = filepath.Join(v.root, retiredPrefix+v.idgen.New())
		if err := os.Rename(setDir, retired); err != nil {
			os.RemoveAll(incoming)
			return "", fmt.Errorf("retiring previous set: %w", err)
		}
	}

	if err := os.Rename(incoming, setDir); err != nil {
		if retired != "" {
			if rerr := os.Rename(retired, setDir); rerr != nil {
				v.logger.Error("restoring previous set", "set", setDir, "error", rerr)
			}
		}
		os.RemoveAll(incoming)
		return "", fmt.Errorf("publishing set: %w", err)
	}

	if retired != "" {
		if err := os.RemoveAll(retired); err != nil {
			v.logger.Warn("removing replaced set", "dir", retired, "error", err)
		}
	}
	return setDir, nil
}

// removeStale deletes hidden leftovers of interrupted Store calls.
func (v *FileSystemVault) removeStale() {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, incomingPrefix) && !strings.HasPrefix(name, retiredPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(v.root, name)); err != nil {
			v.logger.Warn("removing stale directory", "dir", name, "error", err)
		} else {
			v.logger.Info("removed stale directory", "dir", name)
		}
	}
}

// Locate returns the set named after app's name and version, falling back
// to the newest set whose sidecar carries app's package id.
func (v *FileSystemVault) Locate(app *keep.Application) (*keep.ArchiveSet, error) {
	setDir := filepath.Join(v.root, keep.SetDirName(app))
	if info, err := os.Stat(setDir); err == nil && info.IsDir() {
		sc, err := keep.ReadSidecarFile(filepath.Join(setDir, keep.SidecarName(app)))
		if err != nil {
			v.logger.Warn("unreadable sidecar", "set", setDir, "error", err)
			sc = nil
		}
		return &keep.ArchiveSet{Dir: setDir, Sidecar: sc}, nil
	}

	sets, err := v.List()
	if err != nil {
		return nil, err
	}
	for _, set := range sets {
		if set.Sidecar.App.PackageID == app.PackageID {
			return set, nil
		}
	}
	return nil, fmt.Errorf("%w: no archive set for %s", keep.ErrArchiveNotFound, app.PackageID)
}

// List returns every set with a readable sidecar, newest first.
func (v *FileSystemVault) List() ([]*keep.ArchiveSet, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var sets []*keep.ArchiveSet
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(v.root, e.Name())
		sc, err := findSidecar(dir)
		if err != nil {
			v.logger.Debug("skipping directory without sidecar", "dir", dir, "error", err)
			continue
		}
		sets = append(sets, &keep.ArchiveSet{Dir: dir, Sidecar: sc})
	}

	sort.SliceStable(sets, func(i, j int) bool {
		ti, tj := sets[i].Sidecar.BackedUpAt, sets[j].Sidecar.BackedUpAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return sets[i].Dir < sets[j].Dir
	})
	return sets, nil
}

// findSidecar reads the sidecar of a set directory. The file is named after
// the application, which is only known from its content, so every .txt
// file is tried.
func findSidecar(dir string) (*keep.Sidecar, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var lastErr error = errors.New("no sidecar")
	for _, m := range matches {
		sc, err := keep.ReadSidecarFile(m)
		if err == nil {
			return sc, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Compile-time check that FileSystemVault implements keep.Vault interface
var _ keep.Vault = (*FileSystemVault)(nil)

// PutCatalog copies the catalog snapshot at srcPath into the backup root as
// .catalog/<hostID>.db, replacing the previous copy.
func (v *FileSystemVault) PutCatalog(hostID, srcPath string) error {
	dir := filepath.Join(v.root, catalogDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}
	dst := filepath.Join(dir, hostID+".db")
	if err := v.fsmgr.CopyFile(srcPath, dst); err != nil {
		return fmt.Errorf("copying catalog: %w", err)
	}
	v.logger.Debug("catalog stored", "path", dst)
	return nil
}

// CatalogPath returns where PutCatalog keeps the catalog of hostID.
func (v *FileSystemVault) CatalogPath(hostID string) string {
	return filepath.Join(v.root, catalogDir, hostID+".db")
}
