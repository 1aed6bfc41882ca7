package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"appkeep/internal/fs"
	"appkeep/internal/keep"
)

// DefaultRelabelCommand restores SELinux contexts recursively.
const DefaultRelabelCommand = "restorecon -RF"

// Builder snapshots data directories into tar files and applies them back,
// running every privileged step through the shell.
type Builder struct {
	shell          keep.Executor
	exclude        *fs.ExcludeMatcher
	excludes       []string
	relabelCommand string
	logger         keep.Logger
}

var (
	_ keep.Snapshotter  = (*Builder)(nil)
	_ keep.DataRestorer = (*Builder)(nil)
)

// Options configure a Builder.
type Options struct {
	// Exclude lists top-level data directory entries left out of snapshots.
	// nil selects fs.DefaultExcludes.
	Exclude []string

	// RelabelCommand is run with the data directory appended.
	RelabelCommand string
}

// NewBuilder creates a Builder that runs commands through shell.
func NewBuilder(shell keep.Executor, opts Options, logger keep.Logger) *Builder {
	relabel := opts.RelabelCommand
	if relabel == "" {
		relabel = DefaultRelabelCommand
	}
	exclude := fs.NewExcludeMatcher(opts.Exclude)
	return &Builder{
		shell:          shell,
		exclude:        exclude,
		excludes:       exclude.Patterns(),
		relabelCommand: relabel,
		logger:         logger,
	}
}

// Snapshot writes {stagingDir}/DataArchiveName(app) holding the data
// directory minus excluded entries. A missing or empty data directory gives
// a valid tar with no entries.
func (b *Builder) Snapshot(ctx context.Context, app *keep.Application, stagingDir string) (string, error) {
	tarPath := filepath.Join(stagingDir, keep.DataArchiveName(app))

	entries, err := b.listEntries(ctx, app.DataDir)
	if err != nil {
		return "", err
	}
	entries = b.exclude.Filter(entries)

	if len(entries) == 0 {
		if err := writeEmptyTar(tarPath); err != nil {
			return "", fmt.Errorf("%w: %v", keep.ErrSnapshotFailed, err)
		}
		b.logger.Debug("empty data snapshot", "package", app.PackageID, "data_dir", app.DataDir)
		return tarPath, nil
	}

	args := append([]string{"tar", "-cf", tarPath, "-C", app.DataDir, "--"}, entries...)
	res, err := b.shell.Run(ctx,
		shellquote.Join(args...),
		shellquote.Join("chmod", "0644", tarPath),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", keep.ErrSnapshotFailed, err)
	}
	if !res.Success() {
		os.Remove(tarPath)
		return "", fmt.Errorf("%w: tar exited with status %d: %s", keep.ErrSnapshotFailed, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	b.logger.Debug("data snapshot written", "package", app.PackageID, "entries", len(entries))
	return tarPath, nil
}

// listEntries returns the top-level names in dir, sorted, or nil when dir
// is missing. Names are read NUL-separated so any byte but NUL and '/' may
// appear in them.
func (b *Builder) listEntries(ctx context.Context, dir string) ([]string, error) {
	q := shellquote.Join(dir)
	res, err := b.shell.Run(ctx, fmt.Sprintf("if [ -d %s ]; then find %s -mindepth 1 -maxdepth 1 -print0; fi", q, q))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keep.ErrSnapshotFailed, err)
	}
	if !res.Success() {
		return nil, fmt.Errorf("%w: listing %s: %s", keep.ErrSnapshotFailed, dir, strings.TrimSpace(res.Stderr))
	}

	var names []string
	for _, p := range strings.Split(res.Stdout, "\x00") {
		if p == "" {
			continue
		}
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	return names, nil
}

func writeEmptyTar(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating tar: %w", err)
	}
	tw := tar.NewWriter(f)
	if err := tw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("writing tar trailer: %w", err)
	}
	return f.Close()
}

// RestoreData replaces the contents of the data directory with tarPath.
// Excluded entries already present (such as the native library link) are
// left alone. Restored files are handed to the data directory's owner.
func (b *Builder) RestoreData(ctx context.Context, app *keep.Application, tarPath string) error {
	dir := shellquote.Join(app.DataDir)

	sweep := []string{"find", app.DataDir, "-mindepth", "1", "-maxdepth", "1"}
	for _, name := range b.excludes {
		sweep = append(sweep, "!", "-name", name)
	}
	sweep = append(sweep, "-exec", "rm", "-rf", "{}", "+")

	res, err := b.shell.Run(ctx,
		"mkdir -p "+dir,
		shellquote.Join(sweep...),
		shellquote.Join("tar", "-xf", tarPath, "-C", app.DataDir),
		fmt.Sprintf("owner=$(stat -c %%u:%%g %s) && chown -R \"$owner\" %s", dir, dir),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", keep.ErrInstallFailed, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: restoring data exited with status %d: %s", keep.ErrInstallFailed, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	b.logger.Debug("data restored", "package", app.PackageID, "data_dir", app.DataDir)
	return nil
}

// Relabel reapplies security labels over the data directory. It is required
// on SELinux devices for the application to read its restored files.
func (b *Builder) Relabel(ctx context.Context, app *keep.Application) error {
	res, err := b.shell.Run(ctx, b.relabelCommand+" "+shellquote.Join(app.DataDir))
	if err != nil {
		return fmt.Errorf("%w: %w", keep.ErrRelabelFailed, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: %s exited with status %d: %s", keep.ErrRelabelFailed, b.relabelCommand, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
