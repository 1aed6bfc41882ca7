// Package installer reinstalls package files through the device package
// manager, run inside the elevated shell.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"

	"appkeep/internal/keep"
)

// DefaultCommand is the package manager front end.
const DefaultCommand = "pm"

var sessionIDPattern = regexp.MustCompile(`\[(\d+)\]`)

// PackageManager installs single and split packages. A single package is
// installed directly; several files go through an install session so the
// split packages are committed together.
type PackageManager struct {
	shell   keep.Executor
	command string
	logger  keep.Logger
}

var _ keep.Installer = (*PackageManager)(nil)

// NewPackageManager creates a PackageManager. An empty command selects
// DefaultCommand. command may hold several words, e.g. "cmd package".
func NewPackageManager(shell keep.Executor, command string, logger keep.Logger) *PackageManager {
	if command == "" {
		command = DefaultCommand
	}
	return &PackageManager{shell: shell, command: command, logger: logger}
}

// Install replaces the installed application with packageFiles, keeping
// its data and allowing version downgrades.
func (p *PackageManager) Install(ctx context.Context, app *keep.Application, packageFiles []string) error {
	switch len(packageFiles) {
	case 0:
		return fmt.Errorf("%w: no package files for %s", keep.ErrInstallFailed, app.PackageID)
	case 1:
		_, err := p.pm(ctx, "install", "-r", "-d", packageFiles[0])
		if err != nil {
			return err
		}
		p.logger.Debug("package installed", "package", app.PackageID)
		return nil
	default:
		return p.installSession(ctx, app, packageFiles)
	}
}

func (p *PackageManager) installSession(ctx context.Context, app *keep.Application, packageFiles []string) error {
	sizes := make([]int64, len(packageFiles))
	var total int64
	for i, path := range packageFiles {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: %v", keep.ErrInstallFailed, err)
		}
		sizes[i] = info.Size()
		total += info.Size()
	}

	out, err := p.pm(ctx, "install-create", "-r", "-d", "-S", strconv.FormatInt(total, 10))
	if err != nil {
		return err
	}
	m := sessionIDPattern.FindStringSubmatch(out)
	if m == nil {
		return fmt.Errorf("%w: no session id in %q", keep.ErrInstallFailed, strings.TrimSpace(out))
	}
	session := m[1]

	for i, path := range packageFiles {
		name := fmt.Sprintf("%d_%s", i, filepath.Base(path))
		if _, err := p.pm(ctx, "install-write", "-S", strconv.FormatInt(sizes[i], 10), session, name, path); err != nil {
			p.abandon(ctx, session)
			return err
		}
	}

	if _, err := p.pm(ctx, "install-commit", session); err != nil {
		return err
	}
	p.logger.Debug("split package installed", "package", app.PackageID, "files", len(packageFiles), "size", humanize.Bytes(uint64(total)))
	return nil
}

func (p *PackageManager) abandon(ctx context.Context, session string) {
	if _, err := p.pm(ctx, "install-abandon", session); err != nil {
		p.logger.Warn("abandoning install session", "session", session, "error", err)
	}
}

// pm runs one package manager subcommand. The package manager reports some
// failures with exit status 0, so its output is checked as well.
func (p *PackageManager) pm(ctx context.Context, args ...string) (string, error) {
	cmd := p.command + " " + shellquote.Join(args...)
	res, err := p.shell.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%w: %w", keep.ErrInstallFailed, err)
	}
	if !res.Success() || strings.Contains(res.Stdout, "Failure") {
		reason := strings.TrimSpace(res.Stdout + " " + res.Stderr)
		return "", fmt.Errorf("%w: %s %s: exit status %d: %s", keep.ErrInstallFailed, p.command, args[0], res.ExitCode, reason)
	}
	return res.Stdout, nil
}
