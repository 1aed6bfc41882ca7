package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"appkeep/internal/archive"
	"appkeep/internal/config"
	"appkeep/internal/container"
	"appkeep/internal/database"
	"appkeep/internal/encryption"
	"appkeep/internal/fs"
	"appkeep/internal/installer"
	"appkeep/internal/keep"
	"appkeep/internal/progress"
	"appkeep/internal/shell"
	"appkeep/internal/staging"
	"appkeep/internal/vault"
)

// Options adjust how a KeepApp talks to the operator.
type Options struct {
	// Prompt asks for the operator passphrase of an age key file.
	// nil selects encryption.TerminalPrompt.
	Prompt encryption.Prompter

	// Progress receives the progress display. nil selects os.Stdout.
	Progress io.Writer
}

// KeepApp is the application layer between the CLI and keep.Service.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the shell, staging and DB lifecycle on Close.
type KeepApp struct {
	cfg        *config.Config
	db         *database.SQLiteDatabase
	vault      *vault.FileSystemVault
	staging    *staging.FileSystemStagingArea
	shell      *shell.Session
	passphrase keep.PassphraseSource
	service    *keep.Service
	op         *Operation
	logger     keep.Logger
	logFile    *os.File
	out        io.Writer
}

// NewKeepApp creates a fully wired KeepApp from the given config.
// operation identifies the CLI command being run (e.g. "Backup", "AddApplication").
// The caller must call Close when done.
func NewKeepApp(cfg *config.Config, operation string, opts Options) (*KeepApp, error) {
	if opts.Prompt == nil {
		opts.Prompt = encryption.TerminalPrompt
	}
	if opts.Progress == nil {
		opts.Progress = os.Stdout
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &KeepApp{cfg: cfg, logger: logger, logFile: logFile, out: opts.Progress}
	if err := a.wire(opts); err != nil {
		a.closeResources()
		return nil, err
	}
	a.op = NewOperation(operation, "")
	return a, nil
}

func (a *KeepApp) wire(opts Options) error {
	cfg := a.cfg
	fsmgr := fs.NewOSFilesystemManager()
	idgen := keep.UUIDGenerator{}
	clock := keep.RealClock{}

	v, err := vault.NewVaultFromConfig(cfg.Vault, fsmgr, idgen, a.logger)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	a.vault = v

	sa, err := staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		return fmt.Errorf("creating staging area: %w", err)
	}
	a.staging = sa

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID, clock)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	pass, err := encryption.NewPassphraseSourceFromConfig(cfg.Encryption, opts.Prompt)
	if err != nil {
		return fmt.Errorf("creating passphrase source: %w", err)
	}
	a.passphrase = pass

	a.shell = shell.NewSession(shellOptions(cfg.Shell), idgen, a.logger)

	archiver := container.NewArchiver(fsmgr, pass, container.Options{
		PackageExtensions: cfg.Archive.PackageExtensions,
	}, a.logger)
	builder := archive.NewBuilder(a.shell, archive.Options{
		Exclude:        cfg.Archive.Exclude,
		RelabelCommand: cfg.Archive.RelabelCommand,
	}, a.logger)

	pipeline := keep.Pipeline{
		Shell:       a.shell,
		Snapshotter: builder,
		Archiver:    archiver,
		Extractor:   archiver,
		Restorer:    builder,
		Installer:   installer.NewPackageManager(a.shell, cfg.Installer.Command, a.logger),
	}
	a.service = keep.NewService(db, sa, v, fsmgr, pipeline, a.logger, clock)
	a.service.SetProgressMax(cfg.Archive.ProgressMax)
	return nil
}

// shellOptions maps the shell config onto session options.
func shellOptions(cfg config.ShellConfig) shell.Options {
	binary := cfg.Binary
	if binary == "" {
		binary = cfg.Type
	}
	if binary == "" {
		binary = "su"
	}
	attempts := uint(1)
	if cfg.ConnectRetries > 0 {
		attempts = uint(cfg.ConnectRetries)
	}
	return shell.Options{
		Binary:      binary,
		Args:        cfg.Args,
		RequireRoot: cfg.RequireRoot,
		Attempts:    attempts,
		RetryDelay:  time.Duration(cfg.RetryDelayMS) * time.Millisecond,
	}
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *KeepApp) persistOperation() error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// AddApplication registers or updates an application descriptor.
func (a *KeepApp) AddApplication(app *keep.Application) error {
	a.op.Parameters = app.PackageID
	if err := a.persistOperation(); err != nil {
		return err
	}
	if err := keep.CheckSetNames(app); err != nil {
		a.op.Status = database.StatusFailed
		return fmt.Errorf("cannot register %s: %w", app.PackageID, err)
	}
	if err := a.db.PutApplication(app); err != nil {
		a.op.Status = database.StatusFailed
		return err
	}
	return nil
}

// ListApplications returns the registered applications.
func (a *KeepApp) ListApplications() ([]*keep.Application, error) {
	return a.db.ListApplications()
}

// Reconcile updates the local flag of every application from the archive
// sets under the backup root. It returns the number of changed entries.
func (a *KeepApp) Reconcile() (int, error) {
	if err := a.persistOperation(); err != nil {
		return 0, err
	}
	sets, err := a.vault.List()
	if err != nil {
		a.op.Status = database.StatusFailed
		return 0, fmt.Errorf("listing archive sets: %w", err)
	}
	n, err := a.db.ReconcileLocal(sets)
	if err != nil {
		a.op.Status = database.StatusFailed
		return 0, err
	}
	return n, nil
}

// ListArchives returns the archive sets under the backup root, newest first.
func (a *KeepApp) ListArchives() ([]*keep.ArchiveSet, error) {
	return a.vault.List()
}

// GetHistory returns the most recent operations.
func (a *KeepApp) GetHistory(limit int) ([]*database.Operation, error) {
	return a.db.ListOperations(limit)
}

// GetOutcomes returns the per-application results of an operation.
func (a *KeepApp) GetOutcomes(operationID int64) ([]*database.OperationOutcome, error) {
	return a.db.ListOutcomes(operationID)
}

// BackupRoot returns the directory archive sets are written to.
func (a *KeepApp) BackupRoot() string {
	return a.vault.Root()
}

// Backup archives the given applications, drawing progress as it goes.
// Per-application failures are returned as outcomes; the error is only set
// when the whole batch was aborted.
func (a *KeepApp) Backup(ctx context.Context, ids []string) ([]keep.Outcome, error) {
	outcomes, err := a.runBatch(ctx, a.service.Backup, ids)
	for _, o := range outcomes {
		if !o.OK() {
			continue
		}
		if err := a.db.MarkLocal(o.PackageID, true); err != nil {
			a.logger.Warn("marking application local", "package", o.PackageID, "error", err)
		}
	}
	return outcomes, err
}

// Restore reinstalls the given applications from their archive sets.
// Applications only known from a sidecar are registered once restored.
func (a *KeepApp) Restore(ctx context.Context, ids []string) ([]keep.Outcome, error) {
	outcomes, err := a.runBatch(ctx, a.service.Restore, ids)
	for _, o := range outcomes {
		if !o.OK() || o.App == nil {
			continue
		}
		if _, getErr := a.db.GetApplication(o.PackageID); !errors.Is(getErr, keep.ErrApplicationNotFound) {
			continue
		}
		app := *o.App
		app.IsLocal = true
		if err := a.db.PutApplication(&app); err != nil {
			a.logger.Warn("registering restored application", "package", o.PackageID, "error", err)
		}
	}
	return outcomes, err
}

func (a *KeepApp) runBatch(ctx context.Context, op progress.Op, ids []string) ([]keep.Outcome, error) {
	a.op.Parameters = strings.Join(ids, " ")
	if err := a.persistOperation(); err != nil {
		return nil, err
	}

	// Ask for the passphrase before the progress display takes the terminal.
	if _, err := a.passphrase.Passphrase(); err != nil {
		a.op.Status = database.StatusFailed
		return nil, fmt.Errorf("obtaining archive passphrase: %w", err)
	}

	batch := progress.Run(ctx, op, ids, progress.DefaultBuffer)
	progress.NewRenderer(a.out).Render(batch.Records())
	outcomes, err := batch.Wait()
	if n := batch.Dropped(); n > 0 {
		a.logger.Warn("progress records dropped", "count", n)
	}

	for _, o := range outcomes {
		if recErr := a.db.RecordOutcome(a.op.ID, o.PackageID, o.Err); recErr != nil {
			a.logger.Warn("recording outcome", "package", o.PackageID, "error", recErr)
		}
	}
	a.op.Settle(outcomes, err)
	return outcomes, err
}

// Close finalizes the operation and closes all resources.
// For persisted operations the finished operation record is written and a
// snapshot of the catalog is copied into the backup root.
func (a *KeepApp) Close() error {
	var firstErr error

	if a.op != nil && a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
		if err := a.snapshotCatalog(); err != nil {
			a.logger.Warn("catalog snapshot failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := a.closeResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// snapshotCatalog copies the database into the backup root so the catalog
// travels with the archive sets.
func (a *KeepApp) snapshotCatalog() error {
	tmpFile, err := os.CreateTemp("", "appkeep-catalog-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for catalog snapshot: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := a.db.BackupTo(tmpPath); err != nil {
		return err
	}
	return a.vault.PutCatalog(a.cfg.HostID, tmpPath)
}

func (a *KeepApp) closeResources() error {
	var firstErr error
	keepErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.shell != nil {
		keepErr(a.shell.Close())
	}
	if a.staging != nil {
		keepErr(a.staging.Close())
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			keepErr(fmt.Errorf("closing database: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
