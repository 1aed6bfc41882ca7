package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appkeep/internal/database/migrations"
	"appkeep/internal/keep"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Operation statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Operation is one recorded CLI run of backup or restore.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}

// OperationOutcome is the result for one application within an operation.
// Stage and Error are empty on success.
type OperationOutcome struct {
	OperationID int64
	PackageID   string
	Stage       string
	Error       string
}

// SQLiteDatabase is the package catalog and operation history, backed by
// SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock keep.Clock
}

var _ keep.PackageStore = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path and migrates it to the
// latest schema. path can be a file path or ":memory:". A nil clock uses the
// real clock.
func NewSQLiteDatabase(path string, clock keep.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	if clock == nil {
		clock = keep.RealClock{}
	}
	return &SQLiteDatabase{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Application catalog

const applicationColumns = `package_id, name, version_name, data_dir, package_dir, icon, is_favorite, is_local, is_cloud`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*keep.Application, error) {
	var app keep.Application
	err := row.Scan(&app.PackageID, &app.Name, &app.VersionName, &app.DataDir,
		&app.PackageDir, &app.Icon, &app.IsFavorite, &app.IsLocal, &app.IsCloud)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// GetApplication returns keep.ErrApplicationNotFound for unknown ids.
func (s *SQLiteDatabase) GetApplication(packageID string) (*keep.Application, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+applicationColumns+` FROM applications WHERE package_id = ?`, packageID)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", keep.ErrApplicationNotFound, packageID)
		}
		return nil, fmt.Errorf("getting application %s: %w", packageID, err)
	}
	return app, nil
}

// PutApplication inserts app or replaces the stored descriptor with the
// same package id.
func (s *SQLiteDatabase) PutApplication(app *keep.Application) error {
	if app.PackageID == "" {
		return fmt.Errorf("application has no package id")
	}
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO applications (`+applicationColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(package_id) DO UPDATE SET
			name = excluded.name,
			version_name = excluded.version_name,
			data_dir = excluded.data_dir,
			package_dir = excluded.package_dir,
			icon = excluded.icon,
			is_favorite = excluded.is_favorite,
			is_local = excluded.is_local,
			is_cloud = excluded.is_cloud,
			updated_at = excluded.updated_at`,
		app.PackageID, app.Name, app.VersionName, app.DataDir, app.PackageDir, app.Icon,
		app.IsFavorite, app.IsLocal, app.IsCloud, s.clock.Now())
	if err != nil {
		return fmt.Errorf("storing application %s: %w", app.PackageID, err)
	}
	return nil
}

// ListApplications returns every registered application ordered by name.
func (s *SQLiteDatabase) ListApplications() ([]*keep.Application, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+applicationColumns+` FROM applications ORDER BY name, package_id`)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	var apps []*keep.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	return apps, nil
}

// MarkLocal records whether a local archive set exists for packageID.
func (s *SQLiteDatabase) MarkLocal(packageID string, local bool) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE applications SET is_local = ?, updated_at = ? WHERE package_id = ?`,
		local, s.clock.Now(), packageID)
	if err != nil {
		return fmt.Errorf("marking %s local: %w", packageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking %s local: %w", packageID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", keep.ErrApplicationNotFound, packageID)
	}
	return nil
}

// ReconcileLocal sets IsLocal from the archive sets found under the backup
// root. Applications only known from a sidecar are registered from it.
// It returns the number of applications whose flag changed or that were
// added.
func (s *SQLiteDatabase) ReconcileLocal(sets []*keep.ArchiveSet) (int, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.clock.Now()
	present := make(map[string]bool)
	changed := 0
	for _, set := range sets {
		if set.Sidecar == nil {
			continue
		}
		app := set.Sidecar.App
		if present[app.PackageID] {
			continue
		}
		present[app.PackageID] = true

		res, err := tx.ExecContext(ctx, `
			INSERT INTO applications (`+applicationColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(package_id) DO UPDATE SET is_local = 1, updated_at = excluded.updated_at
			WHERE applications.is_local = 0`,
			app.PackageID, app.Name, app.VersionName, app.DataDir, app.PackageDir, app.Icon,
			app.IsFavorite, app.IsCloud, now)
		if err != nil {
			return 0, fmt.Errorf("reconciling %s: %w", app.PackageID, err)
		}
		n, _ := res.RowsAffected()
		changed += int(n)
	}

	rows, err := tx.QueryContext(ctx, `SELECT package_id FROM applications WHERE is_local = 1`)
	if err != nil {
		return 0, fmt.Errorf("listing local applications: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning package id: %w", err)
		}
		if !present[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("listing local applications: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx,
			`UPDATE applications SET is_local = 0, updated_at = ? WHERE package_id = ?`, now, id); err != nil {
			return 0, fmt.Errorf("clearing local flag for %s: %w", id, err)
		}
		changed++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return changed, nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation string, parameters string) (*Operation, error) {
	op := &Operation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  s.clock.Now(),
		Status:     StatusRunning,
	}
	res, err := s.db.ExecContext(context.Background(),
		`INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)`,
		op.Operation, op.Parameters, op.StartedAt, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.ExecContext(context.Background(),
		`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		s.clock.Now(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// RecordOutcome stores the result for one application. A nil err records
// success; otherwise the failing stage is taken from a keep.StageError.
func (s *SQLiteDatabase) RecordOutcome(operationID int64, packageID string, err error) error {
	var stage, msg string
	if err != nil {
		stage = keep.FailedStage(err)
		msg = err.Error()
	}
	_, dbErr := s.db.ExecContext(context.Background(), `
		INSERT INTO operation_outcomes (operation_id, package_id, stage, error)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(operation_id, package_id) DO UPDATE SET stage = excluded.stage, error = excluded.error`,
		operationID, packageID, stage, msg)
	if dbErr != nil {
		return fmt.Errorf("recording outcome for %s: %w", packageID, dbErr)
	}
	return nil
}

// ListOperations returns the most recent operations first.
func (s *SQLiteDatabase) ListOperations(limit int) ([]*Operation, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// ListOutcomes returns the per-application results of one operation.
func (s *SQLiteDatabase) ListOutcomes(operationID int64) ([]*OperationOutcome, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT operation_id, package_id, stage, error
		FROM operation_outcomes WHERE operation_id = ? ORDER BY package_id`, operationID)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*OperationOutcome
	for rows.Next() {
		var o OperationOutcome
		if err := rows.Scan(&o.OperationID, &o.PackageID, &o.Stage, &o.Error); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		outcomes = append(outcomes, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	return outcomes, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
