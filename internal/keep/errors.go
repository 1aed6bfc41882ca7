package keep

import (
	"errors"
	"fmt"
)

var (
	// ErrPrivilegeUnavailable means no elevated shell could be obtained.
	// It is fatal for a whole batch.
	ErrPrivilegeUnavailable = errors.New("privileged shell unavailable")

	ErrSnapshotFailed   = errors.New("snapshot failed")
	ErrArchiveFailed    = errors.New("archive failed")
	ErrArchiveNotFound  = errors.New("archive not found")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInstallFailed    = errors.New("install failed")
	ErrRelabelFailed    = errors.New("relabel failed")

	// ErrApplicationNotFound is returned by a PackageStore for unknown ids.
	ErrApplicationNotFound = errors.New("application not found")
)

// Pipeline stage names used in StageError and log records.
const (
	StageResolve  = "resolve"
	StagePrepare  = "prepare"
	StageSnapshot = "snapshot"
	StageArchive  = "archive"
	StageFinalize = "finalize"
)

// StageError ties a per-application failure to the stage it happened in.
// Restore failures use the restore state name as the stage.
type StageError struct {
	PackageID string
	Stage     string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.PackageID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(packageID, stage string, err error) error {
	var se *StageError
	if errors.As(err, &se) && se.PackageID == packageID {
		return err
	}
	return &StageError{PackageID: packageID, Stage: stage, Err: err}
}

// FailedStage returns the stage recorded in err, or "" if err carries none.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
