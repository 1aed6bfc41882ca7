package keep

import (
	"context"
	"errors"
	"fmt"
)

// Service sequences the archive pipeline over batches of applications. It is
// the layer the CLI drives for backups and restores.
type Service struct {
	store       PackageStore
	staging     StagingArea
	vault       Vault
	fsmgr       FilesystemManager
	pipeline    Pipeline
	logger      Logger
	clock       Clock
	progressMax int
}

// NewService creates a Service with the provided dependencies.
func NewService(store PackageStore, staging StagingArea, vault Vault, fsmgr FilesystemManager, pipeline Pipeline, logger Logger, clock Clock) *Service {
	return &Service{
		store:       store,
		staging:     staging,
		vault:       vault,
		fsmgr:       fsmgr,
		pipeline:    pipeline,
		logger:      logger,
		clock:       clock,
		progressMax: DefaultProgressMax,
	}
}

// SetProgressMax changes the progress budget of subsequent batches.
func (s *Service) SetProgressMax(n int) {
	if n > 0 {
		s.progressMax = n
	}
}

// Outcome is the result of one application within a batch.
type Outcome struct {
	PackageID string
	App       *Application // nil when the id could not be resolved
	Err       error
}

// OK reports whether the application was processed successfully.
func (o Outcome) OK() bool { return o.Err == nil }

// checkPrivilege makes sure an elevated session exists before any
// application of a batch is touched.
func (s *Service) checkPrivilege(ctx context.Context) error {
	res, err := s.pipeline.Shell.Run(ctx, "true")
	if err != nil {
		if errors.Is(err, ErrPrivilegeUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPrivilegeUnavailable, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: probe exited with status %d", ErrPrivilegeUnavailable, res.ExitCode)
	}
	return nil
}

// resolve looks the application up in the store. For restores the newest
// sidecar of the package is accepted when the store no longer knows it.
func (s *Service) resolve(packageID string, allowSidecar bool) (*Application, error) {
	app, err := s.store.GetApplication(packageID)
	if err == nil {
		return app, nil
	}
	if !allowSidecar || !errors.Is(err, ErrApplicationNotFound) {
		return nil, stageError(packageID, StageResolve, err)
	}

	sets, listErr := s.vault.List()
	if listErr != nil {
		return nil, stageError(packageID, StageResolve, fmt.Errorf("%w; listing archive sets: %v", err, listErr))
	}
	for _, set := range sets {
		if set.Sidecar.App.PackageID == packageID {
			s.logger.Info("resolved application from sidecar", "package", packageID, "set", set.Dir)
			app := set.Sidecar.App
			return &app, nil
		}
	}
	return nil, stageError(packageID, StageResolve, err)
}

// batchAborted reports whether err must stop the remaining applications.
func batchAborted(ctx context.Context, err error) error {
	if errors.Is(err, ErrPrivilegeUnavailable) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

func (s *Service) sink(sink ProgressSink) ProgressSink {
	if sink == nil {
		return nopSink{}
	}
	return sink
}

func (s *Service) discard(key string) {
	if err := s.staging.Discard(key); err != nil {
		s.logger.Warn("discarding staging directory", "key", key, "error", err)
	}
}
