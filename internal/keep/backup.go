package keep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

const backupSteps = 3

// Backup backs up the applications in ids, strictly in order, publishing
// progress to sink (which may be nil).
//
// A failing application gets a terminal record carrying its error and the
// batch moves on. The returned error is non-nil only when the whole batch
// stopped: no elevated session, or ctx was cancelled. Cancellation is
// honoured between stages, never inside a running shell command.
func (s *Service) Backup(ctx context.Context, ids []string, sink ProgressSink) ([]Outcome, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sink = s.sink(sink)

	if err := s.checkPrivilege(ctx); err != nil {
		s.logger.Error("backup aborted", "error", err)
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("backup cancelled", "remaining", len(ids)-i)
			return outcomes, err
		}

		t := newTracker(sink, s.progressMax, len(ids), i, backupSteps, id)
		app, err := s.resolve(id, false)
		if err == nil {
			t.describe(app)
			err = s.backupOne(ctx, app, t)
		}

		outcomes = append(outcomes, Outcome{PackageID: id, App: app, Err: err})
		if err != nil {
			s.logger.Error("backup failed", "package", id, "stage", FailedStage(err), "error", err)
			t.fail("Backup failed", err)
			if abort := batchAborted(ctx, err); abort != nil {
				return outcomes, abort
			}
		}
	}

	s.logger.Info("backup batch complete", "count", len(ids))
	return outcomes, nil
}

func (s *Service) backupOne(ctx context.Context, app *Application, t *tracker) error {
	if err := CheckSetNames(app); err != nil {
		return stageError(app.PackageID, StagePrepare, err)
	}
	stagedDir, err := s.staging.Prepare(app.PackageID)
	if err != nil {
		return stageError(app.PackageID, StagePrepare, err)
	}
	defer s.discard(app.PackageID)

	if _, err := s.pipeline.Snapshotter.Snapshot(ctx, app, stagedDir); err != nil {
		return stageError(app.PackageID, StageSnapshot, err)
	}
	s.logger.Debug("data snapshot created", "package", app.PackageID)
	t.step(1, "Data snapshot created")

	if err := ctx.Err(); err != nil {
		return stageError(app.PackageID, StageArchive, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.pipeline.Archiver.ArchivePackageFiles(gctx, app, stagedDir)
		return err
	})
	g.Go(func() error {
		_, err := s.pipeline.Archiver.EncryptDataArchive(gctx, app, stagedDir)
		return err
	})
	if err := g.Wait(); err != nil {
		return stageError(app.PackageID, StageArchive, err)
	}
	t.step(2, "Archives written")

	if err := ctx.Err(); err != nil {
		return stageError(app.PackageID, StageFinalize, err)
	}

	setDir, err := s.finalize(app, stagedDir)
	if err != nil {
		return stageError(app.PackageID, StageFinalize, err)
	}
	s.logger.Info("application backed up", "package", app.PackageID, "set", setDir)
	t.step(3, "Backup complete")
	return nil
}

// finalize writes the thumbnail and sidecar, checks the staged set is
// complete and hands it to the vault.
func (s *Service) finalize(app *Application, stagedDir string) (string, error) {
	if err := s.fsmgr.WriteThumbnail(app.Icon, filepath.Join(stagedDir, ThumbnailName(app))); err != nil {
		return "", fmt.Errorf("writing thumbnail: %w", err)
	}

	sc := &Sidecar{App: *app, BackedUpAt: s.clock.Now()}
	if err := WriteSidecarFile(filepath.Join(stagedDir, SidecarName(app)), sc); err != nil {
		return "", err
	}

	if err := CheckSetNames(app); err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(stagedDir, DataArchiveName(app))); err == nil {
		return "", fmt.Errorf("plaintext snapshot still present in staging")
	}
	for _, name := range SetArtifacts(app) {
		if _, err := os.Stat(filepath.Join(stagedDir, name)); err != nil {
			return "", fmt.Errorf("incomplete archive set: %w", err)
		}
	}

	setDir, err := s.vault.Store(app, stagedDir)
	if err != nil {
		return "", fmt.Errorf("storing archive set: %w", err)
	}
	return setDir, nil
}
