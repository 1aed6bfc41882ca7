package keep

import (
	"context"
	"path/filepath"
)

// RestoreState is a state of the per-application restore machine:
//
//	selected -> extracting -> decrypting -> installing -> relabeling -> restored
//
// Any failure moves straight to failed; nothing is rolled back.
type RestoreState string

const (
	StateSelected   RestoreState = "selected"
	StateExtracting RestoreState = "extracting"
	StateDecrypting RestoreState = "decrypting"
	StateInstalling RestoreState = "installing"
	StateRelabeling RestoreState = "relabeling"
	StateRestored   RestoreState = "restored"
	StateFailed     RestoreState = "failed"
)

const restoreSteps = 4

var restoreLabels = map[RestoreState]string{
	StateExtracting: "Extracting packages",
	StateDecrypting: "Decrypting data",
	StateInstalling: "Installing",
	StateRelabeling: "Restoring security labels",
	StateRestored:   "Restore complete",
}

// Restore restores the newest archive set of each application in ids, in
// order. Failure handling mirrors Backup: a failed application ends in a
// terminal record whose error is a *StageError naming the restore state.
func (s *Service) Restore(ctx context.Context, ids []string, sink ProgressSink) ([]Outcome, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sink = s.sink(sink)

	if err := s.checkPrivilege(ctx); err != nil {
		s.logger.Error("restore aborted", "error", err)
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("restore cancelled", "remaining", len(ids)-i)
			return outcomes, err
		}

		t := newTracker(sink, s.progressMax, len(ids), i, restoreSteps, id)
		app, err := s.resolve(id, true)
		if err == nil {
			t.describe(app)
			err = s.restoreOne(ctx, app, t)
		}

		outcomes = append(outcomes, Outcome{PackageID: id, App: app, Err: err})
		if err != nil {
			s.logger.Error("restore failed", "package", id, "stage", FailedStage(err), "error", err)
			t.fail("Restore failed", err)
			if abort := batchAborted(ctx, err); abort != nil {
				return outcomes, abort
			}
		}
	}

	s.logger.Info("restore batch complete", "count", len(ids))
	return outcomes, nil
}

func (s *Service) restoreOne(ctx context.Context, app *Application, t *tracker) error {
	state := StateSelected
	advance := func(next RestoreState, step int) error {
		if err := ctx.Err(); err != nil {
			return stageError(app.PackageID, string(next), err)
		}
		s.logger.Debug("restore state", "package", app.PackageID, "from", state, "to", next)
		state = next
		if step == 0 {
			t.emit(t.last, restoreLabels[next], false, nil)
		} else {
			t.step(step, restoreLabels[next])
		}
		return nil
	}
	fail := func(err error) error {
		return stageError(app.PackageID, string(state), err)
	}

	if err := advance(StateExtracting, 0); err != nil {
		return err
	}
	set, err := s.vault.Locate(app)
	if err != nil {
		return fail(err)
	}
	// Container names follow the descriptor the set was written with.
	archived := app
	if set.Sidecar != nil {
		archived = &set.Sidecar.App
	}

	workKey := app.PackageID + ".restore"
	workDir, err := s.staging.Prepare(workKey)
	if err != nil {
		return fail(err)
	}
	defer s.discard(workKey)

	packages, err := s.pipeline.Extractor.ExtractPackageFiles(ctx,
		filepath.Join(set.Dir, PackageContainerName(archived)), filepath.Join(workDir, "packages"))
	if err != nil {
		return fail(err)
	}

	if err := advance(StateDecrypting, 1); err != nil {
		return err
	}
	tarPath := filepath.Join(workDir, DataArchiveName(app))
	if err := s.pipeline.Extractor.DecryptDataArchive(ctx, filepath.Join(set.Dir, DataContainerName(archived)), tarPath); err != nil {
		return fail(err)
	}

	if err := advance(StateInstalling, 2); err != nil {
		return err
	}
	if err := s.pipeline.Installer.Install(ctx, app, packages); err != nil {
		return fail(err)
	}
	if err := s.pipeline.Restorer.RestoreData(ctx, app, tarPath); err != nil {
		return fail(err)
	}

	if err := advance(StateRelabeling, 3); err != nil {
		return err
	}
	if err := s.pipeline.Restorer.Relabel(ctx, app); err != nil {
		return fail(err)
	}

	t.step(restoreSteps, restoreLabels[StateRestored])
	s.logger.Info("application restored", "package", app.PackageID, "set", set.Dir)
	return nil
}
