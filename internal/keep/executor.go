package keep

import "context"

// ExecResult is the combined outcome of a command batch.
type ExecResult struct {
	// ExitCode is the first non-zero exit status in the batch, or 0.
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether every command in the batch exited with status 0.
func (r *ExecResult) Success() bool {
	return r.ExitCode == 0
}

// Executor runs shell command batches inside an elevated session.
//
// All commands of one Run call execute in order in the same session. A failing
// command does not stop the batch. Run returns an error only when the session
// itself is unusable; command failures are reported through ExecResult.
// Errors caused by a missing or denied session wrap ErrPrivilegeUnavailable.
type Executor interface {
	Run(ctx context.Context, commands ...string) (*ExecResult, error)
}
