package testutil

import (
	"testing"

	"appkeep/internal/keep"
	"appkeep/internal/shell"
)

// NewShell starts an unprivileged sh session standing in for the root
// shell. It is closed when the test completes.
func NewShell(t *testing.T) keep.Executor {
	t.Helper()
	s := shell.NewSession(shell.Options{Binary: "sh"}, keep.UUIDGenerator{}, keep.NewNopLogger())
	t.Cleanup(func() { s.Close() })
	return s
}
