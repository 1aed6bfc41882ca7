package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"appkeep/internal/keep"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(Options{Binary: "sh"}, keep.UUIDGenerator{}, keep.NewNopLogger())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("captures stdout and stderr separately", func(t *testing.T) {
		s := newTestSession(t)

		res, err := s.Run(ctx, "echo out", "echo err >&2")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Stdout != "out\n" {
			t.Errorf("Stdout = %q, want %q", res.Stdout, "out\n")
		}
		if res.Stderr != "err\n" {
			t.Errorf("Stderr = %q, want %q", res.Stderr, "err\n")
		}
		if !res.Success() {
			t.Errorf("ExitCode = %d, want 0", res.ExitCode)
		}
	})

	t.Run("keeps output without trailing newline intact", func(t *testing.T) {
		s := newTestSession(t)

		res, err := s.Run(ctx, "printf abc", "printf ''")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Stdout != "abc" {
			t.Errorf("Stdout = %q, want %q", res.Stdout, "abc")
		}
	})

	t.Run("runs the whole batch and reports the first failure", func(t *testing.T) {
		s := newTestSession(t)

		res, err := s.Run(ctx, "(exit 3)", "echo after", "(exit 5)")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.ExitCode != 3 {
			t.Errorf("ExitCode = %d, want 3", res.ExitCode)
		}
		if res.Stdout != "after\n" {
			t.Errorf("Stdout = %q, want %q", res.Stdout, "after\n")
		}
	})

	t.Run("commands do not consume the protocol stream", func(t *testing.T) {
		s := newTestSession(t)

		res, err := s.Run(ctx, "cat", "echo still-here")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Stdout != "still-here\n" {
			t.Errorf("Stdout = %q, want %q", res.Stdout, "still-here\n")
		}
	})

	t.Run("reuses one shell across calls", func(t *testing.T) {
		s := newTestSession(t)

		first, err := s.Run(ctx, "echo $$")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		second, err := s.Run(ctx, "echo $$")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if first.Stdout != second.Stdout {
			t.Errorf("shell pid changed: %q then %q", first.Stdout, second.Stdout)
		}
	})

	t.Run("shell state persists between calls", func(t *testing.T) {
		s := newTestSession(t)
		dir := t.TempDir()

		if _, err := s.Run(ctx, "cd "+dir); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		res, err := s.Run(ctx, "pwd")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
		want, _ := filepath.EvalSymlinks(dir)
		if got != want {
			t.Errorf("pwd = %q, want %q", got, want)
		}
	})

	t.Run("recovers after the shell dies", func(t *testing.T) {
		s := newTestSession(t)

		if _, err := s.Run(ctx, "kill -9 $$"); err == nil {
			t.Fatal("Run() expected error when the shell is killed")
		}
		res, err := s.Run(ctx, "echo back")
		if err != nil {
			t.Fatalf("Run() after reset error = %v", err)
		}
		if res.Stdout != "back\n" {
			t.Errorf("Stdout = %q, want %q", res.Stdout, "back\n")
		}
	})

	t.Run("refuses to start when cancelled", func(t *testing.T) {
		s := newTestSession(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		if _, err := s.Run(cctx, "echo nope"); !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	})

	t.Run("serializes concurrent batches", func(t *testing.T) {
		s := newTestSession(t)

		var g errgroup.Group
		for i := 0; i < 32; i++ {
			i := i
			g.Go(func() error {
				res, err := s.Run(ctx, fmt.Sprintf("echo %d", i), fmt.Sprintf("echo x%d >&2", i))
				if err != nil {
					return fmt.Errorf("batch %d: %w", i, err)
				}
				if want := fmt.Sprintf("%d\n", i); res.Stdout != want {
					return fmt.Errorf("batch %d: Stdout = %q, want %q", i, res.Stdout, want)
				}
				if want := fmt.Sprintf("x%d\n", i); res.Stderr != want {
					return fmt.Errorf("batch %d: Stderr = %q, want %q", i, res.Stderr, want)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Error(err)
		}
	})

	t.Run("reopens after Close", func(t *testing.T) {
		s := newTestSession(t)

		if _, err := s.Run(ctx, "true"); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		res, err := s.Run(ctx, "echo again")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Stdout != "again\n" {
			t.Errorf("Stdout = %q, want %q", res.Stdout, "again\n")
		}
	})
}

func TestSession_PrivilegeUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("missing binary", func(t *testing.T) {
		s := NewSession(Options{Binary: "/nonexistent/su", Attempts: 2}, keep.UUIDGenerator{}, keep.NewNopLogger())
		defer s.Close()

		_, err := s.Run(ctx, "true")
		if !errors.Is(err, keep.ErrPrivilegeUnavailable) {
			t.Errorf("Run() error = %v, want ErrPrivilegeUnavailable", err)
		}
	})

	t.Run("shell exits immediately", func(t *testing.T) {
		s := NewSession(Options{Binary: "sh", Args: []string{"-c", "exit 1"}}, keep.UUIDGenerator{}, keep.NewNopLogger())
		defer s.Close()

		_, err := s.Run(ctx, "true")
		if !errors.Is(err, keep.ErrPrivilegeUnavailable) {
			t.Errorf("Run() error = %v, want ErrPrivilegeUnavailable", err)
		}
	})

	t.Run("shell is not root", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("running as root")
		}
		s := NewSession(Options{Binary: "sh", RequireRoot: true}, keep.UUIDGenerator{}, keep.NewNopLogger())
		defer s.Close()

		_, err := s.Run(ctx, "true")
		if !errors.Is(err, keep.ErrPrivilegeUnavailable) {
			t.Errorf("Run() error = %v, want ErrPrivilegeUnavailable", err)
		}
	})
}
