package testutil

import (
	"context"
	"strings"
	"sync"

	"appkeep/internal/keep"
)

// ScriptedExecutor records command batches instead of running them.
// Commands succeed with empty output unless a response is scripted for
// them. Safe for concurrent use.
type ScriptedExecutor struct {
	mu        sync.Mutex
	commands  []string
	responses []scripted
	err       error
}

type scripted struct {
	prefix string
	result keep.ExecResult
}

// NewScriptedExecutor creates an executor where every command succeeds.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{}
}

// FailWith makes every subsequent Run return err.
func (e *ScriptedExecutor) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// On scripts the result of commands starting with prefix. Later
// registrations win.
func (e *ScriptedExecutor) On(prefix string, result keep.ExecResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses = append([]scripted{{prefix: prefix, result: result}}, e.responses...)
}

// Commands returns every command seen so far, in order.
func (e *ScriptedExecutor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func (e *ScriptedExecutor) Run(ctx context.Context, commands ...string) (*keep.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}

	res := &keep.ExecResult{}
	var stdout, stderr strings.Builder
	for _, cmd := range commands {
		e.commands = append(e.commands, cmd)
		for _, r := range e.responses {
			if !strings.HasPrefix(cmd, r.prefix) {
				continue
			}
			stdout.WriteString(r.result.Stdout)
			stderr.WriteString(r.result.Stderr)
			if res.ExitCode == 0 {
				res.ExitCode = r.result.ExitCode
			}
			break
		}
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}

var _ keep.Executor = (*ScriptedExecutor)(nil)
