package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"appkeep/internal/keep"
)

// Session is a long-lived elevated shell shared by every caller in the
// process. It is opened lazily on the first Run, kept open between batches
// and torn down by Close. Batches are serialized: one batch owns the shell
// until all of its commands have finished.
type Session struct {
	binary      string
	args        []string
	requireRoot bool
	attempts    uint
	retryDelay  time.Duration
	idgen       keep.IDGenerator
	logger      keep.Logger

	mu   sync.Mutex
	proc *process
}

var _ keep.Executor = (*Session)(nil)

// Options configure a Session.
type Options struct {
	Binary      string   // shell binary, e.g. "su" or "sh"
	Args        []string // extra arguments passed to Binary
	RequireRoot bool     // verify the shell runs as uid 0
	Attempts    uint     // session establishment attempts, at least 1
	RetryDelay  time.Duration
}

// NewSession creates a Session. No process is started until the first Run.
func NewSession(opts Options, idgen keep.IDGenerator, logger keep.Logger) *Session {
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return &Session{
		binary:      opts.Binary,
		args:        opts.Args,
		requireRoot: opts.RequireRoot,
		attempts:    attempts,
		retryDelay:  opts.RetryDelay,
		idgen:       idgen,
		logger:      logger,
	}
}

// Run executes commands in order inside the session. Every command runs even
// if an earlier one failed; the result carries the first non-zero exit code.
// ctx is checked before the batch starts. A running command is never
// interrupted.
func (s *Session) Run(ctx context.Context, commands ...string) (*keep.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	res := &keep.ExecResult{}
	var stdout, stderr strings.Builder
	for _, command := range commands {
		out, errOut, code, err := p.exec(command)
		if err != nil {
			s.logger.Warn("shell session lost", "error", err)
			s.reset()
			return nil, fmt.Errorf("running command: %w", err)
		}
		stdout.WriteString(out)
		stderr.WriteString(errOut)
		if code != 0 && res.ExitCode == 0 {
			res.ExitCode = code
		}
		s.logger.Debug("shell command", "command", command, "exit", code)
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}

// Close ends the shell process. The next Run opens a new session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	err := s.proc.close()
	s.proc = nil
	return err
}

// open returns the live process, starting one when needed.
func (s *Session) open(ctx context.Context) (*process, error) {
	if s.proc != nil {
		return s.proc, nil
	}

	p, err := retry.DoWithData(
		func() (*process, error) { return s.start() },
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("opening privileged shell", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, keep.ErrPrivilegeUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", keep.ErrPrivilegeUnavailable, err)
	}

	s.proc = p
	s.logger.Info("privileged shell opened", "binary", s.binary)
	return p, nil
}

func (s *Session) start() (*process, error) {
	cmd := exec.Command(s.binary, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", keep.ErrPrivilegeUnavailable, s.binary, err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: bufio.NewReader(stderr),
		marker: "__appkeep_" + strings.ReplaceAll(s.idgen.New(), "-", "") + "__",
	}

	// A shell that was denied elevation exits immediately; the probe then
	// fails with EOF.
	out, _, code, err := p.exec("id -u")
	if err != nil {
		p.close()
		return nil, fmt.Errorf("%w: %s did not answer: %v", keep.ErrPrivilegeUnavailable, s.binary, err)
	}
	uid := strings.TrimSpace(out)
	if code != 0 || (s.requireRoot && uid != "0") {
		p.close()
		return nil, fmt.Errorf("%w: %s runs as uid %q", keep.ErrPrivilegeUnavailable, s.binary, uid)
	}
	return p, nil
}

func (s *Session) reset() {
	if s.proc != nil {
		s.proc.close()
		s.proc = nil
	}
}

// process is one running shell. Each command is framed with a marker line
// on both output streams:
//
//	{ command
//	} </dev/null
//	printf '\n%s:%d\n' MARKER "$?"
//	printf '\n%s\n' MARKER >&2
//
// The leading newline guarantees the marker starts a line even when the
// command's output does not end with one; it is stripped again on read.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *bufio.Reader
	marker string
}

type streamResult struct {
	text string
	err  error
}

func (p *process) exec(command string) (stdout, stderr string, code int, err error) {
	script := fmt.Sprintf("{ %s\n} </dev/null\nprintf '\\n%%s:%%d\\n' %s \"$?\"\nprintf '\\n%%s\\n' %s >&2\n",
		command, p.marker, p.marker)
	if _, err := io.WriteString(p.stdin, script); err != nil {
		return "", "", 0, fmt.Errorf("writing to shell: %w", err)
	}

	errCh := make(chan streamResult, 1)
	go func() {
		text, _, err := readFramed(p.stderr, p.marker, false)
		errCh <- streamResult{text: text, err: err}
	}()

	stdout, code, err = readFramed(p.stdout, p.marker, true)
	se := <-errCh
	if err != nil {
		return "", "", 0, fmt.Errorf("reading stdout: %w", err)
	}
	if se.err != nil {
		return "", "", 0, fmt.Errorf("reading stderr: %w", se.err)
	}
	return stdout, se.text, code, nil
}

// readFramed reads r up to the marker line. With status set the marker line
// carries ":<exit code>".
func readFramed(r *bufio.Reader, marker string, status bool) (string, int, error) {
	var buf strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", 0, io.ErrUnexpectedEOF
			}
			return "", 0, err
		}

		body := strings.TrimSuffix(line, "\n")
		if status && strings.HasPrefix(body, marker+":") {
			code, err := strconv.Atoi(strings.TrimPrefix(body, marker+":"))
			if err != nil {
				return "", 0, fmt.Errorf("malformed status line %q", body)
			}
			return strings.TrimSuffix(buf.String(), "\n"), code, nil
		}
		if !status && body == marker {
			return strings.TrimSuffix(buf.String(), "\n"), 0, nil
		}
		buf.WriteString(line)
	}
}

func (p *process) close() error {
	io.WriteString(p.stdin, "exit\n")
	p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		p.cmd.Process.Kill()
		return <-done
	}
}
