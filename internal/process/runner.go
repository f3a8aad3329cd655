package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// defaultTimeout applies when a Request has no Timeout.
	defaultTimeout = 30 * time.Second

	// defaultGracePeriod is how long a timed-out process group gets between
	// SIGTERM and SIGKILL.
	defaultGracePeriod = time.Second

	// maxCapturedOutput caps bytes kept per stream.
	maxCapturedOutput = 64 * 1024
)

// Request describes one invocation of an external tool.
type Request struct {
	// Name is a human-readable identifier for logging.
	Name string

	Binary string
	Args   []string

	// Stdin is written to the process then closed. Empty means no input.
	Stdin string

	// Timeout bounds the whole run. Zero means defaultTimeout.
	Timeout time.Duration
}

// Result is what a finished process produced.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner executes short-lived external commands with a deadline.
//
// Each process runs in its own process group; on timeout the whole group
// gets SIGTERM, then SIGKILL after the grace period, so helpers spawned by
// the tool (adb's server fork, for one) can't outlive the call.
//
// A Runner is safe for concurrent use.
type Runner struct {
	logger      Logger
	gracePeriod time.Duration
	lookPath    func(string) (string, error)
}

// NewRunner returns a Runner with default settings.
func NewRunner() *Runner {
	return &Runner{
		logger:      noopLogger{},
		gracePeriod: defaultGracePeriod,
		lookPath:    exec.LookPath,
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// Run starts the command and waits for it to exit or time out.
//
// Returns:
//   - Result: Captured output, also populated on ErrExitStatus and ErrTimeout
//   - error: ErrBinaryNotFound, ErrTimeout, ErrExitStatus or a start failure
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Binary == "" {
		return Result{}, fmt.Errorf("%w: empty binary", ErrInvalidRequest)
	}
	path, err := r.lookPath(req.Binary)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, req.Binary, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(path, req.Args...) //nolint:gosec // Binary comes from service config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// A helper that escapes the group (setsid, adb's server) keeps the
	// output pipes open; stop waiting on them once the process is gone.
	cmd.WaitDelay = r.gracePeriod

	stdout := &cappedBuffer{limit: maxCapturedOutput}
	stderr := &cappedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	name := req.Name
	if name == "" {
		name = req.Binary
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, req.Binary, err)
		}
		return Result{}, fmt.Errorf("starting %s: %w", name, err)
	}

	r.logger.Debug("process started", "name", name, "pid", cmd.Process.Pid, "args", req.Args)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		timedOut = true
		waitErr = r.killGroup(name, cmd.Process.Pid, done)
	}

	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case timedOut:
		r.logger.Warn("process timed out", "name", name, "timeout", timeout)
		return res, fmt.Errorf("%w: %s after %s: %w", ErrTimeout, name, timeout, runCtx.Err())
	case errors.Is(waitErr, exec.ErrWaitDelay):
		r.logger.Warn("process left output pipes open", "name", name, "pid", cmd.Process.Pid)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("%w: %s exited %d: %s", ErrExitStatus, name, res.ExitCode, tail(res.Stderr))
		}
		return res, fmt.Errorf("waiting for %s: %w", name, waitErr)
	}

	r.logger.Debug("process finished", "name", name, "duration", res.Duration)
	return res, nil
}

// killGroup sends SIGTERM to the process group, escalates to SIGKILL after
// the grace period and returns the Wait error.
func (r *Runner) killGroup(name string, pid int, done <-chan error) error {
	// Negative PID signals the whole group created via Setpgid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Warn("failed to send SIGTERM to process group", "name", name, "error", err)
	}

	select {
	case err := <-done:
		return err
	case <-time.After(r.gracePeriod):
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Error("failed to kill process group", "name", name, "error", err)
	}
	return <-done
}

// tail returns the last line of s, trimmed, for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
// exec copies each stream from its own goroutine, so writes are locked.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
