// Package supervisor spawns and supervises one external validation
// program per stage.
//
// From the scheduler's point of view Run is a single blocking call; the
// supervisor owns the process lifecycle internally: environment overlay,
// capped output capture, the timeout timer, and the SIGTERM to SIGKILL
// escalation. A stage that cannot start is reported the same way as a
// stage that fails, never as an error that unwinds the scheduler.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/pipeline"
)

const (
	// DefaultMaxOutputBytes caps the captured stdout+stderr per stage.
	DefaultMaxOutputBytes = 1 << 20

	// DefaultGracePeriod is the window between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	truncationMarker = "\n... (output truncated)"
)

// Supervisor runs stage subprocesses.
type Supervisor struct {
	logger    *logging.Logger
	live      io.Writer
	maxOutput int
	grace     time.Duration
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLiveOutput tees stage output to w for operator visibility, in
// addition to the capped in-memory capture.
func WithLiveOutput(w io.Writer) Option {
	return func(s *Supervisor) { s.live = w }
}

// WithMaxOutputBytes overrides the capture cap.
func WithMaxOutputBytes(n int) Option {
	return func(s *Supervisor) { s.maxOutput = n }
}

// WithGracePeriod overrides the SIGTERM to SIGKILL window.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// New creates a supervisor.
func New(logger *logging.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Supervisor{
		logger:    logger.Named("supervisor"),
		maxOutput: DefaultMaxOutputBytes,
		grace:     DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one stage and blocks until it exits or its deadline fires.
//
// The environment overlay is applied over the parent environment; every
// stage additionally receives a unique VALIDATION_ID for correlation and
// GATED_STAGE with its own name.
func (s *Supervisor) Run(ctx context.Context, spec config.StageSpec, overlay map[string]string) pipeline.StageResult {
	result := pipeline.StageResult{
		Name:     spec.Name,
		Critical: spec.Critical,
	}

	buf := newCappedBuffer(s.maxOutput)
	// A single writer value for both streams: os/exec then shares one
	// pipe, so no concurrent writes reach the buffer.
	var sink io.Writer = buf
	if s.live != nil {
		sink = io.MultiWriter(buf, s.live)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Stdout = sink
	cmd.Stderr = sink

	validationID := uuid.NewString()
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"VALIDATION_ID="+validationID,
		"GATED_STAGE="+spec.Name,
	)
	cmd.Env = env

	start := time.Now()

	if err := cmd.Start(); err != nil {
		// Executable missing or not permitted: contained, not propagated.
		result.ExitCode = pipeline.ExitCodeStartFailure
		result.Output = fmt.Sprintf("failed to start %s: %v", spec.Command[0], err)
		s.logger.Warn(ctx, "stage failed to start",
			zap.String("command", spec.Command[0]),
			zap.Error(err),
		)
		return result
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(spec.Timeout.Duration())
	defer timer.Stop()

	timedOut := false
	select {
	case err := <-done:
		result.ExitCode = exitCode(err)
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		timedOut = true
	}

	if timedOut {
		s.terminate(ctx, cmd, done)
		result.ExitCode = pipeline.ExitCodeTimeout
		s.logger.Warn(ctx, "stage timed out",
			zap.String("stage", spec.Name),
			zap.Duration("timeout", spec.Timeout.Duration()),
		)
	}

	result.DurationMS = time.Since(start).Milliseconds()
	result.Success = result.ExitCode == 0
	result.Output = buf.String()

	return result
}

// terminate sends SIGTERM, waits out the grace period, then kills.
func (s *Supervisor) terminate(ctx context.Context, cmd *exec.Cmd, done <-chan error) {
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(s.grace):
	}

	s.logger.Warn(ctx, "stage ignored SIGTERM, killing", zap.Int("pid", cmd.Process.Pid))
	_ = cmd.Process.Kill()
	<-done
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return pipeline.ExitCodeStartFailure
}
