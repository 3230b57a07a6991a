// Package pipeline owns the run data model and the stage scheduler.
package pipeline

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/gated/internal/classify"
	"github.com/fyrsmithlabs/gated/internal/config"
)

// Sentinel exit codes for stages that produced no real process exit code.
const (
	// ExitCodeStartFailure marks a stage whose process could not be started.
	ExitCodeStartFailure = -1

	// ExitCodeTimeout marks a stage killed on deadline.
	ExitCodeTimeout = -2
)

// StageResult captures the outcome of one stage execution. Created by the
// supervisor, folded into a RunReport by the scheduler, then read-only.
type StageResult struct {
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Critical   bool   `json:"critical"`
}

// RunReport is the immutable record of one end-to-end run. Written once to
// the registry, then read-only.
type RunReport struct {
	ID               string           `json:"id"`
	Trigger          classify.Trigger `json:"trigger"`
	Context          classify.Context `json:"context"`
	Stages           []StageResult    `json:"stage_results"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	CriticalFailures int              `json:"critical_failure_count"`
	Warnings         int              `json:"warning_count"`
	OverallSuccess   bool             `json:"overall_success"`
}

// finalize derives the verdict fields from stage results. Skipped stages
// count neither as failures nor as warnings.
func (r *RunReport) finalize() {
	r.CriticalFailures = 0
	r.Warnings = 0
	for _, s := range r.Stages {
		if s.Skipped || s.Success {
			continue
		}
		if s.Critical {
			r.CriticalFailures++
		} else {
			r.Warnings++
		}
	}
	r.OverallSuccess = r.CriticalFailures == 0
}

// Duration returns the wall-clock duration of the run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FirstCriticalFailure returns the first failed critical stage, or nil.
func (r *RunReport) FirstCriticalFailure() *StageResult {
	for i := range r.Stages {
		s := &r.Stages[i]
		if s.Critical && !s.Success && !s.Skipped {
			return s
		}
	}
	return nil
}

// FirstFailure returns the first failed stage of any kind, or nil.
func (r *RunReport) FirstFailure() *StageResult {
	for i := range r.Stages {
		s := &r.Stages[i]
		if !s.Success && !s.Skipped {
			return s
		}
	}
	return nil
}

// Runner executes a single stage as a subprocess and reports its outcome.
// The call blocks until the process exits or its timeout fires; the runner
// owns all concurrency around process I/O, so the scheduler's control flow
// stays synchronous.
type Runner interface {
	Run(ctx context.Context, spec config.StageSpec, env map[string]string) StageResult
}

// Admitter gates run creation and receives completed reports. Implemented
// by the registry.
type Admitter interface {
	Admit(trigger classify.Trigger) (string, error)
	Complete(id string, report *RunReport)
}

// Notifier delivers a completed report to external channels. Delivery is
// strictly best-effort: implementations must never block the scheduler or
// surface delivery errors back into the run outcome.
type Notifier interface {
	Notify(report *RunReport)
}
