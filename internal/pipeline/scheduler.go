package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/gated/internal/classify"
	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/logging"
)

// Scheduler owns the ordered execution of stages for one trigger. It asks
// the admitter for a concurrency slot, runs stages through the Runner,
// assembles the RunReport, and hands it back to the admitter.
//
// Stage execution order is always the declared configuration order,
// regardless of mode, so identical configurations produce reproducible
// reports.
type Scheduler struct {
	cfg      config.PipelineConfig
	runner   Runner
	admitter Admitter
	logger   *logging.Logger

	notifier Notifier
	metrics  *Metrics
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg config.PipelineConfig, runner Runner, admitter Admitter, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		admitter: admitter,
		logger:   logger.Named("scheduler"),
	}
}

// SetNotifier registers a best-effort notification sink.
func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetMetrics registers run/stage metrics.
func (s *Scheduler) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Execute runs the given stages synchronously and returns the report.
// Admission errors (registry at capacity) are returned before any stage
// starts; per-stage failures never surface as errors, they are data in the
// report.
func (s *Scheduler) Execute(ctx context.Context, trigger classify.Trigger, cctx classify.Context, stages []config.StageSpec, env map[string]string) (*RunReport, error) {
	id, err := s.admitter.Admit(trigger)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, id, trigger, cctx, stages, env), nil
}

// Start admits a run and executes it asynchronously, returning the run id
// immediately. Used by the webhook gateway so external callers are never
// blocked on the full run.
func (s *Scheduler) Start(trigger classify.Trigger, cctx classify.Context, stages []config.StageSpec, env map[string]string) (string, error) {
	id, err := s.admitter.Admit(trigger)
	if err != nil {
		return "", err
	}
	// Detached from the request context on purpose: the run outlives the
	// HTTP exchange that admitted it.
	go s.run(context.Background(), id, trigger, cctx, stages, env)
	return id, nil
}

func (s *Scheduler) run(ctx context.Context, id string, trigger classify.Trigger, cctx classify.Context, stages []config.StageSpec, env map[string]string) *RunReport {
	ctx = logging.WithRunID(ctx, id)

	if s.metrics != nil {
		s.metrics.ActiveRuns.Inc()
		defer s.metrics.ActiveRuns.Dec()
	}

	s.logger.Info(ctx, "run started",
		zap.String("trigger", string(trigger)),
		zap.String("mode", s.cfg.Mode),
		zap.Int("stages", len(stages)),
	)

	report := &RunReport{
		ID:        id,
		Trigger:   trigger,
		Context:   cctx,
		StartedAt: time.Now().UTC(),
	}

	runEnv := map[string]string{
		"GATED_RUN_ID":  id,
		"GATED_TRIGGER": string(trigger),
	}
	for k, v := range env {
		runEnv[k] = v
	}

	if s.cfg.Mode == config.ModeParallel {
		report.Stages = s.runParallel(ctx, stages, runEnv)
	} else {
		report.Stages = s.runSequential(ctx, stages, runEnv)
	}

	report.FinishedAt = time.Now().UTC()
	report.finalize()

	s.admitter.Complete(id, report)

	if s.metrics != nil {
		s.metrics.ObserveRun(report)
	}

	s.logger.Info(ctx, "run finished",
		zap.Bool("success", report.OverallSuccess),
		zap.Int("critical_failures", report.CriticalFailures),
		zap.Int("warnings", report.Warnings),
		zap.Duration("duration", report.Duration()),
	)

	if s.cfg.ReportDir != "" {
		if err := WriteReport(s.cfg.ReportDir, report); err != nil {
			s.logger.Warn(ctx, "failed to write audit report", zap.Error(err))
		}
	}

	// Best-effort: the notifier detaches its own goroutines and logs
	// delivery failures. It must never change the run outcome.
	if s.notifier != nil {
		s.notifier.Notify(report)
	}

	return report
}

// runSequential executes stages in declared order, stopping at the first
// failed critical stage. Remaining stages are recorded as skipped.
func (s *Scheduler) runSequential(ctx context.Context, stages []config.StageSpec, env map[string]string) []StageResult {
	results := make([]StageResult, 0, len(stages))
	blocked := false

	for _, spec := range stages {
		if blocked {
			results = append(results, skippedResult(spec))
			continue
		}

		res := s.runStage(ctx, spec, env)
		results = append(results, res)

		if spec.Critical && !res.Success {
			blocked = true
			s.logger.Warn(ctx, "critical stage failed, skipping remaining stages",
				zap.String("stage", spec.Name),
				zap.Int("exit_code", res.ExitCode),
			)
		}
	}

	return results
}

// runParallel executes up to MaxConcurrentStages stages at once. All stages
// run to completion so every failure is observed before the run concludes;
// results are reassembled in declared order.
func (s *Scheduler) runParallel(ctx context.Context, stages []config.StageSpec, env map[string]string) []StageResult {
	results := make([]StageResult, len(stages))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentStages)

	for i, spec := range stages {
		g.Go(func() error {
			results[i] = s.runStage(ctx, spec, env)
			return nil
		})
	}

	// Stage failures are data, never errors; Wait only synchronizes.
	_ = g.Wait()

	return results
}

func (s *Scheduler) runStage(ctx context.Context, spec config.StageSpec, env map[string]string) StageResult {
	stageCtx := logging.WithStage(ctx, spec.Name)

	s.logger.Debug(stageCtx, "stage starting", zap.Duration("timeout", spec.Timeout.Duration()))

	res := s.runner.Run(stageCtx, spec, env)

	if s.metrics != nil {
		s.metrics.ObserveStage(res)
	}

	s.logger.Info(stageCtx, "stage finished",
		zap.Bool("success", res.Success),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("duration_ms", res.DurationMS),
	)

	return res
}

func skippedResult(spec config.StageSpec) StageResult {
	return StageResult{
		Name:     spec.Name,
		Success:  false,
		Skipped:  true,
		Critical: spec.Critical,
	}
}
