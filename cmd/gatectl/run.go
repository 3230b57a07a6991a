package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/classify"
	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/notify"
	"github.com/fyrsmithlabs/gated/internal/pipeline"
	"github.com/fyrsmithlabs/gated/internal/registry"
	"github.com/fyrsmithlabs/gated/internal/supervisor"
)

var (
	runConfigPath  string
	runTriggerName string
	runContextJSON string
	runStageNames  []string
	runDryRun      bool
	runVerbose     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the validation pipeline locally",
	Long: `Run the validation pipeline in the foreground and report a verdict.

The trigger selects which stages run:

  pre-commit, commit-msg   fast stages only
  post-commit              no stages, notification only (always exits 0)
  pre-push, push           all stages
  manual, deploy-*         all stages

Examples:
  # Full pipeline
  gatectl run --trigger manual

  # Fast checks only, as the pre-commit hook does
  gatectl run --trigger pre-commit

  # A specific subset, with live stage output
  gatectl run --trigger manual --stages lint,unit-tests --verbose`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to configuration file (default gated.yaml if present)")
	runCmd.Flags().StringVar(&runTriggerName, "trigger", "manual", "trigger name (manual, push, pre-commit, pre-push, post-commit, commit-msg, deploy-building, deploy-succeeded, deploy-failed)")
	runCmd.Flags().StringVar(&runContextJSON, "context", "", "event context as JSON (branch, commit_sha, ...)")
	runCmd.Flags().StringSliceVar(&runStageNames, "stages", nil, "run only the named stages")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the stage plan without executing")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "stream stage output while running")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}

	trigger, ok := classify.FromCLI(runTriggerName)
	if !ok {
		return fmt.Errorf("unknown trigger %q", runTriggerName)
	}

	cctx, err := buildContext(runTriggerName, runContextJSON)
	if err != nil {
		return err
	}

	stages, gating, err := selectStages(cfg, runTriggerName, runStageNames)
	if err != nil {
		return err
	}
	if len(stages) == 0 && gating {
		fmt.Println("no stages selected; nothing to do")
		return nil
	}

	if runDryRun {
		printPlan(cfg.Pipeline.Mode, stages)
		return nil
	}

	logger, err := cliLogger(runVerbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(cfg.Pipeline.MaxConcurrentRuns, cfg.Pipeline.HistorySize)

	var opts []supervisor.Option
	if runVerbose {
		opts = append(opts, supervisor.WithLiveOutput(os.Stderr))
	}
	runner := supervisor.New(logger, opts...)

	sched := pipeline.NewScheduler(cfg.Pipeline, runner, reg, logger)
	dispatcher := notify.New(cfg.Notify, logger)
	sched.SetNotifier(dispatcher)

	report, err := sched.Execute(ctx, trigger, cctx, stages, nil)
	if err != nil {
		if errors.Is(err, registry.ErrBusy) {
			return fmt.Errorf("orchestrator busy: another run is in progress")
		}
		return err
	}

	dispatcher.Wait()
	printReport(report)

	if !report.OverallSuccess && gating {
		return fmt.Errorf("%d critical failure(s)", report.CriticalFailures)
	}
	return nil
}

// loadConfig resolves the optional default config path the same way the
// daemon does.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat("gated.yaml"); err == nil {
			path = "gated.yaml"
		}
	}
	return config.Load(path)
}

// buildContext parses the --context JSON and records hook triggers in the
// context reason so reports show which hook initiated the run.
func buildContext(triggerName, raw string) (classify.Context, error) {
	var cctx classify.Context
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &cctx); err != nil {
			return classify.Context{}, fmt.Errorf("invalid --context JSON: %w", err)
		}
	}
	if cctx.Reason == "" && isHookTrigger(triggerName) {
		cctx.Reason = triggerName + " hook"
	}
	return cctx, nil
}

func isHookTrigger(name string) bool {
	switch name {
	case "pre-commit", "pre-push", "post-commit", "commit-msg":
		return true
	}
	return false
}

// selectStages maps the trigger name to its stage subset. The returned
// gating flag is false when failures must not block the git operation.
func selectStages(cfg *config.Config, triggerName string, names []string) ([]config.StageSpec, bool, error) {
	if len(names) > 0 {
		stages, err := cfg.SelectStages(names)
		return stages, true, err
	}

	switch triggerName {
	case "pre-commit", "commit-msg":
		return cfg.FastStages(), true, nil
	case "post-commit":
		// The commit already exists, nothing left to gate: run no stages,
		// just dispatch the notification.
		return nil, false, nil
	default:
		return cfg.Stages, true, nil
	}
}

func printPlan(mode string, stages []config.StageSpec) {
	fmt.Printf("Plan (%s):\n", mode)
	for i, s := range stages {
		kind := "advisory"
		if s.Critical {
			kind = "critical"
		}
		fmt.Printf("  %d. %-20s %-9s timeout %s\n", i+1, s.Name, kind, s.Timeout.Duration())
	}
}

func printReport(report *pipeline.RunReport) {
	fmt.Printf("\nRun %s (%s)\n", report.ID, report.Trigger)
	for _, res := range report.Stages {
		fmt.Printf("  %s %-20s %s\n", stageMark(res), res.Name, stageDetail(res))
	}

	fmt.Println()
	if report.OverallSuccess {
		fmt.Printf("PASSED - safe to proceed (%d warning(s), %s)\n",
			report.Warnings, report.Duration().Round(time.Millisecond))
	} else {
		fmt.Printf("FAILED - %d critical failure(s)\n", report.CriticalFailures)
	}
}

func stageMark(res pipeline.StageResult) string {
	switch {
	case res.Skipped:
		return "-"
	case res.Success:
		return "✓"
	case res.Critical:
		return "✗"
	default:
		return "!"
	}
}

func stageDetail(res pipeline.StageResult) string {
	if res.Skipped {
		return "skipped"
	}

	detail := fmt.Sprintf("%dms", res.DurationMS)
	if res.Success {
		return detail
	}

	switch res.ExitCode {
	case pipeline.ExitCodeTimeout:
		detail += " timed out"
	case pipeline.ExitCodeStartFailure:
		detail += " failed to start"
	default:
		detail += fmt.Sprintf(" exit %d", res.ExitCode)
	}
	if !res.Critical {
		detail += " (advisory)"
	}

	if out := strings.TrimSpace(res.Output); out != "" && !runVerbose {
		lines := strings.Split(out, "\n")
		if len(lines) > 5 {
			lines = append(lines[:5], "...")
		}
		detail += "\n      " + strings.Join(lines, "\n      ")
	}
	return detail
}

// cliLogger keeps structured logs out of the way of the human-readable
// summary unless verbose is set.
func cliLogger(verbose bool) (*logging.Logger, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logging.NewLogger(&logging.Config{Level: level, Format: "console"})
}
