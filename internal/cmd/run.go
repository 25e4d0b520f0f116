package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreswarm/swarm/internal/audit"
	"github.com/coreswarm/swarm/internal/budget"
	"github.com/coreswarm/swarm/internal/config"
	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/orchestrator"
	"github.com/coreswarm/swarm/internal/persistence"
	"github.com/coreswarm/swarm/internal/plan"
	"github.com/coreswarm/swarm/internal/pool"
	"github.com/coreswarm/swarm/internal/provider"
	"github.com/coreswarm/swarm/internal/quality"
	"github.com/coreswarm/swarm/internal/swarmlog"
	"github.com/coreswarm/swarm/internal/wiring"
)

// newRunCommand creates the run command: decompose goal, dispatch
// waves, print a summary.
func newRunCommand() *cobra.Command {
	var configPath string
	var workDir string
	var modelFlags []string
	var maxConcurrency int
	var timeout string
	var planMode bool
	var logFormat string

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Decompose a goal and execute it across a worker swarm",
		Long: `Decompose the given goal into subtasks, plan them into
dependency-respecting waves, and dispatch each wave to the worker pool.

Configuration is loaded from --config (default: .swarm/config.yaml if
present); CLI flags override configuration file settings.

Examples:
  swarm run "add input validation to the signup handler"
  swarm run --max-concurrency 2 --plan-mode "refactor the parser package"
  swarm run --model opus=/usr/local/bin/claude-opus "fix the flaky test"`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runCommand(c.Context(), args[0], runOptions{
				configPath:     configPath,
				workDir:        workDir,
				modelFlags:     modelFlags,
				maxConcurrency: maxConcurrency,
				timeout:        timeout,
				planMode:       planMode,
				logFormat:      logFormat,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", ".swarm/config.yaml", "path to config file")
	cmd.Flags().StringVar(&workDir, "work-dir", ".", "working directory subtasks operate within")
	cmd.Flags().StringArrayVar(&modelFlags, "model", nil, "model=binary-path pair; repeatable")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "override pool.max_concurrency (0 = use config)")
	cmd.Flags().StringVar(&timeout, "timeout", "", "override orchestrator.max_duration (e.g. 30m, 2h)")
	cmd.Flags().BoolVar(&planMode, "plan-mode", false, "queue mutating tool calls for approval instead of executing them")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "override log_format (console|jsonl)")

	return cmd
}

type runOptions struct {
	configPath     string
	workDir        string
	modelFlags     []string
	maxConcurrency int
	timeout        string
	planMode       bool
	logFormat      string
}

func runCommand(ctx context.Context, goalText string, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.maxConcurrency > 0 {
		cfg.Pool.MaxConcurrency = opts.maxConcurrency
	}
	if opts.timeout != "" {
		d, err := time.ParseDuration(opts.timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		cfg.Orchestrator.MaxDuration = d
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	binaries, err := parseModelFlags(opts.modelFlags)
	if err != nil {
		return err
	}
	if len(binaries) == 0 {
		binaries = []wiring.ModelBinary{{Model: "default", BinaryPath: "claude"}}
	}

	store, err := persistence.New(cfg.Persistence.DBPath)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer store.Close()

	ledger := audit.New(nil)
	planManager := plan.New()
	if opts.planMode {
		planManager.Start(goalText, "")
	}

	logger := buildLogger(cfg.LogFormat)

	shared := budget.NewSharedEconomics(budget.GlobalLoopThresholds{
		Count:   cfg.Budget.GlobalLoopCount,
		Workers: cfg.Budget.GlobalLoopWorkers,
	})

	factory := wiring.New(cfg, binaries, opts.workDir, shared, planManager, func() bool { return opts.planMode })

	health := orchestrator.NewModelHealth(&wiring.RoundRobinFailover{Models: modelNames(binaries)}, logger)

	p := pool.New(pool.Config{
		MaxConcurrency:    cfg.Pool.MaxConcurrency,
		DispatchStaggerMs: cfg.Pool.DispatchStaggerMs,
		MaxRetries:        cfg.Quality.WorkerRetries,
		Factory:           factory,
		Quality:           quality.New(quality.Config{QualityThreshold: cfg.Quality.Threshold, RejectionBreakerThreshold: cfg.Quality.RejectionCircuit}),
		AttemptTimeout:    cfg.Pool.AttemptTimeout,
		IdleTimeout:       cfg.Pool.IdleTimeout,
		Failover:          health,
		Logger:            logger,
		Ledger:            ledger,
	})

	decomposerProvider := provider.NewCLIProvider("orchestrator", binaries[0].BinaryPath, 2*time.Minute)
	decomposer := orchestrator.NewModelDecomposer(decomposerProvider, binaries[0].Model)

	orch := orchestrator.New(orchestrator.Config{
		Decomposer:           decomposer,
		Pool:                 p,
		Ledger:               ledger,
		Logger:               logger,
		Shared:               shared,
		Budgets: orchestrator.Budgets{
			MaxTotalTokens: cfg.Orchestrator.MaxTotalTokens,
			MaxCost:        cfg.Orchestrator.MaxCost,
			MaxDuration:    cfg.Orchestrator.MaxDuration,
		},
		DecompositionRetries: cfg.Orchestrator.DecompositionRetries,
		GlobalLoopPause:      cfg.Orchestrator.GlobalLoopPauseMs,
	})

	result, err := orch.Run(ctx, models.Goal{Text: goalText, WorkingDir: opts.workDir})
	if err != nil {
		return fmt.Errorf("swarm run: %w", err)
	}

	if saveErr := ledger.Save(ctx, store, result.SessionID); saveErr != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save audit ledger: %v\n", saveErr)
	}

	if opts.planMode {
		if saveErr := planManager.Save(ctx, store); saveErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save pending plan: %v\n", saveErr)
		} else if current, ok := planManager.Current(); ok && len(current.ProposedChanges) > 0 {
			fmt.Printf("\n%d change(s) pending approval under plan %s (swarm plan approve/reject)\n", len(current.ProposedChanges), current.ID)
		}
	}

	printSummary(result)
	if !result.Success {
		return fmt.Errorf("swarm run finished with failures: %s", result.FailureReason)
	}
	return nil
}

func parseModelFlags(flags []string) ([]wiring.ModelBinary, error) {
	binaries := make([]wiring.ModelBinary, 0, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --model %q, want name=binary-path", f)
		}
		binaries = append(binaries, wiring.ModelBinary{Model: parts[0], BinaryPath: parts[1]})
	}
	return binaries, nil
}

func modelNames(binaries []wiring.ModelBinary) []string {
	names := make([]string, len(binaries))
	for i, b := range binaries {
		names[i] = b.Model
	}
	return names
}

func buildLogger(format string) swarmlog.Logger {
	if format == "jsonl" {
		return swarmlog.NewJSONLLogger(os.Stdout)
	}
	return swarmlog.NewConsoleLogger(os.Stdout)
}

func printSummary(result *orchestrator.Result) {
	fmt.Printf("\nSwarm run summary\n")
	fmt.Printf("  Session:    %s\n", result.SessionID)
	fmt.Printf("  Subtasks:   %d\n", len(result.Subtasks))
	fmt.Printf("  Waves:      %d\n", len(result.Waves))
	fmt.Printf("  Tokens:     %d\n", result.TotalTokens)
	fmt.Printf("  Duration:   %s\n", result.Duration.Round(time.Second))
	if !result.Success {
		fmt.Printf("  Failure:    %s\n", result.FailureReason)
	}
}
