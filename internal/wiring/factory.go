// Package wiring assembles the concrete collaborators cmd/swarm needs
// from a loaded SwarmConfig: the worker factory the pool drives, the
// provider registry, and the shared economics every worker's tracker
// reports into. This is the run.go-style construction glue the teacher
// keeps inline in its run command; pulled into its own package here
// because cmd/swarm has several entry points (run, plan, audit) that
// all need the same pieces.
package wiring

import (
	"time"

	"github.com/coreswarm/swarm/internal/agentstate"
	"github.com/coreswarm/swarm/internal/approval"
	"github.com/coreswarm/swarm/internal/budget"
	"github.com/coreswarm/swarm/internal/circuitbreaker"
	"github.com/coreswarm/swarm/internal/config"
	"github.com/coreswarm/swarm/internal/loopdetect"
	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/plan"
	"github.com/coreswarm/swarm/internal/provider"
	"github.com/coreswarm/swarm/internal/tools"
	"github.com/coreswarm/swarm/internal/verify"
	"github.com/coreswarm/swarm/internal/worker"
)

// ModelBinary maps a model id to the CLI binary that serves it, the
// generalized form of the teacher's single ConductorRepoRoot/claude
// binary path.
type ModelBinary struct {
	Model      string
	BinaryPath string
}

// Factory builds a pool.WorkerFactory (and satisfies it directly) from
// a SwarmConfig and a set of model binaries, wrapping every provider in
// a circuit breaker per §4.11.
type Factory struct {
	cfg      *config.SwarmConfig
	binaries map[string]ModelBinary
	breakers map[string]*circuitbreaker.Breaker
	shared   *budget.SharedEconomics
	plan     *plan.Manager
	planMode func() bool
	workDir  string
}

// New constructs a Factory. shared may be nil to disable cross-worker
// doom-loop detection; planManager may be nil to disable plan-mode tool
// interception entirely.
func New(cfg *config.SwarmConfig, binaries []ModelBinary, workDir string, shared *budget.SharedEconomics, planManager *plan.Manager, planMode func() bool) *Factory {
	byModel := make(map[string]ModelBinary, len(binaries))
	breakers := make(map[string]*circuitbreaker.Breaker, len(binaries))
	for _, b := range binaries {
		byModel[b.Model] = b
		breakers[b.Model] = circuitbreaker.New(circuitbreaker.Config{
			Name:             b.Model,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		})
	}
	return &Factory{cfg: cfg, binaries: byModel, breakers: breakers, shared: shared, plan: planManager, planMode: planMode, workDir: workDir}
}

// BuildProvider returns a circuit-breaker-wrapped CLI provider for
// modelID, falling back to subtask.PreferredModel's binary when modelID
// is empty.
func (f *Factory) BuildProvider(subtask models.Subtask, modelID string) provider.Provider {
	if modelID == "" {
		modelID = subtask.PreferredModel
	}
	bin, ok := f.binaries[modelID]
	if !ok {
		for _, b := range f.binaries {
			bin = b
			break
		}
	}
	base := provider.NewCLIProvider(bin.Model, bin.BinaryPath, 5*time.Minute)
	breaker := f.breakers[bin.Model]
	if breaker == nil {
		return base
	}
	return provider.WrapWithBreaker(base, breaker)
}

// BuildBudget constructs a fresh per-worker Tracker against the
// configured budget limits and the shared economics, if any.
func (f *Factory) BuildBudget(workerID string) *budget.Tracker {
	return budget.NewTracker(workerID, budget.Limits{
		MaxTokens:         f.cfg.Budget.MaxTokens,
		MaxIterations:     f.cfg.Budget.MaxIterations,
		DoomLoopThreshold: f.cfg.Budget.DoomLoopThreshold,
	}, f.shared)
}

// BuildState constructs a fresh agent state machine.
func (f *Factory) BuildState() *agentstate.Machine {
	return agentstate.New(agentstate.Thresholds{})
}

// BuildLoopDetector constructs a fresh loop detector from the
// configured exact/fuzzy thresholds.
func (f *Factory) BuildLoopDetector() *loopdetect.Detector {
	return loopdetect.New(loopdetect.Config{
		ExactThreshold:        f.cfg.LoopDetect.ExactThreshold,
		FuzzyThreshold:        f.cfg.LoopDetect.FuzzyThreshold,
		SummaryLoopThreshold:  f.cfg.LoopDetect.SummaryLoopTurns,
		BashCascadeThreshold:  f.cfg.LoopDetect.BashCascadeFailures,
		TestFixCycleThreshold: 2,
	})
}

// BuildApproval constructs the approval scope from the configured
// require/auto-approve lists and risk threshold.
func (f *Factory) BuildApproval() *approval.Scope {
	threshold := approval.ThresholdModerate
	if f.cfg.Approval.RiskThreshold == "high" {
		threshold = approval.ThresholdHigh
	}
	return approval.New(approval.Config{
		RequireApproval: f.cfg.Approval.RequireApproval,
		AutoApprove:     f.cfg.Approval.AutoApprove,
		Threshold:       threshold,
		RiskClassifier: map[string]approval.RiskLevel{
			"bash":       approval.RiskDangerous,
			"write_file": approval.RiskModerate,
			"edit_file":  approval.RiskModerate,
		},
	})
}

// BuildVerify constructs the opt-in verification gate from the
// configured verification criteria, or nil when the configuration sets
// none. The criteria are the same for every subtask.
func (f *Factory) BuildVerify(subtask models.Subtask) *verify.Gate {
	if len(f.cfg.Verify.RequiredTests) == 0 && !f.cfg.Verify.RequireFileChanges && !f.cfg.Verify.RequireCompilation {
		return nil
	}
	return verify.New(verify.Criteria{
		RequiredTests:      f.cfg.Verify.RequiredTests,
		RequireFileChanges: f.cfg.Verify.RequireFileChanges,
		RequireCompilation: f.cfg.Verify.RequireCompilation,
		MaxAttempts:        f.cfg.Verify.MaxNudges,
	})
}

// Tools returns the shared tool executor, rooted at workDir and wired
// to intercept mutating calls into the pending plan when planMode
// reports true.
func (f *Factory) Tools() worker.ToolExecutor {
	ex := tools.New(f.workDir)
	ex.Plan = f.plan
	ex.PlanMode = f.planMode
	return ex
}

// Prompter returns nil: an unattended run has no human to prompt, so
// any tool call requiring approval fails closed (worker.runTool's
// "no prompter configured" path).
func (f *Factory) Prompter() worker.ApprovalPrompter { return nil }

// Judge returns nil: no quality judge is wired by default. A
// deployment that wants judge-scored quality gating supplies one via
// its own Factory wrapping this one.
func (f *Factory) Judge() worker.Judge { return nil }
