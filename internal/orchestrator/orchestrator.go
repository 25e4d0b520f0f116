// Package orchestrator implements the swarm orchestrator (C13): the
// end-to-end pipeline that decomposes a goal, partitions it into
// waves, drives the worker pool through each wave, applies the quality
// and verification gates, enforces orchestrator-level budgets, reacts
// to a global doom loop reported by shared economics, and records every
// consequential step to the audit ledger. It is the orchestrator.go /
// wave.go analogue of the teacher's executor package, generalized from
// a fixed markdown plan to a goal the orchestrator decomposes itself.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coreswarm/swarm/internal/audit"
	"github.com/coreswarm/swarm/internal/budget"
	"github.com/coreswarm/swarm/internal/corekit"
	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/pool"
	"github.com/coreswarm/swarm/internal/swarmlog"
)

// Decomposer turns a goal into a flat subtask list using the
// orchestrator model. Implementations typically wrap a provider.Provider
// call that returns JSON, parsed into []models.Subtask.
type Decomposer interface {
	Decompose(ctx context.Context, goal models.Goal) ([]models.Subtask, error)
}

// WaveReviewer is the optional external reviewer consulted after a wave
// completes (§4.12 step 4, "after each wave, optional review"). A
// reviewer that finds the wave unacceptable returns ok=false with a
// human-readable reason; the orchestrator logs it but does not itself
// decide what to do with a failed review beyond recording it — that
// policy lives with the caller supplying the Reviewer.
type WaveReviewer interface {
	Review(ctx context.Context, wave models.Wave, outcomes []pool.TaskOutcome) (ok bool, reason string)
}

// Budgets are the orchestrator-level limits distinct from any single
// worker's PerWorkerBudget: the swarm-wide ceiling on tokens, cost, and
// wall-clock duration. Run checks them after each wave completes; once
// one is exceeded it cancels the parent cancellation token, so later
// waves dispatch no new subtasks. Budgets are not checked while a wave
// is running, so they never interrupt that wave's workers.
type Budgets struct {
	MaxTotalTokens int64
	MaxCost        float64
	MaxDuration    time.Duration
}

// Config configures an Orchestrator.
type Config struct {
	Decomposer           Decomposer
	Pool                 *pool.Pool
	Ledger               *audit.Ledger
	Logger               swarmlog.Logger
	Reviewer             WaveReviewer // optional
	Shared               *budget.SharedEconomics // optional; enables global doom-loop pausing
	Budgets              Budgets
	DecompositionRetries int           // extra attempts beyond the first; default 1
	GlobalLoopPause      time.Duration // default 30s
}

// Orchestrator drives one goal from decomposition through completion.
// Construct one per swarm run; it holds no state shared across runs
// beyond its injected collaborators (pool, ledger, logger), all of
// which are explicit dependencies per §9's "no global mutable state".
type Orchestrator struct {
	cfg Config
}

// New constructs an Orchestrator, applying Config defaults for zero
// fields.
func New(cfg Config) *Orchestrator {
	if cfg.DecompositionRetries <= 0 {
		cfg.DecompositionRetries = 1
	}
	if cfg.GlobalLoopPause <= 0 {
		cfg.GlobalLoopPause = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = swarmlog.NullLogger{}
	}
	return &Orchestrator{cfg: cfg}
}

// Result is Run's return value: the full decomposition, every wave's
// outcomes, and the aggregate accounting the caller needs to report a
// summary.
type Result struct {
	SessionID     string
	Subtasks      []models.Subtask
	Waves         []models.Wave
	Outcomes      []pool.TaskOutcome
	TotalTokens   int64
	TotalCost     float64
	Duration      time.Duration
	Success       bool
	FailureReason string
}

// Run executes the full pipeline for goal: decompose, plan waves,
// dispatch each wave through the pool, apply gates, enforce budgets,
// and react to global doom loops, recording every step to the audit
// ledger and emitting the full swarm.* event stream.
func (o *Orchestrator) Run(ctx context.Context, goal models.Goal) (*Result, error) {
	sessionID := goal.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	start := time.Now()

	o.cfg.Ledger.LogSessionStart(sessionID)
	o.log(swarmlog.EventSwarmStart, "swarm run starting", map[string]any{"sessionID": sessionID, "goal": goal.Text})

	result := &Result{SessionID: sessionID}

	subtasks, err := o.decomposeWithRetry(ctx, goal)
	if err != nil {
		return o.fail(sessionID, result, start, fmt.Errorf("decomposition: %w", err))
	}
	result.Subtasks = subtasks

	waves, err := models.BuildWaves(subtasks)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, models.ErrCyclicDependency) {
			reason = "dependency cycle detected: " + reason
		}
		return o.fail(sessionID, result, start, fmt.Errorf("%w: %s", corekit.ErrValidation, reason))
	}
	result.Waves = waves

	subtaskMap := make(map[string]models.Subtask, len(subtasks))
	for _, s := range subtasks {
		subtaskMap[s.ID] = s
	}

	parentToken := corekit.NewToken()
	var budgetTripped string
	var pauseNextWave bool
	completed := make(map[string]bool)
	failed := make(map[string]bool)

	for _, wave := range waves {
		if parentToken.IsCancellationRequested() {
			o.skipRemaining(result, wave, "orchestrator cancelled: "+parentToken.CancellationReason())
			continue
		}

		if pauseNextWave {
			o.pauseForGlobalLoop(ctx, parentToken)
			pauseNextWave = false
		}

		skip := o.skipMap(wave, subtaskMap, failed)

		o.log(swarmlog.EventWaveStart, fmt.Sprintf("wave %d starting", wave.Index), map[string]any{"wave": wave.Index, "subtasks": wave.SubtaskIDs})
		waveStart := time.Now()

		o.cfg.Pool.NewWave()
		outcomes := o.cfg.Pool.ExecuteWave(ctx, parentToken, sessionID, subtaskMap, wave, skip)
		result.Outcomes = append(result.Outcomes, outcomes...)

		for _, outcome := range outcomes {
			o.recordOutcome(sessionID, outcome, completed, failed, result)
			if o.reportsGlobalDoomLoop(outcome) {
				pauseNextWave = true
			}
		}

		o.log(swarmlog.EventWaveComplete, fmt.Sprintf("wave %d complete", wave.Index), map[string]any{"wave": wave.Index, "duration": time.Since(waveStart).String()})

		if o.cfg.Reviewer != nil {
			if ok, reason := o.cfg.Reviewer.Review(ctx, wave, outcomes); !ok {
				o.log(swarmlog.EventOrchestratorDecision, "wave review raised a concern", map[string]any{"wave": wave.Index, "reason": reason})
			}
		}

		if reason, tripped := o.checkBudgets(result, time.Since(start)); tripped {
			budgetTripped = reason
			parentToken.Cancel(reason)
			o.log(swarmlog.EventBudgetUpdate, "orchestrator budget exceeded, cancelling remaining work", map[string]any{"reason": reason})
		}
	}

	result.Duration = time.Since(start)
	result.Success = budgetTripped == "" && len(failed) == 0

	o.cfg.Ledger.LogSessionEnd(sessionID)
	if result.Success {
		o.log(swarmlog.EventSwarmComplete, "swarm run complete", map[string]any{"sessionID": sessionID, "totalTokens": result.TotalTokens})
		return result, nil
	}

	reason := budgetTripped
	if reason == "" {
		reason = fmt.Sprintf("%d subtask(s) failed", len(failed))
	}
	result.FailureReason = reason
	o.log(swarmlog.EventSwarmError, "swarm run finished with failures", map[string]any{"sessionID": sessionID, "reason": reason})
	return result, nil
}

// decomposeWithRetry calls the decomposer, retrying once on a parse
// failure with the original goal (the decomposer is responsible for
// feeding the retry any corrective context it needs), per §4.12 step 1
// and §7's ParseError row ("one retry with explicit error feedback;
// second failure → fatal").
func (o *Orchestrator) decomposeWithRetry(ctx context.Context, goal models.Goal) ([]models.Subtask, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.DecompositionRetries; attempt++ {
		subtasks, err := o.cfg.Decomposer.Decompose(ctx, goal)
		if err == nil {
			if verr := models.ValidateSubtasks(subtasks); verr != nil {
				lastErr = verr
				continue
			}
			return subtasks, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", corekit.ErrParse, lastErr)
}

func (o *Orchestrator) skipMap(wave models.Wave, subtasks map[string]models.Subtask, failed map[string]bool) map[string]string {
	skip := make(map[string]string)
	for _, id := range wave.SubtaskIDs {
		for _, dep := range subtasks[id].Dependencies {
			if failed[dep] {
				skip[id] = fmt.Sprintf("dependency %s failed", dep)
				break
			}
		}
	}
	return skip
}

func (o *Orchestrator) skipRemaining(result *Result, wave models.Wave, reason string) {
	for _, id := range wave.SubtaskIDs {
		outcome := pool.TaskOutcome{SubtaskID: id, Outcome: models.OutcomeSkipped, SkipReason: reason}
		result.Outcomes = append(result.Outcomes, outcome)
		o.log(swarmlog.EventTaskSkipped, "subtask skipped after cancellation", map[string]any{"subtaskID": id, "reason": reason})
	}
}

func (o *Orchestrator) recordOutcome(sessionID string, outcome pool.TaskOutcome, completed, failed map[string]bool, result *Result) {
	for _, a := range outcome.Attempts {
		result.TotalTokens += a.TokensIn + a.TokensOut
		result.TotalCost += a.Cost
	}

	switch outcome.Outcome {
	case models.OutcomeSuccess:
		completed[outcome.SubtaskID] = true
		o.cfg.Ledger.LogActionExecuted(sessionID, outcome.SubtaskID, "subtask.complete", map[string]any{"attempts": len(outcome.Attempts)}, "", nil)
		o.log(swarmlog.EventTaskCompleted, "subtask completed", map[string]any{"subtaskID": outcome.SubtaskID, "attempts": len(outcome.Attempts)})
	case models.OutcomeSkipped:
		o.log(swarmlog.EventTaskSkipped, "subtask skipped", map[string]any{"subtaskID": outcome.SubtaskID, "reason": outcome.SkipReason})
	default:
		failed[outcome.SubtaskID] = true
		o.cfg.Ledger.LogActionRequested(sessionID, outcome.SubtaskID, "subtask.failed", map[string]any{"outcome": string(outcome.Outcome)})
		o.log(swarmlog.EventTaskFailed, "subtask failed", map[string]any{"subtaskID": outcome.SubtaskID, "outcome": string(outcome.Outcome)})
	}
}

// checkBudgets reports whether the orchestrator-level budgets
// (distinct from any worker's own token budget) have been exceeded.
func (o *Orchestrator) checkBudgets(result *Result, elapsed time.Duration) (reason string, tripped bool) {
	b := o.cfg.Budgets
	if b.MaxTotalTokens > 0 && result.TotalTokens >= b.MaxTotalTokens {
		return fmt.Sprintf("total token budget exceeded (%d >= %d)", result.TotalTokens, b.MaxTotalTokens), true
	}
	if b.MaxCost > 0 && result.TotalCost >= b.MaxCost {
		return fmt.Sprintf("total cost budget exceeded (%.2f >= %.2f)", result.TotalCost, b.MaxCost), true
	}
	if b.MaxDuration > 0 && elapsed >= b.MaxDuration {
		return fmt.Sprintf("total duration budget exceeded (%s >= %s)", elapsed, b.MaxDuration), true
	}
	return "", false
}

// pauseForGlobalLoop implements §4.12 step 6: emit swarm.circuit.open,
// pause dispatch for GlobalLoopPause (or until the run is cancelled,
// whichever is first), then emit swarm.circuit.closed and resume.
func (o *Orchestrator) pauseForGlobalLoop(ctx context.Context, token *corekit.Token) {
	o.log(swarmlog.EventCircuitOpen, "global doom loop detected across workers, pausing dispatch", map[string]any{"pauseMs": o.cfg.GlobalLoopPause.Milliseconds()})

	timer := time.NewTimer(o.cfg.GlobalLoopPause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-token.Done():
	}

	o.log(swarmlog.EventCircuitClosed, "resuming dispatch after global doom loop pause", nil)
}

func (o *Orchestrator) fail(sessionID string, result *Result, start time.Time, err error) (*Result, error) {
	result.Duration = time.Since(start)
	result.FailureReason = err.Error()
	o.cfg.Ledger.LogSessionEnd(sessionID)
	o.log(swarmlog.EventSwarmError, "swarm run failed before dispatch", map[string]any{"sessionID": sessionID, "reason": err.Error()})
	return result, err
}

func (o *Orchestrator) log(t swarmlog.Type, message string, fields map[string]any) {
	o.cfg.Logger.Log(swarmlog.New(t, message, fields))
}

// reportsGlobalDoomLoop reports whether outcome failed on a budget
// check that shared economics confirms is a genuine cross-worker doom
// loop, so the orchestrator knows to pause dispatch before the next
// wave per §4.12 step 6. A bare "budget_exceeded" outcome is ambiguous
// on its own — it also covers a single worker's own token or iteration
// ceiling — so this cross-checks the shared fingerprint map rather than
// trusting the outcome string alone.
func (o *Orchestrator) reportsGlobalDoomLoop(outcome pool.TaskOutcome) bool {
	if o.cfg.Shared == nil {
		return false
	}
	if !strings.Contains(string(outcome.Outcome), "budget_exceeded") {
		return false
	}
	return o.cfg.Shared.AnyGlobalDoomLoop()
}
