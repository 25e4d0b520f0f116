// Package pool dispatches a wave of subtasks with bounded parallelism,
// instantiating the per-attempt collaborators a worker needs (budget
// tracker, state machine, loop detector) and applying the quality gate
// to each completed attempt, with optional model failover on rejection.
// The wave barrier — waiting for every subtask in a wave to resolve
// before the next wave starts — is ExecuteWave's whole job; the caller
// (internal/orchestrator) drives waves one at a time.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coreswarm/swarm/internal/agentstate"
	"github.com/coreswarm/swarm/internal/approval"
	"github.com/coreswarm/swarm/internal/audit"
	"github.com/coreswarm/swarm/internal/budget"
	"github.com/coreswarm/swarm/internal/corekit"
	"github.com/coreswarm/swarm/internal/loopdetect"
	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/provider"
	"github.com/coreswarm/swarm/internal/quality"
	"github.com/coreswarm/swarm/internal/swarmlog"
	"github.com/coreswarm/swarm/internal/verify"
	"github.com/coreswarm/swarm/internal/worker"
)

// WorkerFactory builds the collaborators a single attempt needs.
// Implementations typically close over shared infrastructure (a
// SharedEconomics, an approval Scope, a provider registry) and return
// fresh per-attempt state every call — a Tracker and a Machine must
// never be reused across attempts.
type WorkerFactory interface {
	BuildProvider(subtask models.Subtask, modelID string) provider.Provider
	BuildBudget(workerID string) *budget.Tracker
	BuildState() *agentstate.Machine
	BuildLoopDetector() *loopdetect.Detector
	BuildApproval() *approval.Scope
	BuildVerify(subtask models.Subtask) *verify.Gate
	Tools() worker.ToolExecutor
	Prompter() worker.ApprovalPrompter
	Judge() worker.Judge
}

// ModelFailover picks the next model to try after a rejected attempt.
// It returns ok=false when there is nothing left to fail over to.
type ModelFailover interface {
	Next(subtask models.Subtask, triedModels []string) (modelID string, ok bool)
}

// Config configures a Pool.
type Config struct {
	MaxConcurrency    int
	DispatchStaggerMs time.Duration
	MaxRetries        int // per-subtask retry budget, independent of model failover
	Factory           WorkerFactory
	Quality           *quality.Gate
	Failover          ModelFailover
	AttemptTimeout    time.Duration // hard ceiling per attempt; default 10 minutes
	IdleTimeout       time.Duration // idle ceiling per attempt; default 2 minutes
	Logger            swarmlog.Logger // optional; emits swarm.quality.rejected and the circuit-breaker decision event
	Ledger            *audit.Ledger   // optional; records per-attempt rejections and circuit events (§4.12 step 7)
}

// Pool dispatches subtasks within a single wave.
type Pool struct {
	cfg Config
}

// New constructs a Pool, defaulting MaxConcurrency to 4 and
// AttemptTimeout/IdleTimeout to sane values when unset.
func New(cfg Config) *Pool {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	return &Pool{cfg: cfg}
}

// NewWave resets the quality gate's rejection circuit breaker for a new
// wave, per §4.8 ("the counter resets … or a new wave begins"). A no-op
// when the pool has no quality gate configured.
func (p *Pool) NewWave() {
	if p.cfg.Quality != nil {
		p.cfg.Quality.NewWave()
	}
}

// TaskOutcome is one subtask's final status after ExecuteWave, including
// every attempt made against it.
type TaskOutcome struct {
	SubtaskID string
	Outcome   models.Outcome
	Attempts  []models.Attempt
	SkipReason string
}

// ExecuteWave dispatches every subtask named by wave with bounded
// parallelism, never returning until each has resolved to success,
// skipped, or a terminal failure: the wave barrier. skip maps subtask
// IDs that were already marked skipped by the caller (typically because
// a dependency failed) to the reason to record.
func (p *Pool) ExecuteWave(ctx context.Context, parentToken *corekit.Token, sessionID string, subtasks map[string]models.Subtask, wave models.Wave, skip map[string]string) []TaskOutcome {
	results := make([]TaskOutcome, 0, len(wave.SubtaskIDs))
	var mu sync.Mutex
	record := func(o TaskOutcome) {
		mu.Lock()
		results = append(results, o)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)

	for i, id := range wave.SubtaskIDs {
		if reason, skipped := skip[id]; skipped {
			record(TaskOutcome{SubtaskID: id, Outcome: models.OutcomeSkipped, SkipReason: reason})
			continue
		}

		subtask := subtasks[id]
		if p.cfg.DispatchStaggerMs > 0 && i > 0 {
			time.Sleep(p.cfg.DispatchStaggerMs)
		}
		if parentToken.IsCancellationRequested() {
			record(TaskOutcome{SubtaskID: id, Outcome: models.OutcomeSkipped, SkipReason: "orchestrator cancelled: " + parentToken.CancellationReason()})
			continue
		}

		g.Go(func() error {
			record(p.runSubtask(gctx, parentToken, sessionID, subtask))
			return nil
		})
	}

	// Every runSubtask always resolves to a TaskOutcome and never returns
	// an error of its own, so Wait only ever blocks until the group's
	// SetLimit(MaxConcurrency) has drained every dispatched subtask: the
	// wave barrier.
	_ = g.Wait()
	return results
}

// runSubtask drives a subtask through however many attempts its retry
// budget and the quality gate allow, trying models in the order
// p.cfg.Failover offers them.
func (p *Pool) runSubtask(ctx context.Context, parentToken *corekit.Token, sessionID string, subtask models.Subtask) TaskOutcome {
	outcome := TaskOutcome{SubtaskID: subtask.ID}
	modelID := subtask.PreferredModel
	var triedModels []string

	for attempt := 1; attempt <= p.cfg.MaxRetries+1; attempt++ {
		triedModels = append(triedModels, modelID)
		result := p.runAttempt(ctx, parentToken, subtask, modelID, attempt)
		outcome.Attempts = append(outcome.Attempts, result.Attempt)

		if result.Err != nil {
			outcome.Outcome = result.Attempt.Outcome
			return outcome
		}

		if p.cfg.Quality == nil {
			outcome.Outcome = models.OutcomeSuccess
			return outcome
		}

		hasArtifacts := len(result.Transcript) > 0
		decision := p.cfg.Quality.Evaluate(result.Judgment, attempt, p.cfg.MaxRetries, hasArtifacts)
		if decision.Accepted {
			outcome.Outcome = models.OutcomeSuccess
			return outcome
		}

		p.logQualityRejection(sessionID, subtask, attempt, result.Judgment, decision)

		if !decision.Retry {
			outcome.Outcome = models.FailureOutcome("quality_rejected")
			return outcome
		}
		if decision.AllowFailover && p.cfg.Failover != nil {
			if next, ok := p.cfg.Failover.Next(subtask, triedModels); ok {
				modelID = next
			}
		}
	}

	outcome.Outcome = models.FailureOutcome("retries_exhausted")
	return outcome
}

// logQualityRejection emits swarm.quality.rejected and records the
// rejection to the audit ledger (§4.12 step 7). When this rejection is
// the one that tripped the rejection circuit breaker, it also emits the
// orchestrator-decision event with phase "quality-circuit-breaker"
// (§4.8, §8 scenario 3) and logs the policy decision. Both Logger and
// Ledger are optional; a pool built without them (as in most tests)
// simply skips this bookkeeping.
func (p *Pool) logQualityRejection(sessionID string, subtask models.Subtask, attempt int, j quality.Judgment, d quality.Decision) {
	p.log(swarmlog.EventQualityRejected, "quality gate rejected subtask attempt", map[string]any{
		"subtaskID": subtask.ID, "attempt": attempt, "score": j.Score, "feedback": j.Feedback,
		"artifactAutoFail": d.ArtifactAutoFail,
	})
	if p.cfg.Ledger != nil {
		p.cfg.Ledger.LogActionRejected(sessionID, subtask.ID, "quality_gate", map[string]any{
			"attempt": attempt, "score": j.Score, "feedback": j.Feedback,
		})
	}

	if !d.CircuitBreakerTripped {
		return
	}

	p.log(swarmlog.EventOrchestratorDecision, "quality gate rejection circuit breaker tripped, disabling gate for remainder of wave", map[string]any{
		"phase": "quality-circuit-breaker", "subtaskID": subtask.ID,
	})
	if p.cfg.Ledger != nil {
		p.cfg.Ledger.LogPolicyApplied(sessionID, subtask.ID, "quality-circuit-breaker", map[string]any{
			"reason": "consecutive rejection threshold reached",
		})
	}
}

func (p *Pool) log(t swarmlog.Type, message string, fields map[string]any) {
	if p.cfg.Logger == nil {
		return
	}
	p.cfg.Logger.Log(swarmlog.New(t, message, fields))
}

func (p *Pool) runAttempt(ctx context.Context, parentToken *corekit.Token, subtask models.Subtask, modelID string, attempt int) worker.Result {
	f := p.cfg.Factory
	workerID := subtask.ID + "#" + itoa(attempt)

	timeout := corekit.NewTimeout(p.cfg.AttemptTimeout, p.cfg.IdleTimeout, 500*time.Millisecond)
	defer timeout.Dispose()

	w := worker.New(worker.Config{
		Subtask:  subtask,
		WorkerID: workerID,
		ModelID:  modelID,
		Provider: f.BuildProvider(subtask, modelID),
		Tools:    f.Tools(),
		State:    f.BuildState(),
		Budget:   f.BuildBudget(workerID),
		Loop:     f.BuildLoopDetector(),
		Approval: f.BuildApproval(),
		Prompter: f.Prompter(),
		Verify:   f.BuildVerify(subtask),
		Judge:    f.Judge(),
	}, timeout, parentToken)

	return w.Run(ctx)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
