// Package budget implements the per-worker budget tracker and the
// cross-worker shared economics map it consults for global doom-loop
// detection: a mutex-guarded struct built once per scope and called
// many times.
package budget

import (
	"time"

	"github.com/coreswarm/swarm/internal/loopdetect"
)

// BudgetType names which limit a Check failed.
type BudgetType string

const (
	BudgetOK         BudgetType = ""
	BudgetTokens     BudgetType = "tokens"
	BudgetIterations BudgetType = "iterations"
	BudgetDoomLoop   BudgetType = "doom_loop"
)

// ToolCallRecord is one entry in a PerWorkerBudget's ring:
// `toolCallRing: list<{fingerprint, timestamp}>`.
type ToolCallRecord struct {
	Fingerprint string
	Timestamp   time.Time
}

// CheckResult is checkBudget()'s return value.
type CheckResult struct {
	CanContinue bool
	Reason      string
	BudgetType  BudgetType
}

func ok() CheckResult { return CheckResult{CanContinue: true} }

// Limits configures a Tracker's PerWorkerBudget caps.
type Limits struct {
	MaxTokens         int64
	MaxIterations     int
	DoomLoopThreshold int
}

func defaultLimits() Limits {
	return Limits{MaxTokens: 200_000, MaxIterations: 60, DoomLoopThreshold: 3}
}

// Tracker is the per-worker budget tracker. One Tracker belongs to
// exactly one worker for the lifetime of one subtask attempt.
type Tracker struct {
	limits   Limits
	shared   *SharedEconomics
	workerID string

	inputTokens  int64
	outputTokens int64
	iterations   int
	ring         []ToolCallRecord
}

// NewTracker constructs a Tracker. shared may be nil for a tracker that
// never consults global economics (tests, standalone workers).
func NewTracker(workerID string, limits Limits, shared *SharedEconomics) *Tracker {
	if limits.MaxTokens <= 0 {
		limits.MaxTokens = defaultLimits().MaxTokens
	}
	if limits.MaxIterations <= 0 {
		limits.MaxIterations = defaultLimits().MaxIterations
	}
	if limits.DoomLoopThreshold <= 0 {
		limits.DoomLoopThreshold = defaultLimits().DoomLoopThreshold
	}
	return &Tracker{workerID: workerID, limits: limits, shared: shared}
}

// RecordTokens adds to the running token totals.
func (t *Tracker) RecordTokens(input, output int64) {
	t.inputTokens += input
	t.outputTokens += output
}

// RecordToolCall computes the tool call's fingerprint,
// appends it to the ring, increments the iteration count, and reports
// it to shared economics when present.
func (t *Tracker) RecordToolCall(tool string, args map[string]any) string {
	t.iterations++
	fp := loopdetect.Fingerprint(tool, args)
	t.ring = append(t.ring, ToolCallRecord{Fingerprint: fp, Timestamp: time.Now()})
	if t.shared != nil {
		t.shared.RecordToolCall(t.workerID, fp)
	}
	return fp
}

// InputTokens, OutputTokens, TotalTokens, Iterations expose current
// totals for reporting up to the orchestrator's shared state.
func (t *Tracker) InputTokens() int64  { return t.inputTokens }
func (t *Tracker) OutputTokens() int64 { return t.outputTokens }
func (t *Tracker) TotalTokens() int64  { return t.inputTokens + t.outputTokens }
func (t *Tracker) Iterations() int     { return t.iterations }

// CheckBudget implements a four-step check, in order:
// tokens, then iterations, then a local doom loop in the ring, then a
// global doom loop reported by shared economics for the most recent
// fingerprint.
func (t *Tracker) CheckBudget() CheckResult {
	if t.TotalTokens() >= t.limits.MaxTokens {
		return CheckResult{BudgetType: BudgetTokens, Reason: "token budget exceeded"}
	}
	if t.iterations >= t.limits.MaxIterations {
		return CheckResult{BudgetType: BudgetIterations, Reason: "iteration budget exceeded"}
	}
	if t.localDoomLoop() {
		return CheckResult{BudgetType: BudgetDoomLoop, Reason: "repeated identical tool call within worker"}
	}
	if t.shared != nil && len(t.ring) > 0 {
		last := t.ring[len(t.ring)-1].Fingerprint
		if t.shared.IsGlobalDoomLoop(last) {
			return CheckResult{BudgetType: BudgetDoomLoop, Reason: "repeated tool call across workers"}
		}
	}
	return ok()
}

func (t *Tracker) localDoomLoop() bool {
	n := t.limits.DoomLoopThreshold
	if len(t.ring) < n {
		return false
	}
	last := t.ring[len(t.ring)-1].Fingerprint
	for i := len(t.ring) - n; i < len(t.ring); i++ {
		if t.ring[i].Fingerprint != last {
			return false
		}
	}
	return true
}
