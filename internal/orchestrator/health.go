package orchestrator

import (
	"sync"

	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/pool"
	"github.com/coreswarm/swarm/internal/swarmlog"
)

// ModelHealth tracks a rolling per-model health score (consecutive
// failure count) and wraps an underlying pool.ModelFailover so that
// before every failover decision, the orchestrator's event stream
// carries a swarm.model.health event explaining *why* a failover was
// chosen, not just that one occurred — the teacher has no direct
// analogue for this; §4.11/§4.12 require observable failover decisions,
// so this supplements it (SPEC_FULL.md §10).
type ModelHealth struct {
	mu       sync.Mutex
	failures map[string]int
	logger   swarmlog.Logger
	next     pool.ModelFailover
}

// NewModelHealth wraps next, logging a swarm.model.health event before
// every swarm.model.failover decision next makes.
func NewModelHealth(next pool.ModelFailover, logger swarmlog.Logger) *ModelHealth {
	if logger == nil {
		logger = swarmlog.NullLogger{}
	}
	return &ModelHealth{failures: make(map[string]int), logger: logger, next: next}
}

// RecordFailure bumps modelID's consecutive-failure count. Call it
// whenever an attempt against modelID ends in a non-quality failure
// (provider error, circuit open); quality-gate artifact auto-fails
// must not call this, per §4.8's "such auto-fails MUST NOT trigger
// model failover".
func (h *ModelHealth) RecordFailure(modelID string) {
	h.mu.Lock()
	h.failures[modelID]++
	count := h.failures[modelID]
	h.mu.Unlock()

	h.logger.Log(swarmlog.New(swarmlog.EventModelHealth, "model health updated", map[string]any{
		"model": modelID, "consecutiveFailures": count,
	}))
}

// RecordSuccess resets modelID's consecutive-failure count.
func (h *ModelHealth) RecordSuccess(modelID string) {
	h.mu.Lock()
	h.failures[modelID] = 0
	h.mu.Unlock()
}

// FailureCount returns modelID's current consecutive-failure count.
func (h *ModelHealth) FailureCount(modelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[modelID]
}

// Next delegates to the wrapped failover, logging a swarm.model.health
// snapshot of the tried models before logging the failover decision
// itself.
func (h *ModelHealth) Next(subtask models.Subtask, triedModels []string) (modelID string, ok bool) {
	if h.next == nil {
		return "", false
	}

	h.mu.Lock()
	snapshot := make(map[string]int, len(triedModels))
	for _, m := range triedModels {
		snapshot[m] = h.failures[m]
	}
	h.mu.Unlock()

	h.logger.Log(swarmlog.New(swarmlog.EventModelHealth, "evaluating failover candidates", map[string]any{
		"subtaskID": subtask.ID, "tried": triedModels, "failureCounts": snapshot,
	}))

	modelID, ok = h.next.Next(subtask, triedModels)
	if ok {
		h.logger.Log(swarmlog.New(swarmlog.EventModelFailover, "failing over to alternate model", map[string]any{
			"subtaskID": subtask.ID, "model": modelID,
		}))
	}
	return modelID, ok
}
