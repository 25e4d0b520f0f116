package budget

import (
	"sync"
	"time"
)

// GlobalLoopThresholds configures when shared economics reports a
// fingerprint as a global doom loop: total-count ≥ Count AND distinct
// worker count ≥ Workers.
type GlobalLoopThresholds struct {
	Count   int
	Workers int
}

func defaultGlobalThresholds() GlobalLoopThresholds {
	return GlobalLoopThresholds{Count: 6, Workers: 2}
}

// fingerprintState is the per-key record in the shared map:
// `{count, workerIds: set, firstSeen, lastSeen}`.
type fingerprintState struct {
	count     int
	workerIDs map[string]bool
	firstSeen time.Time
	lastSeen  time.Time
}

// SharedEconomics is the cross-worker fingerprint counter. It is a
// process-wide collaborator injected into every worker's Tracker rather
// than a package-level singleton, so it stays an explicit, testable
// dependency rather than hidden global state.
type SharedEconomics struct {
	mu         sync.Mutex
	thresholds GlobalLoopThresholds
	state      map[string]*fingerprintState
}

// NewSharedEconomics constructs a SharedEconomics. One instance is
// shared by every worker in a swarm run.
func NewSharedEconomics(thresholds GlobalLoopThresholds) *SharedEconomics {
	if thresholds.Count <= 0 {
		thresholds.Count = defaultGlobalThresholds().Count
	}
	if thresholds.Workers <= 0 {
		thresholds.Workers = defaultGlobalThresholds().Workers
	}
	return &SharedEconomics{thresholds: thresholds, state: make(map[string]*fingerprintState)}
}

// RecordToolCall records one observation of fingerprint by workerID.
// Atomic under the lock: readers never observe a partial update.
func (s *SharedEconomics) RecordToolCall(workerID, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[fingerprint]
	if !ok {
		st = &fingerprintState{workerIDs: make(map[string]bool), firstSeen: time.Now()}
		s.state[fingerprint] = st
	}
	st.count++
	st.workerIDs[workerID] = true
	st.lastSeen = time.Now()
}

// LoopInfo is getGlobalLoopInfo's return value.
type LoopInfo struct {
	Fingerprint string
	Count       int
	WorkerCount int
	FirstSeen   time.Time
	LastSeen    time.Time
}

// GetGlobalLoopInfo returns the current state for fingerprint. The zero
// value is returned if the fingerprint has never been observed.
func (s *SharedEconomics) GetGlobalLoopInfo(fingerprint string) LoopInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[fingerprint]
	if !ok {
		return LoopInfo{Fingerprint: fingerprint}
	}
	return LoopInfo{
		Fingerprint: fingerprint,
		Count:       st.count,
		WorkerCount: len(st.workerIDs),
		FirstSeen:   st.firstSeen,
		LastSeen:    st.lastSeen,
	}
}

// IsGlobalDoomLoop reports whether fingerprint has crossed both
// thresholds: total-count ≥ T_count AND worker-count ≥ T_workers.
func (s *SharedEconomics) IsGlobalDoomLoop(fingerprint string) bool {
	info := s.GetGlobalLoopInfo(fingerprint)
	return info.Count >= s.thresholds.Count && info.WorkerCount >= s.thresholds.Workers
}

// AnyGlobalDoomLoop reports whether any tracked fingerprint currently
// crosses both global doom-loop thresholds. The orchestrator uses this
// after a wave completes with a budget-exceeded failure to decide
// whether the failure was a genuine cross-worker doom loop (§4.12 step
// 6) rather than a single worker's own token or iteration budget.
func (s *SharedEconomics) AnyGlobalDoomLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.state {
		if st.count >= s.thresholds.Count && len(st.workerIDs) >= s.thresholds.Workers {
			return true
		}
	}
	return false
}

// Reset clears all tracked state. Used between swarm runs in long-lived
// processes (e.g. a persistent CLI daemon).
func (s *SharedEconomics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = make(map[string]*fingerprintState)
}
