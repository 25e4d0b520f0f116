// Package quality implements the quality gate: a
// judge-scored accept/reject decision with a rejection circuit breaker
// that disables the gate for the rest of a wave once judge rejections
// look like the failure mode rather than the worker's output.
package quality

import "sync"

// Judgment is the external judge's verdict on a worker's output.
type Judgment struct {
	Score            int // 0..5
	Feedback         string
	Passed           bool
	ArtifactAutoFail bool
}

// Decision is Evaluate's return value.
type Decision struct {
	Accepted              bool
	Retry                 bool
	ArtifactAutoFail      bool
	AllowFailover         bool
	CircuitBreakerHit     bool // gate was already disabled for the wave before this call
	CircuitBreakerTripped bool // this call's rejection is what disabled it
}

// Config holds the gate's thresholds.
type Config struct {
	QualityThreshold          int // default 3
	RejectionBreakerThreshold int // default 8
}

func defaultConfig() Config {
	return Config{QualityThreshold: 3, RejectionBreakerThreshold: 8}
}

// Gate evaluates one wave's worth of worker outputs. It is safe for
// concurrent use: the pool evaluates attempts from concurrently running
// subtasks, and every method holds the gate's mutex.
type Gate struct {
	mu                 sync.Mutex
	cfg                Config
	consecutiveRejects int
	disabledForWave    bool
}

// New constructs a Gate, applying Config defaults for zero fields.
func New(cfg Config) *Gate {
	def := defaultConfig()
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = def.QualityThreshold
	}
	if cfg.RejectionBreakerThreshold <= 0 {
		cfg.RejectionBreakerThreshold = def.RejectionBreakerThreshold
	}
	return &Gate{cfg: cfg}
}

// NewWave resets the rejection circuit breaker for a new wave.
func (g *Gate) NewWave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveRejects = 0
	g.disabledForWave = false
}

// Evaluate applies the gate's rules in order. hasArtifacts reports
// whether the worker's expected file changes are non-empty. attempt and
// workerRetries determine whether this is the last allowed attempt.
func (g *Gate) Evaluate(j Judgment, attempt, workerRetries int, hasArtifacts bool) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabledForWave {
		return Decision{Accepted: true, CircuitBreakerHit: true}
	}

	lastAttempt := attempt >= workerRetries+1

	if lastAttempt {
		// A last-attempt bypass is not a pass: the output never cleared
		// the threshold, so it must not reset the rejection circuit
		// breaker's counter (DESIGN.md's open-question decision on this).
		return Decision{Accepted: true}
	}

	if j.Score <= 1 && !hasArtifacts {
		tripped := g.recordReject()
		return Decision{Accepted: false, ArtifactAutoFail: true, AllowFailover: false, Retry: true, CircuitBreakerTripped: tripped}
	}

	if j.Score < g.cfg.QualityThreshold || !j.Passed {
		tripped := g.recordReject()
		return Decision{Accepted: false, Retry: true, AllowFailover: true, CircuitBreakerTripped: tripped}
	}

	g.recordAccept()
	return Decision{Accepted: true}
}

func (g *Gate) recordAccept() {
	g.consecutiveRejects = 0
}

// recordReject bumps the consecutive-rejection counter and reports
// whether this call is the one that tripped the rejection circuit
// breaker (as opposed to a call observing it already tripped).
func (g *Gate) recordReject() bool {
	g.consecutiveRejects++
	if g.consecutiveRejects >= g.cfg.RejectionBreakerThreshold {
		g.disabledForWave = true
		return true
	}
	return false
}

// Disabled reports whether the rejection circuit breaker has tripped
// for the remainder of the current wave.
func (g *Gate) Disabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabledForWave
}
