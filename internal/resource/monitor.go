// Package resource tracks memory, CPU time, and concurrent-operation
// counts against configured maxima: a single struct owning a
// sync.Mutex, with every exported method taking and releasing it around
// a small critical section.
package resource

import (
	"errors"
	"runtime"
	"sync"
	"time"
)

// Status is the health verdict returned by Check.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusExceeded Status = "exceeded"
)

// Recommendation accompanies a Status so callers know what to do about it.
type Recommendation string

const (
	RecommendContinue Recommendation = "continue"
	RecommendSlowDown Recommendation = "slow_down"
	RecommendStop     Recommendation = "stop"
)

// ErrResourceLimit is returned by RunTracked when Check reports exceeded.
var ErrResourceLimit = errors.New("resource: limit exceeded")

// Usage is a snapshot of the quantities Check compares against maxima.
type Usage struct {
	MemoryBytes    uint64
	CPUTime        time.Duration
	ConcurrentOps  int
}

// Limits configures the maxima and warn/critical ratio thresholds. Ratios
// are in (0, 1]; exceeded applies once the ratio reaches 1.0.
type Limits struct {
	MaxMemoryBytes   uint64
	MaxCPUTime       time.Duration
	MaxConcurrentOps int
	WarnThreshold    float64
	CriticalThreshold float64
}

// Report is the result of Check.
type Report struct {
	Status         Status
	Usage          Usage
	Message        string
	Recommendation Recommendation
}

// memStatsFunc is indirected for testability.
type memStatsFunc func() uint64

// Monitor is process-wide; construct one per process and share it.
type Monitor struct {
	mu            sync.Mutex
	limits        Limits
	cpuBaseline   time.Duration
	startedAt     time.Time
	concurrentOps int
	readMemory    memStatsFunc
	readCPU       func() time.Duration
}

// New constructs a Monitor with the given limits, sampling memory via
// runtime.ReadMemStats and CPU time via os-level process accounting
// through readCPU (callers outside this package typically pass a
// wrapper around syscall.Getrusage; tests inject a fake).
func New(limits Limits, readCPU func() time.Duration) *Monitor {
	if limits.WarnThreshold <= 0 {
		limits.WarnThreshold = 0.7
	}
	if limits.CriticalThreshold <= 0 {
		limits.CriticalThreshold = 0.9
	}
	return &Monitor{
		limits:    limits,
		startedAt: time.Now(),
		readMemory: func() uint64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return m.Alloc
		},
		readCPU: readCPU,
	}
}

// Check samples current usage and compares it against the configured
// maxima, returning the worst status across memory, CPU time, and
// concurrent-op count.
func (m *Monitor) Check() Report {
	m.mu.Lock()
	ops := m.concurrentOps
	baseline := m.cpuBaseline
	limits := m.limits
	m.mu.Unlock()

	mem := m.readMemory()
	var cpu time.Duration
	if m.readCPU != nil {
		cpu = m.readCPU() - baseline
		if cpu < 0 {
			cpu = 0
		}
	}

	usage := Usage{MemoryBytes: mem, CPUTime: cpu, ConcurrentOps: ops}

	ratio := 0.0
	worst := StatusHealthy
	if limits.MaxMemoryBytes > 0 {
		worst, ratio = worstStatus(worst, ratio, float64(mem)/float64(limits.MaxMemoryBytes), limits)
	}
	if limits.MaxCPUTime > 0 {
		worst, ratio = worstStatus(worst, ratio, cpu.Seconds()/limits.MaxCPUTime.Seconds(), limits)
	}
	if limits.MaxConcurrentOps > 0 {
		worst, ratio = worstStatus(worst, ratio, float64(ops)/float64(limits.MaxConcurrentOps), limits)
	}

	return Report{
		Status:         worst,
		Usage:          usage,
		Message:        statusMessage(worst, ratio),
		Recommendation: recommendationFor(worst),
	}
}

func worstStatus(current Status, currentRatio, candidateRatio float64, limits Limits) (Status, float64) {
	candidate := classify(candidateRatio, limits)
	if severity(candidate) > severity(current) {
		return candidate, candidateRatio
	}
	return current, currentRatio
}

func classify(ratio float64, limits Limits) Status {
	switch {
	case ratio >= 1.0:
		return StatusExceeded
	case ratio >= limits.CriticalThreshold:
		return StatusCritical
	case ratio >= limits.WarnThreshold:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

func severity(s Status) int {
	switch s {
	case StatusExceeded:
		return 3
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

func statusMessage(s Status, ratio float64) string {
	if s == StatusHealthy {
		return ""
	}
	return string(s) + ": usage ratio reached the configured threshold"
}

func recommendationFor(s Status) Recommendation {
	switch s {
	case StatusExceeded:
		return RecommendStop
	case StatusCritical:
		return RecommendStop
	case StatusWarning:
		return RecommendSlowDown
	default:
		return RecommendContinue
	}
}

// Release is returned by StartOperation; it must be invoked exactly once.
type Release func()

// StartOperation increments the concurrent-op count and returns a release
// handle. The count is clamped at zero on release, so a double-release
// (a caller bug) cannot drive the counter negative.
func (m *Monitor) StartOperation() Release {
	m.mu.Lock()
	m.concurrentOps++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.concurrentOps > 0 {
				m.concurrentOps--
			}
			m.mu.Unlock()
		})
	}
}

// RunTracked checks resources before invoking fn; on StatusExceeded it
// fails with ErrResourceLimit before fn ever runs, otherwise it wraps fn
// between StartOperation and its release.
func (m *Monitor) RunTracked(fn func() error) error {
	if report := m.Check(); report.Status == StatusExceeded {
		return ErrResourceLimit
	}
	release := m.StartOperation()
	defer release()
	return fn()
}

// RunIfAvailable is the non-throwing sibling of RunTracked: on critical or
// exceeded status it returns fallback instead of attempting fn.
func (m *Monitor) RunIfAvailable(fn func() error, fallback error) error {
	report := m.Check()
	if report.Status == StatusCritical || report.Status == StatusExceeded {
		return fallback
	}
	release := m.StartOperation()
	defer release()
	return fn()
}

// ResetCPUTime rebaselines CPU-time accounting (per-prompt reset) while
// preserving the concurrent-op count.
func (m *Monitor) ResetCPUTime() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readCPU != nil {
		m.cpuBaseline = m.readCPU()
	}
}

// Reset zeroes CPU baseline and concurrent-op count.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concurrentOps = 0
	if m.readCPU != nil {
		m.cpuBaseline = m.readCPU()
	} else {
		m.cpuBaseline = 0
	}
	m.startedAt = time.Now()
}
