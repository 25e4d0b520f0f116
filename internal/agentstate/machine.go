// Package agentstate implements the worker phase state machine:
// exploring/planning/acting/verifying, driven
// entirely by the tool calls a worker makes.
package agentstate

import (
	"strings"
	"time"
)

// Phase is one of the four legal worker phases.
type Phase string

const (
	PhaseExploring Phase = "exploring"
	PhasePlanning  Phase = "planning"
	PhaseActing    Phase = "acting"
	PhaseVerifying Phase = "verifying"
)

var legalTransitions = map[Phase]map[Phase]bool{
	PhaseExploring: {PhasePlanning: true, PhaseActing: true},
	PhasePlanning:  {PhaseActing: true, PhaseExploring: true},
	PhaseActing:    {PhaseVerifying: true, PhaseExploring: true},
	PhaseVerifying: {PhaseActing: true, PhaseExploring: true},
}

// TriState represents last-test-passed, which starts unknown.
type TriState int

const (
	Unknown TriState = iota
	Passed
	Failed
)

// Snapshot is the per-phase accounting; its lifetime is one phase.
type Snapshot struct {
	EnteredAt              time.Time
	Iterations             int
	FilesRead              map[string]bool
	Searches               map[string]bool
	FilesModified          map[string]bool
	TestsRun               int
	LastTestPassed         TriState
	ConsecutiveTestFailures int
	InTestFixCycle         bool
	ConsecutiveBashFailures int
	RecentNewFiles         int
	ShouldTransition       bool
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		EnteredAt:     time.Now(),
		FilesRead:     make(map[string]bool),
		Searches:      make(map[string]bool),
		FilesModified: make(map[string]bool),
	}
}

// Transition records one phase change for diagnostics.
type Transition struct {
	From        Phase
	To          Phase
	Reason      string
	FromMetrics Metrics
	At          time.Time
}

// Metrics is the duration/tool-call/file-count summary captured when a
// phase ends.
type Metrics struct {
	Duration      time.Duration
	ToolCalls     int
	FilesRead     int
	FilesModified int
	Searches      int
}

// Thresholds configures the exploration-saturation heuristic.
type Thresholds struct {
	ExplorationFiles      int
	ExplorationIterations int
}

func defaultThresholds() Thresholds {
	return Thresholds{ExplorationFiles: 8, ExplorationIterations: 12}
}

// Machine is a single worker's phase state machine. Not safe for
// concurrent use — a worker is sequential.
type Machine struct {
	phase      Phase
	snapshot   *Snapshot
	thresholds Thresholds
	history    []Transition
}

// New constructs a Machine starting in the exploring phase.
func New(thresholds Thresholds) *Machine {
	if thresholds.ExplorationFiles <= 0 && thresholds.ExplorationIterations <= 0 {
		thresholds = defaultThresholds()
	}
	return &Machine{
		phase:      PhaseExploring,
		snapshot:   newSnapshot(),
		thresholds: thresholds,
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Snapshot returns the current phase's accounting.
func (m *Machine) Snapshot() *Snapshot { return m.snapshot }

// History returns the transitions recorded so far, oldest first.
func (m *Machine) History() []Transition { return m.history }

// Transition attempts to move to `to` with the given reason. Illegal
// transitions return false without any side effect.
func (m *Machine) Transition(to Phase, reason string) bool {
	if !legalTransitions[m.phase][to] {
		return false
	}

	metrics := Metrics{
		Duration:      time.Since(m.snapshot.EnteredAt),
		ToolCalls:     m.snapshot.Iterations,
		FilesRead:     len(m.snapshot.FilesRead),
		FilesModified: len(m.snapshot.FilesModified),
		Searches:      len(m.snapshot.Searches),
	}
	m.history = append(m.history, Transition{
		From: m.phase, To: to, Reason: reason, FromMetrics: metrics, At: time.Now(),
	})

	m.phase = to
	m.snapshot = newSnapshot()
	return true
}

var searchTools = map[string]bool{
	"grep": true, "search": true, "glob": true, "find_files": true, "search_files": true,
}

var testCommandMarkers = []string{"test", "pytest", "npm test", "jest"}

func looksLikeTestCommand(command string) bool {
	lower := strings.ToLower(command)
	for _, marker := range testCommandMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RecordToolCall is the single input the state machine accepts.
// result is optional; nil means the outcome isn't known yet.
func (m *Machine) RecordToolCall(tool string, args map[string]any, result *ToolResult) {
	m.snapshot.Iterations++
	if m.snapshot.Iterations%3 == 0 {
		m.snapshot.RecentNewFiles = 0
	}

	switch {
	case tool == "read_file":
		path, _ := args["path"].(string)
		if path == "" {
			path, _ = args["file_path"].(string)
		}
		if !m.snapshot.FilesRead[path] {
			m.snapshot.FilesRead[path] = true
			m.snapshot.RecentNewFiles++
		}

	case searchTools[tool]:
		q := canonicalSearchQuery(args)
		m.snapshot.Searches[q] = true

	case tool == "write_file" || tool == "edit_file":
		path, _ := args["path"].(string)
		if path == "" {
			path, _ = args["file_path"].(string)
		}
		m.snapshot.FilesModified[path] = true
		if m.phase == PhaseExploring || m.phase == PhasePlanning {
			m.Transition(PhaseActing, "First file edit made")
			return
		}

	case tool == "bash":
		m.recordBash(args, result)
		return
	}

	m.updateSaturation()
}

func canonicalSearchQuery(args map[string]any) string {
	for _, key := range []string{"pattern", "query", "path"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ToolResult is the outcome of a tool call, as observed by the state
// machine (a narrower view than models.ToolResult, to keep this package
// dependency-free of models).
type ToolResult struct {
	Success  bool
	ExitCode int
}

func (m *Machine) recordBash(args map[string]any, result *ToolResult) {
	command, _ := args["command"].(string)
	isTest := looksLikeTestCommand(command)

	if isTest {
		m.snapshot.TestsRun++
	}

	if result != nil {
		if result.ExitCode != 0 {
			m.snapshot.ConsecutiveBashFailures++
		} else {
			m.snapshot.ConsecutiveBashFailures = 0
		}

		if isTest {
			if result.Success {
				m.snapshot.LastTestPassed = Passed
				m.snapshot.ConsecutiveTestFailures = 0
				m.snapshot.InTestFixCycle = false
			} else {
				m.snapshot.LastTestPassed = Failed
				m.snapshot.ConsecutiveTestFailures++
				if m.snapshot.ConsecutiveTestFailures >= 2 {
					m.snapshot.InTestFixCycle = true
					if m.phase == PhaseVerifying {
						reason := "Test failed " + itoa(m.snapshot.ConsecutiveTestFailures) + " times, fixing"
						m.Transition(PhaseActing, reason)
						return
					}
				}
			}
		}
	}

	if m.phase == PhaseActing && len(m.snapshot.FilesModified) > 0 && isTest {
		m.Transition(PhaseVerifying, "Tests run after file modification")
		return
	}

	m.updateSaturation()
}

func (m *Machine) updateSaturation() {
	if m.phase != PhaseExploring {
		m.snapshot.ShouldTransition = false
		return
	}
	noFilesModified := len(m.snapshot.FilesModified) == 0
	byFileCount := len(m.snapshot.FilesRead) >= m.thresholds.ExplorationFiles && noFilesModified
	byIterations := m.snapshot.Iterations >= m.thresholds.ExplorationIterations &&
		m.snapshot.RecentNewFiles < 2 && noFilesModified

	m.snapshot.ShouldTransition = byFileCount || byIterations
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
