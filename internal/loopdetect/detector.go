package loopdetect

import (
	"fmt"
	"strings"

	"github.com/coreswarm/swarm/internal/models"
)

// Config holds the loop-detection thresholds. FuzzyThreshold defaults
// to max(4, ExactThreshold+1) when left at zero.
type Config struct {
	ExactThreshold          int
	FuzzyThreshold          int
	SummaryLoopThreshold    int // N: consecutive text-only turns
	BashCascadeThreshold    int // K: consecutive non-zero bash exits
	TestFixCycleThreshold   int // consecutive failing tests on same command
}

// DefaultConfig returns the detector's default thresholds.
func DefaultConfig() Config {
	return Config{
		ExactThreshold:        3,
		FuzzyThreshold:        4,
		SummaryLoopThreshold:  3,
		BashCascadeThreshold:  3,
		TestFixCycleThreshold: 2,
	}
}

type call struct {
	tool      string
	exactKey  string
	fuzzyKey  string
}

// Detector is per-worker: it watches one worker's consecutive tool calls.
// It is not safe for concurrent use by multiple goroutines; callers that
// need that should put their own mutex around it (workers are otherwise
// single-threaded).
type Detector struct {
	cfg Config

	history []call

	consecutiveTextTurns  int
	consecutiveBashFail   int
	lastTestCommand       string
	consecutiveTestFail   int

	inDoomLoop bool
}

// New constructs a Detector. A zero-value Config is replaced with
// DefaultConfig's thresholds field by field.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.ExactThreshold <= 0 {
		cfg.ExactThreshold = def.ExactThreshold
	}
	if cfg.FuzzyThreshold <= 0 {
		fuzzy := cfg.ExactThreshold + 1
		if fuzzy < def.FuzzyThreshold {
			fuzzy = def.FuzzyThreshold
		}
		cfg.FuzzyThreshold = fuzzy
	}
	if cfg.SummaryLoopThreshold <= 0 {
		cfg.SummaryLoopThreshold = def.SummaryLoopThreshold
	}
	if cfg.BashCascadeThreshold <= 0 {
		cfg.BashCascadeThreshold = def.BashCascadeThreshold
	}
	if cfg.TestFixCycleThreshold <= 0 {
		cfg.TestFixCycleThreshold = def.TestFixCycleThreshold
	}
	return &Detector{cfg: cfg}
}

// Result is returned by Observe.
type Result struct {
	DoomLoop       bool // true exactly the first call that trips either tier
	ExactCount     int
	FuzzyCount     int
	Severity       int
	Remediation    string
}

// Observe records one tool call and returns whether this call is the
// transition into a doom loop. Once in a doom loop, subsequent calls
// return DoomLoop=false until the pattern breaks (a different
// fingerprint is observed) — it returns true only the first time the
// pattern trips.
func (d *Detector) Observe(tc models.ToolCall) Result {
	c := call{
		tool:     tc.Tool,
		exactKey: ExactKey(tc.Tool, tc.Args),
		fuzzyKey: Fingerprint(tc.Tool, tc.Args),
	}
	d.history = append(d.history, c)

	exactCount := trailingMatches(d.history, func(x call) string { return x.exactKey })
	fuzzyCount := trailingMatches(d.history, func(x call) string { return x.fuzzyKey })

	tripped := exactCount >= d.cfg.ExactThreshold || fuzzyCount >= d.cfg.FuzzyThreshold

	res := Result{ExactCount: exactCount, FuzzyCount: fuzzyCount}

	if tripped && !d.inDoomLoop {
		d.inDoomLoop = true
		res.DoomLoop = true
		count := exactCount
		if fuzzyCount > count {
			count = fuzzyCount
		}
		res.Severity = severityFor(count)
		res.Remediation = remediationFor(tc.Tool, count, d.bashCascadeWithFileOps())
	} else if !tripped {
		d.inDoomLoop = false
	}

	return res
}

func trailingMatches(history []call, key func(call) string) int {
	if len(history) == 0 {
		return 0
	}
	last := key(history[len(history)-1])
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		if key(history[i]) != last {
			break
		}
		n++
	}
	return n
}

func severityFor(count int) int {
	switch {
	case count >= 6:
		return 6
	case count >= 4:
		return 4
	case count >= 3:
		return 3
	default:
		return count
	}
}

func remediationFor(tool string, count int, bashFileOpCascade bool) string {
	if bashFileOpCascade {
		return "Repeated bash failures look like file inspection — use the dedicated read_file/search tools instead of shelling out."
	}
	switch {
	case count >= 6:
		return fmt.Sprintf("Severe repetition detected calling %s (%d times in a row). Stop and reconsider the approach entirely.", tool, count)
	case count >= 4:
		return fmt.Sprintf("%s has been called %d times with equivalent arguments. Try a materially different strategy.", tool, count)
	default:
		return fmt.Sprintf("%s was just repeated %d times consecutively. Confirm this call is still necessary before continuing.", tool, count)
	}
}

func (d *Detector) bashCascadeWithFileOps() bool {
	if d.consecutiveBashFail < d.cfg.BashCascadeThreshold {
		return false
	}
	for i := len(d.history) - 1; i >= 0 && i >= len(d.history)-d.consecutiveBashFail; i-- {
		if d.history[i].tool != "bash" || !strings.HasPrefix(d.history[i].fuzzyKey, "bash:file_read:") {
			return false
		}
	}
	return true
}

// ObserveBashResult feeds the bash-failure-cascade detector: a run of
// K consecutive non-zero exit codes.
func (d *Detector) ObserveBashResult(exitCode int) (cascaded bool) {
	if exitCode != 0 {
		d.consecutiveBashFail++
	} else {
		d.consecutiveBashFail = 0
	}
	return d.consecutiveBashFail >= d.cfg.BashCascadeThreshold
}

// isTestCommand uses a literal substring heuristic rather than a
// tokenizing command parser: it has a known false-positive surface
// (e.g. "test-that-file-exists" contains "test"), accepted as-is.
func isTestCommand(command string) bool {
	lower := strings.ToLower(command)
	for _, marker := range []string{"test", "pytest", "npm test", "jest"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ObserveTestResult feeds the test-fix-cycle detector: ≥ 2 consecutive
// failing tests on the same command.
func (d *Detector) ObserveTestResult(command string, passed bool) (cycling bool) {
	if !isTestCommand(command) {
		return false
	}
	if command == d.lastTestCommand && !passed {
		d.consecutiveTestFail++
	} else if !passed {
		d.lastTestCommand = command
		d.consecutiveTestFail = 1
	} else {
		d.lastTestCommand = command
		d.consecutiveTestFail = 0
	}
	return d.consecutiveTestFail >= d.cfg.TestFixCycleThreshold
}

// ObserveTurn feeds the summary-loop detector: call with hadToolCall=false
// for a text-only turn, true otherwise. Returns true once N consecutive
// text-only turns have been seen.
func (d *Detector) ObserveTurn(hadToolCall bool) (summaryLoop bool) {
	if hadToolCall {
		d.consecutiveTextTurns = 0
		return false
	}
	d.consecutiveTextTurns++
	return d.consecutiveTextTurns >= d.cfg.SummaryLoopThreshold
}
