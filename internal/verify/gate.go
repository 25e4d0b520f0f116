// Package verify implements the verification gate: an opt-in
// completion check that nudges a worker toward satisfying configured
// criteria before force-allowing completion.
package verify

import (
	"fmt"
	"regexp"
	"strings"
)

// Criteria configures which completion checks are active. A Gate is
// only meaningful when at least one criterion is set; New returns nil
// when none are configured.
type Criteria struct {
	RequiredTests      []string
	RequireFileChanges bool
	RequireCompilation bool
	MaxAttempts        int // nudge counter ceiling before forceAllow; default 2
}

// Result is check()'s return value.
type Result struct {
	Satisfied  bool
	ForceAllow bool
	Missing    []string
	Nudge      string
}

// Gate tracks signals fed in by the worker loop and evaluates them
// against Criteria on demand.
type Gate struct {
	criteria Criteria

	fileChanged       bool
	testRan           map[string]bool
	testPassed        map[string]bool
	compilationPassed bool
	compilationSeen   bool
	nudgeCount        int
}

// New constructs a Gate, or returns nil if no criterion is configured.
func New(c Criteria) *Gate {
	if len(c.RequiredTests) == 0 && !c.RequireFileChanges && !c.RequireCompilation {
		return nil
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	return &Gate{
		criteria:   c,
		testRan:    make(map[string]bool),
		testPassed: make(map[string]bool),
	}
}

// RecordFileChange marks that the worker has changed at least one file.
func (g *Gate) RecordFileChange() { g.fileChanged = true }

var (
	passedRe      = regexp.MustCompile(`(?i)\bpassed\b`)
	failedRe      = regexp.MustCompile(`(?i)\bfailed\b`)
	pytestSummary = regexp.MustCompile(`(\d+)\s+passed`)
)

// RecordBashExecution inspects a bash command's output for pass/fail
// markers (literal "passed"/"failed", or a pytest-style "N passed"
// summary) and updates whichever configured required test the command
// matches.
func (g *Gate) RecordBashExecution(command, output string, exitCode int) {
	test := g.matchRequiredTest(command)
	if test == "" {
		return
	}
	g.testRan[test] = true

	passed := exitCode == 0
	if pytestSummary.MatchString(output) {
		passed = passed && !failedRe.MatchString(output)
	} else if passedRe.MatchString(output) && !failedRe.MatchString(output) {
		passed = true
	} else if failedRe.MatchString(output) {
		passed = false
	}
	if passed {
		g.testPassed[test] = true
	}
}

func (g *Gate) matchRequiredTest(command string) string {
	for _, t := range g.criteria.RequiredTests {
		if strings.Contains(command, t) {
			return t
		}
	}
	return ""
}

// RecordCompilationResult records the outcome of a compilation attempt.
func (g *Gate) RecordCompilationResult(passed bool, errorCount int) {
	g.compilationSeen = true
	g.compilationPassed = passed
}

// IncrementCompilationNudge bumps the nudge counter without performing
// a full check, for callers that want to track compilation-specific
// retries separately (`incrementCompilationNudge`).
func (g *Gate) IncrementCompilationNudge() {
	g.nudgeCount++
}

// Check evaluates all configured criteria in precedence order:
// forceAllow, then satisfied, then missing+nudge.
func (g *Gate) Check() Result {
	if g.nudgeCount >= g.criteria.MaxAttempts {
		return Result{ForceAllow: true, Satisfied: true}
	}

	var missing []string
	if g.criteria.RequireFileChanges && !g.fileChanged {
		missing = append(missing, "file changes")
	}
	for _, t := range g.criteria.RequiredTests {
		if !g.testRan[t] {
			missing = append(missing, fmt.Sprintf("test %q has not been run", t))
		} else if !g.testPassed[t] {
			missing = append(missing, fmt.Sprintf("test %q has not passed", t))
		}
	}
	if g.criteria.RequireCompilation && (!g.compilationSeen || !g.compilationPassed) {
		missing = append(missing, "compilation")
	}

	if len(missing) == 0 {
		return Result{Satisfied: true}
	}

	g.nudgeCount++
	return Result{Missing: missing, Nudge: g.composeNudge(missing)}
}

func (g *Gate) composeNudge(missing []string) string {
	nudge := "Completion criteria not yet satisfied: " + strings.Join(missing, "; ") + "."
	if len(g.criteria.RequiredTests) > 0 {
		nudge += fmt.Sprintf(" Recommended: run `%s` and confirm it passes.", g.criteria.RequiredTests[0])
	}
	return nudge
}
