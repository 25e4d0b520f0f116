package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_NoCriteriaReturnsNil(t *testing.T) {
	require.Nil(t, New(Criteria{}))
}

func TestGate_SatisfiedWhenAllCriteriaMet(t *testing.T) {
	g := New(Criteria{RequireFileChanges: true, RequiredTests: []string{"go test ./..."}})
	require.NotNil(t, g)

	res := g.Check()
	require.False(t, res.Satisfied)
	require.Contains(t, res.Missing, "file changes")

	g.RecordFileChange()
	g.RecordBashExecution("go test ./...", "ok  pkg  0.01s\nPASS", 0)

	res = g.Check()
	require.True(t, res.Satisfied)
}

func TestGate_PytestSummaryParsed(t *testing.T) {
	g := New(Criteria{RequiredTests: []string{"pytest"}})
	g.RecordBashExecution("pytest -q", "3 passed in 0.12s", 0)

	res := g.Check()
	require.True(t, res.Satisfied)
}

func TestGate_FailedOutputDoesNotSatisfy(t *testing.T) {
	g := New(Criteria{RequiredTests: []string{"go test"}})
	g.RecordBashExecution("go test", "--- FAIL: TestX\nFAILED", 1)

	res := g.Check()
	require.False(t, res.Satisfied)
}

func TestGate_ForceAllowAfterMaxAttempts(t *testing.T) {
	g := New(Criteria{RequireFileChanges: true, MaxAttempts: 2})

	res := g.Check()
	require.False(t, res.Satisfied)
	res = g.Check()
	require.False(t, res.Satisfied)

	res = g.Check()
	require.True(t, res.ForceAllow)
	require.True(t, res.Satisfied)
}

func TestGate_CompilationRequired(t *testing.T) {
	g := New(Criteria{RequireCompilation: true})
	require.False(t, g.Check().Satisfied)

	g.RecordCompilationResult(true, 0)
	require.True(t, g.Check().Satisfied)
}
