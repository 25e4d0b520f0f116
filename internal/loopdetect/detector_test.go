package loopdetect

import (
	"testing"

	"github.com/coreswarm/swarm/internal/models"
	"github.com/stretchr/testify/require"
)

func readCall(path string) models.ToolCall {
	return models.ToolCall{Tool: "read_file", Args: map[string]any{"path": path}}
}

func TestDetector_TripsOnceThenStaysSilentWhileLoopContinues(t *testing.T) {
	d := New(Config{ExactThreshold: 3, FuzzyThreshold: 4})

	require.False(t, d.Observe(readCall("/x.ts")).DoomLoop)
	require.False(t, d.Observe(readCall("/x.ts")).DoomLoop)
	require.True(t, d.Observe(readCall("/x.ts")).DoomLoop, "third identical call trips exact tier")
	require.False(t, d.Observe(readCall("/x.ts")).DoomLoop, "already in doom loop; no re-trip")
}

func TestDetector_BreaksOnDifferentCall(t *testing.T) {
	d := New(Config{ExactThreshold: 3, FuzzyThreshold: 4})
	d.Observe(readCall("/x.ts"))
	d.Observe(readCall("/x.ts"))
	d.Observe(readCall("/x.ts"))

	require.False(t, d.Observe(readCall("/y.ts")).DoomLoop)

	d.Observe(readCall("/y.ts"))
	require.True(t, d.Observe(readCall("/y.ts")).DoomLoop, "can retrip after the pattern broke")
}

func TestDetector_FuzzyTierOnVaryingExactArgs(t *testing.T) {
	d := New(Config{ExactThreshold: 3, FuzzyThreshold: 4})
	tc := func(extra int) models.ToolCall {
		return models.ToolCall{Tool: "read_file", Args: map[string]any{"path": "/x.ts", "extra": extra}}
	}

	require.False(t, d.Observe(tc(0)).DoomLoop)
	require.False(t, d.Observe(tc(10)).DoomLoop)
	require.False(t, d.Observe(tc(20)).DoomLoop)
	require.True(t, d.Observe(tc(30)).DoomLoop, "fuzzy tier trips on the 4th call sharing the primary-arg fingerprint")
}

func TestDetector_BashFailureCascade(t *testing.T) {
	d := New(Config{BashCascadeThreshold: 3})
	require.False(t, d.ObserveBashResult(1))
	require.False(t, d.ObserveBashResult(1))
	require.True(t, d.ObserveBashResult(1))

	require.False(t, d.ObserveBashResult(0), "a success resets the cascade")
}

func TestDetector_TestFixCycle(t *testing.T) {
	d := New(Config{TestFixCycleThreshold: 2})
	require.False(t, d.ObserveTestResult("npm test", false))
	require.True(t, d.ObserveTestResult("npm test", false))
}

func TestDetector_SummaryLoop(t *testing.T) {
	d := New(Config{SummaryLoopThreshold: 3})
	require.False(t, d.ObserveTurn(false))
	require.False(t, d.ObserveTurn(false))
	require.True(t, d.ObserveTurn(false))

	require.False(t, d.ObserveTurn(true), "a tool-call turn resets the streak")
}

func TestDetector_BashHeuristicFalsePositiveIsAcceptedBehavior(t *testing.T) {
	require.True(t, isTestCommand("./scripts/test-that-file-exists.sh"))
}
