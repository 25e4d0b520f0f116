package approval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScope_RequireApprovalWinsOverAutoApprove(t *testing.T) {
	s := New(Config{
		RequireApproval: []string{"Bash"},
		AutoApprove:     []string{"bash"},
	})
	d := s.Resolve("bash", nil)
	require.True(t, d.RequiresApproval)
}

func TestScope_AutoApproveCaseInsensitive(t *testing.T) {
	s := New(Config{AutoApprove: []string{"read_file"}})
	d := s.Resolve("READ_FILE", nil)
	require.False(t, d.RequiresApproval)
}

func TestScope_ScopedApproveInsideGlob(t *testing.T) {
	s := New(Config{ScopedApprove: map[string]ScopedRule{
		"write_file": {Paths: []string{"src/**"}},
	}})
	d := s.Resolve("write_file", map[string]any{"path": "src/internal/x.go"})
	require.False(t, d.RequiresApproval)
}

func TestScope_ScopedApproveOutsideGlob(t *testing.T) {
	s := New(Config{ScopedApprove: map[string]ScopedRule{
		"write_file": {Paths: []string{"src/**"}},
	}})
	d := s.Resolve("write_file", map[string]any{"path": "secrets/x.go"})
	require.True(t, d.RequiresApproval)
}

func TestScope_PrefixBoundarySemantics(t *testing.T) {
	s := New(Config{ScopedApprove: map[string]ScopedRule{
		"write_file": {Paths: []string{"src"}},
	}})
	require.False(t, s.Resolve("write_file", map[string]any{"path": "src/x.go"}).RequiresApproval)
	require.True(t, s.Resolve("write_file", map[string]any{"path": "src-backup/x.go"}).RequiresApproval)
}

func TestScope_ScopedApproveMissingPathRequiresApproval(t *testing.T) {
	s := New(Config{ScopedApprove: map[string]ScopedRule{
		"write_file": {Paths: []string{"src/**"}},
	}})
	d := s.Resolve("write_file", map[string]any{})
	require.True(t, d.RequiresApproval)
}

func TestScope_RiskBasedDefaultModerateThreshold(t *testing.T) {
	s := New(Config{
		RiskClassifier: map[string]RiskLevel{"bash": RiskModerate, "read_file": RiskSafe},
		Threshold:      ThresholdModerate,
	})
	require.True(t, s.Resolve("bash", nil).RequiresApproval)
	require.False(t, s.Resolve("read_file", nil).RequiresApproval)
}

func TestScope_RiskBasedDefaultHighThresholdExemptsModerate(t *testing.T) {
	s := New(Config{
		RiskClassifier: map[string]RiskLevel{"bash": RiskModerate, "rm": RiskDangerous},
		Threshold:      ThresholdHigh,
	})
	require.False(t, s.Resolve("bash", nil).RequiresApproval)
	require.True(t, s.Resolve("rm", nil).RequiresApproval)
}
