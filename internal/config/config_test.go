package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_ValidatesCleanly(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_MergesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget:\n  max_tokens: 5000\npool:\n  max_concurrency: 8\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 5000, cfg.Budget.MaxTokens)
	require.Equal(t, 8, cfg.Pool.MaxConcurrency)
	require.Equal(t, Default().LogLevel, cfg.LogLevel)
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsFuzzyBelowExactThreshold(t *testing.T) {
	cfg := Default()
	cfg.LoopDetect.ExactThreshold = 5
	cfg.LoopDetect.FuzzyThreshold = 2
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsCriticalBelowWarnThreshold(t *testing.T) {
	cfg := Default()
	cfg.Resource.WarnThreshold = 0.9
	cfg.Resource.CriticalThreshold = 0.5
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Pool.MaxConcurrency = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyDBPath(t *testing.T) {
	cfg := Default()
	cfg.Persistence.DBPath = ""
	require.Error(t, cfg.Validate())
}
