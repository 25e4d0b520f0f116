package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreswarm/swarm/internal/plan"
)

func TestExecutor_WriteThenReadRoundTrips(t *testing.T) {
	e := New(t.TempDir())

	_, err := e.Execute(context.Background(), "write_file", map[string]any{"path": "a.txt", "content": "hello"})
	require.NoError(t, err)

	result, err := e.Execute(context.Background(), "read_file", map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "hello", result.Output)
}

func TestExecutor_EditFileReplacesText(t *testing.T) {
	e := New(t.TempDir())
	e.Execute(context.Background(), "write_file", map[string]any{"path": "a.txt", "content": "foo bar"})

	result, err := e.Execute(context.Background(), "edit_file", map[string]any{"path": "a.txt", "old_text": "bar", "new_text": "baz"})
	require.NoError(t, err)
	require.True(t, result.Success)

	read, _ := e.Execute(context.Background(), "read_file", map[string]any{"path": "a.txt"})
	require.Equal(t, "foo baz", read.Output)
}

func TestExecutor_PathEscapeIsRejected(t *testing.T) {
	e := New(t.TempDir())
	result, err := e.Execute(context.Background(), "read_file", map[string]any{"path": "../../etc/passwd"})
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestExecutor_BashRunsCommandAndCapturesExitCode(t *testing.T) {
	e := New(t.TempDir())
	result, err := e.Execute(context.Background(), "bash", map[string]any{"command": "exit 3"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 3, result.ExitCode)
}

func TestExecutor_PlanModeQueuesMutatingToolInstead(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)
	mgr := plan.New()
	mgr.Start("test task", "")
	e.Plan = mgr
	e.PlanMode = func() bool { return true }

	result, err := e.Execute(context.Background(), "write_file", map[string]any{"path": "a.txt", "content": "x"})
	require.NoError(t, err)
	require.True(t, result.Success)

	current, ok := mgr.Current()
	require.True(t, ok)
	require.Len(t, current.ProposedChanges, 1)
}
