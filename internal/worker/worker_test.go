package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coreswarm/swarm/internal/agentstate"
	"github.com/coreswarm/swarm/internal/approval"
	"github.com/coreswarm/swarm/internal/budget"
	"github.com/coreswarm/swarm/internal/corekit"
	"github.com/coreswarm/swarm/internal/loopdetect"
	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/provider"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	turns []turnResponse
	i     int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	if s.i >= len(s.turns) {
		return provider.Response{RawOutput: []byte(`{"done": true}`)}, nil
	}
	raw, _ := json.Marshal(s.turns[s.i])
	s.i++
	return provider.Response{RawOutput: raw, InputTokens: 10, OutputTokens: 20}, nil
}

type fakeTools struct {
	calls []string
}

func (f *fakeTools) Execute(ctx context.Context, tool string, args map[string]any) (models.ToolResult, error) {
	f.calls = append(f.calls, tool)
	return models.ToolResult{Success: true, ExitCode: 0, Output: "ok"}, nil
}

func baseConfig(t *testing.T, p provider.Provider, tools ToolExecutor) Config {
	return Config{
		Subtask:  models.Subtask{ID: "s1", Type: models.SubtaskImplement, Description: "do it", Complexity: 1},
		WorkerID: "w1",
		ModelID:  "test-model",
		Provider: p,
		Tools:    tools,
		State:    agentstate.New(agentstate.Thresholds{}),
		Budget:   budget.NewTracker("w1", budget.Limits{}, nil),
		Loop:     loopdetect.New(loopdetect.Config{}),
		Approval: approval.New(approval.Config{}),
	}
}

func TestWorker_CompletesOnDoneFlag(t *testing.T) {
	p := &scriptedProvider{turns: []turnResponse{
		{Text: "working", ToolCalls: []toolCallJSON{{Tool: "write_file", Args: map[string]any{"path": "/a.go"}}}, Done: true},
	}}
	tools := &fakeTools{}
	cfg := baseConfig(t, p, tools)
	timeout := corekit.NewTimeout(time.Minute, time.Minute, time.Millisecond)
	defer timeout.Dispose()

	w := New(cfg, timeout, corekit.NewToken())
	result := w.Run(context.Background())

	require.NoError(t, result.Err)
	require.Equal(t, models.OutcomeSuccess, result.Attempt.Outcome)
	require.Equal(t, []string{"write_file"}, tools.calls)
	require.Equal(t, int64(10), result.Attempt.TokensIn)
	require.Equal(t, int64(20), result.Attempt.TokensOut)
}

func TestWorker_StopsOnCancellation(t *testing.T) {
	p := &scriptedProvider{}
	tools := &fakeTools{}
	cfg := baseConfig(t, p, tools)
	timeout := corekit.NewTimeout(time.Minute, time.Minute, time.Millisecond)
	defer timeout.Dispose()

	token := corekit.NewToken()
	token.Cancel("parent stopped")

	w := New(cfg, timeout, token)
	result := w.Run(context.Background())

	require.Error(t, result.Err)
	require.Equal(t, models.FailureOutcome("cancelled"), result.Attempt.Outcome)
}

func TestWorker_BudgetExceededStopsTheLoop(t *testing.T) {
	p := &scriptedProvider{turns: []turnResponse{
		{Text: "a", ToolCalls: []toolCallJSON{{Tool: "read_file", Args: map[string]any{"path": "/a"}}}},
		{Text: "b", ToolCalls: []toolCallJSON{{Tool: "read_file", Args: map[string]any{"path": "/b"}}}},
	}}
	tools := &fakeTools{}
	cfg := baseConfig(t, p, tools)
	cfg.Budget = budget.NewTracker("w1", budget.Limits{MaxTokens: 15}, nil)
	timeout := corekit.NewTimeout(time.Minute, time.Minute, time.Millisecond)
	defer timeout.Dispose()

	w := New(cfg, timeout, corekit.NewToken())
	result := w.Run(context.Background())

	require.Error(t, result.Err)
	require.Equal(t, models.FailureOutcome("budget_exceeded"), result.Attempt.Outcome)
}

func TestWorker_DeniedApprovalSkipsToolCall(t *testing.T) {
	p := &scriptedProvider{turns: []turnResponse{
		{Text: "a", ToolCalls: []toolCallJSON{{Tool: "bash", Args: map[string]any{"command": "rm -rf /"}}}},
	}}
	tools := &fakeTools{}
	cfg := baseConfig(t, p, tools)
	cfg.Approval = approval.New(approval.Config{RequireApproval: []string{"bash"}})
	cfg.Prompter = denyPrompter{}
	timeout := corekit.NewTimeout(time.Minute, time.Minute, time.Millisecond)
	defer timeout.Dispose()

	w := New(cfg, timeout, corekit.NewToken())
	result := w.Run(context.Background())

	require.Empty(t, tools.calls, "denied tool call must never reach the executor")
	require.Nil(t, result.Err)
}

type denyPrompter struct{}

func (denyPrompter) RequestApproval(ctx context.Context, tool string, args map[string]any, reason string) (bool, error) {
	return false, nil
}
