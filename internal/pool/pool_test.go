package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/coreswarm/swarm/internal/agentstate"
	"github.com/coreswarm/swarm/internal/approval"
	"github.com/coreswarm/swarm/internal/audit"
	"github.com/coreswarm/swarm/internal/budget"
	"github.com/coreswarm/swarm/internal/corekit"
	"github.com/coreswarm/swarm/internal/loopdetect"
	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/provider"
	"github.com/coreswarm/swarm/internal/quality"
	"github.com/coreswarm/swarm/internal/swarmlog"
	"github.com/coreswarm/swarm/internal/verify"
	"github.com/coreswarm/swarm/internal/worker"
	"github.com/stretchr/testify/require"
)

type doneProvider struct{}

func (doneProvider) Name() string { return "done" }
func (doneProvider) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	return provider.Response{RawOutput: []byte(`{"done": true}`)}, nil
}

type noopTools struct{}

func (noopTools) Execute(ctx context.Context, tool string, args map[string]any) (models.ToolResult, error) {
	return models.ToolResult{Success: true}, nil
}

type fixedFactory struct {
	shared *budget.SharedEconomics
}

func (f *fixedFactory) BuildProvider(subtask models.Subtask, modelID string) provider.Provider {
	return doneProvider{}
}
func (f *fixedFactory) BuildBudget(workerID string) *budget.Tracker {
	return budget.NewTracker(workerID, budget.Limits{}, f.shared)
}
func (f *fixedFactory) BuildState() *agentstate.Machine                 { return agentstate.New(agentstate.Thresholds{}) }
func (f *fixedFactory) BuildLoopDetector() *loopdetect.Detector         { return loopdetect.New(loopdetect.Config{}) }
func (f *fixedFactory) BuildApproval() *approval.Scope                  { return approval.New(approval.Config{}) }
func (f *fixedFactory) BuildVerify(subtask models.Subtask) *verify.Gate { return nil }
func (f *fixedFactory) Tools() worker.ToolExecutor                      { return noopTools{} }
func (f *fixedFactory) Prompter() worker.ApprovalPrompter               { return nil }
func (f *fixedFactory) Judge() worker.Judge                             { return nil }

func newTestPool() *Pool {
	return New(Config{
		MaxConcurrency: 2,
		MaxRetries:     1,
		Factory:        &fixedFactory{shared: budget.NewSharedEconomics(budget.GlobalLoopThresholds{})},
	})
}

func TestPool_ExecuteWave_AllSucceedWithoutQualityGate(t *testing.T) {
	p := newTestPool()
	subtasks := map[string]models.Subtask{
		"a": {ID: "a", Type: models.SubtaskImplement, Complexity: 1},
		"b": {ID: "b", Type: models.SubtaskImplement, Complexity: 1},
	}
	wave := models.Wave{Index: 0, SubtaskIDs: []string{"a", "b"}}

	results := p.ExecuteWave(context.Background(), corekit.NewToken(), "session-1", subtasks, wave, nil)

	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, models.OutcomeSuccess, r.Outcome)
		require.Len(t, r.Attempts, 1)
	}
}

func TestPool_ExecuteWave_SkipsDependencyFailedSubtasks(t *testing.T) {
	p := newTestPool()
	subtasks := map[string]models.Subtask{
		"a": {ID: "a", Type: models.SubtaskImplement, Complexity: 1},
	}
	wave := models.Wave{Index: 1, SubtaskIDs: []string{"a"}}

	results := p.ExecuteWave(context.Background(), corekit.NewToken(), "session-1", subtasks, wave, map[string]string{"a": "dependency x failed"})

	require.Len(t, results, 1)
	require.Equal(t, models.OutcomeSkipped, results[0].Outcome)
	require.Equal(t, "dependency x failed", results[0].SkipReason)
}

func TestPool_ExecuteWave_CancelledTokenSkipsRemaining(t *testing.T) {
	p := newTestPool()
	subtasks := map[string]models.Subtask{
		"a": {ID: "a", Type: models.SubtaskImplement, Complexity: 1},
	}
	wave := models.Wave{Index: 0, SubtaskIDs: []string{"a"}}

	tok := corekit.NewToken()
	tok.Cancel("stop")

	results := p.ExecuteWave(context.Background(), tok, "session-1", subtasks, wave, nil)

	require.Len(t, results, 1)
	require.Equal(t, models.OutcomeSkipped, results[0].Outcome)
}

func TestPool_QualityRejectionExhaustsRetries(t *testing.T) {
	p := New(Config{
		MaxConcurrency: 1,
		MaxRetries:     1,
		Factory:        &fixedFactory{},
		Quality:        quality.New(quality.Config{QualityThreshold: 5}),
	})
	subtasks := map[string]models.Subtask{"a": {ID: "a", Type: models.SubtaskImplement, Complexity: 1}}
	wave := models.Wave{Index: 0, SubtaskIDs: []string{"a"}}

	results := p.ExecuteWave(context.Background(), corekit.NewToken(), "session-1", subtasks, wave, nil)

	require.Len(t, results, 1)
	require.Len(t, results[0].Attempts, 2, "initial attempt plus one retry before exhaustion")
	require.Equal(t, models.OutcomeSuccess, results[0].Outcome, "last attempt always bypasses the gate")
}

type recordingLogger struct {
	mu     sync.Mutex
	events []swarmlog.Event
}

func (l *recordingLogger) Log(e swarmlog.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingLogger) types() []swarmlog.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]swarmlog.Type, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func TestPool_QualityRejectionEmitsEventsAndLedgerEntries(t *testing.T) {
	logger := &recordingLogger{}
	ledger := audit.New(nil)
	p := New(Config{
		MaxConcurrency: 1,
		MaxRetries:     1,
		Factory:        &fixedFactory{},
		Quality:        quality.New(quality.Config{QualityThreshold: 5, RejectionBreakerThreshold: 1}),
		Logger:         logger,
		Ledger:         ledger,
	})
	subtasks := map[string]models.Subtask{"a": {ID: "a", Type: models.SubtaskImplement, Complexity: 1}}
	wave := models.Wave{Index: 0, SubtaskIDs: []string{"a"}}

	p.ExecuteWave(context.Background(), corekit.NewToken(), "session-1", subtasks, wave, nil)

	require.Contains(t, logger.types(), swarmlog.EventQualityRejected)
	require.Contains(t, logger.types(), swarmlog.EventOrchestratorDecision, "rejection circuit breaker threshold of 1 trips on the first rejection")

	rejected := ledger.Query(audit.Query{EventTypes: []audit.EventType{audit.EventActionRejected}})
	require.NotEmpty(t, rejected, "quality rejection must be written to the ledger")

	policy := ledger.Query(audit.Query{EventTypes: []audit.EventType{audit.EventPolicyApplied}})
	require.NotEmpty(t, policy, "the circuit breaker trip must be written to the ledger")
}
