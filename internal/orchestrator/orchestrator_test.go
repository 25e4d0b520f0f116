package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreswarm/swarm/internal/agentstate"
	"github.com/coreswarm/swarm/internal/approval"
	"github.com/coreswarm/swarm/internal/audit"
	"github.com/coreswarm/swarm/internal/budget"
	"github.com/coreswarm/swarm/internal/loopdetect"
	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/pool"
	"github.com/coreswarm/swarm/internal/provider"
	"github.com/coreswarm/swarm/internal/swarmlog"
	"github.com/coreswarm/swarm/internal/verify"
	"github.com/coreswarm/swarm/internal/worker"
)

type fixedDecomposer struct {
	subtasks []models.Subtask
	err      error
}

func (d *fixedDecomposer) Decompose(ctx context.Context, goal models.Goal) ([]models.Subtask, error) {
	return d.subtasks, d.err
}

type doneProvider struct{}

func (doneProvider) Name() string { return "done" }
func (doneProvider) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	return provider.Response{RawOutput: []byte(`{"done": true}`)}, nil
}

type noopTools struct{}

func (noopTools) Execute(ctx context.Context, tool string, args map[string]any) (models.ToolResult, error) {
	return models.ToolResult{Success: true}, nil
}

type testFactory struct {
	shared *budget.SharedEconomics
}

func (f *testFactory) BuildProvider(models.Subtask, string) provider.Provider { return doneProvider{} }
func (f *testFactory) BuildBudget(workerID string) *budget.Tracker {
	return budget.NewTracker(workerID, budget.Limits{}, f.shared)
}
func (f *testFactory) BuildState() *agentstate.Machine                 { return agentstate.New(agentstate.Thresholds{}) }
func (f *testFactory) BuildLoopDetector() *loopdetect.Detector         { return loopdetect.New(loopdetect.Config{}) }
func (f *testFactory) BuildApproval() *approval.Scope                  { return approval.New(approval.Config{}) }
func (f *testFactory) BuildVerify(models.Subtask) *verify.Gate         { return nil }
func (f *testFactory) Tools() worker.ToolExecutor                      { return noopTools{} }
func (f *testFactory) Prompter() worker.ApprovalPrompter               { return nil }
func (f *testFactory) Judge() worker.Judge                             { return nil }

func newTestOrchestrator(dec Decomposer) *Orchestrator {
	shared := budget.NewSharedEconomics(budget.GlobalLoopThresholds{})
	p := pool.New(pool.Config{MaxConcurrency: 2, MaxRetries: 1, Factory: &testFactory{shared: shared}})
	return New(Config{
		Decomposer: dec,
		Pool:       p,
		Ledger:     audit.New(nil),
		Logger:     swarmlog.NullLogger{},
		Shared:     shared,
	})
}

func TestOrchestrator_CycleDetectionFailsBeforeDispatch(t *testing.T) {
	dec := &fixedDecomposer{subtasks: []models.Subtask{
		{ID: "A", Type: models.SubtaskImplement, Complexity: 1, Dependencies: []string{"B"}},
		{ID: "B", Type: models.SubtaskImplement, Complexity: 1, Dependencies: []string{"A"}},
	}}
	o := newTestOrchestrator(dec)

	result, err := o.Run(context.Background(), models.Goal{Text: "do a thing"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
	require.Empty(t, result.Outcomes)
}

func TestOrchestrator_SuccessfulRunCompletesAllSubtasks(t *testing.T) {
	dec := &fixedDecomposer{subtasks: []models.Subtask{
		{ID: "A", Type: models.SubtaskImplement, Complexity: 1},
		{ID: "B", Type: models.SubtaskImplement, Complexity: 1, Dependencies: []string{"A"}},
	}}
	o := newTestOrchestrator(dec)

	result, err := o.Run(context.Background(), models.Goal{Text: "do a thing"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Outcomes, 2)
	require.Len(t, result.Waves, 2)
}

func TestOrchestrator_DecompositionRetriesOnceThenFails(t *testing.T) {
	dec := &fixedDecomposer{err: context.DeadlineExceeded}
	o := newTestOrchestrator(dec)

	_, err := o.Run(context.Background(), models.Goal{Text: "do a thing"})
	require.Error(t, err)
}

type failingReviewer struct {
	calls int
}

func (r *failingReviewer) Review(ctx context.Context, wave models.Wave, outcomes []pool.TaskOutcome) (bool, string) {
	r.calls++
	return false, "looked suspicious"
}

func TestOrchestrator_ReviewerIsConsultedPerWave(t *testing.T) {
	dec := &fixedDecomposer{subtasks: []models.Subtask{
		{ID: "A", Type: models.SubtaskImplement, Complexity: 1},
	}}
	shared := budget.NewSharedEconomics(budget.GlobalLoopThresholds{})
	p := pool.New(pool.Config{MaxConcurrency: 2, MaxRetries: 1, Factory: &testFactory{shared: shared}})
	reviewer := &failingReviewer{}
	o := New(Config{
		Decomposer: dec,
		Pool:       p,
		Ledger:     audit.New(nil),
		Logger:     swarmlog.NullLogger{},
		Reviewer:   reviewer,
	})

	_, err := o.Run(context.Background(), models.Goal{Text: "do a thing"})
	require.NoError(t, err)
	require.Equal(t, 1, reviewer.calls)
}
