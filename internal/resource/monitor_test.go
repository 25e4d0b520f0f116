package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeCPU(d *time.Duration) func() time.Duration {
	return func() time.Duration { return *d }
}

func TestMonitor_ConcurrentOpsExceeded(t *testing.T) {
	var cpu time.Duration
	m := New(Limits{MaxConcurrentOps: 2, WarnThreshold: 0.5, CriticalThreshold: 0.9}, fakeCPU(&cpu))

	r1 := m.StartOperation()
	r2 := m.StartOperation()
	defer r1()
	defer r2()

	report := m.Check()
	require.Equal(t, StatusExceeded, report.Status)
	require.Equal(t, RecommendStop, report.Recommendation)
}

func TestMonitor_ReleaseClampsAtZero(t *testing.T) {
	var cpu time.Duration
	m := New(Limits{MaxConcurrentOps: 5}, fakeCPU(&cpu))
	release := m.StartOperation()
	release()
	release() // double release must not go negative

	report := m.Check()
	require.Equal(t, 0, report.Usage.ConcurrentOps)
}

func TestMonitor_RunTrackedFailsFastWhenExceeded(t *testing.T) {
	var cpu time.Duration
	m := New(Limits{MaxConcurrentOps: 1}, fakeCPU(&cpu))
	release := m.StartOperation()
	defer release()

	called := false
	err := m.RunTracked(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrResourceLimit)
	require.False(t, called)
}

func TestMonitor_RunIfAvailableFallsBackOnCritical(t *testing.T) {
	var cpu time.Duration
	m := New(Limits{MaxConcurrentOps: 10, WarnThreshold: 0.1, CriticalThreshold: 0.2}, fakeCPU(&cpu))
	for i := 0; i < 3; i++ {
		m.StartOperation()
	}

	called := false
	err := m.RunIfAvailable(func() error { called = true; return nil }, nil)
	require.NoError(t, err)
	require.False(t, called)
}

func TestMonitor_ResetCPUTimePreservesConcurrentOps(t *testing.T) {
	cpu := 5 * time.Second
	m := New(Limits{MaxCPUTime: 10 * time.Second}, fakeCPU(&cpu))
	release := m.StartOperation()
	defer release()

	cpu = 8 * time.Second
	m.ResetCPUTime()

	report := m.Check()
	require.Equal(t, 1, report.Usage.ConcurrentOps)
	require.Equal(t, time.Duration(0), report.Usage.CPUTime)
}
