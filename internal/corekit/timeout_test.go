package corekit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeout_IdleFiresBeforeHard(t *testing.T) {
	to := NewTimeout(10*time.Second, 60*time.Millisecond, 5*time.Millisecond)
	defer to.Dispose()

	require.Eventually(t, func() bool {
		return to.Token.IsCancellationRequested()
	}, time.Second, 5*time.Millisecond)

	require.True(t, strings.Contains(to.Token.CancellationReason(), "Idle timeout"))
}

func TestTimeout_HardFiresWithContinuousProgress(t *testing.T) {
	to := NewTimeout(60*time.Millisecond, 10*time.Second, 5*time.Millisecond)
	defer to.Dispose()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				to.ReportProgress()
			}
		}
	}()
	defer close(stop)

	require.Eventually(t, func() bool {
		return to.Token.IsCancellationRequested()
	}, time.Second, 5*time.Millisecond)

	require.True(t, strings.Contains(to.Token.CancellationReason(), "Maximum timeout exceeded"))
}

func TestTimeout_DisposeStopsFurtherCancellation(t *testing.T) {
	to := NewTimeout(5*time.Millisecond, 5*time.Millisecond, 2*time.Millisecond)
	to.Dispose()

	time.Sleep(20 * time.Millisecond)
	require.False(t, to.Token.IsCancellationRequested())
}

func TestLinkedToken_ParentCancelsChild(t *testing.T) {
	parent := NewToken()
	source := NewToken()
	linked := LinkedToken(parent, source)

	parent.Cancel("parent reason")
	require.True(t, linked.IsCancellationRequested())
	require.Equal(t, "parent reason", linked.CancellationReason())
	require.False(t, source.IsCancellationRequested())
}

func TestLinkedToken_SourceCancelDoesNotPropagateToParent(t *testing.T) {
	parent := NewToken()
	source := NewToken()
	linked := LinkedToken(parent, source)

	source.Cancel("timeout reason")
	require.True(t, linked.IsCancellationRequested())
	require.Equal(t, "timeout reason", linked.CancellationReason())
	require.False(t, parent.IsCancellationRequested())
}
