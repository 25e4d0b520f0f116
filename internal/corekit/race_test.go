package corekit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRace_ReturnsOperationResult(t *testing.T) {
	tok := NewToken()
	v, err := Race(func() (int, error) { return 42, nil }, tok)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestRace_CancelledBeforeStartNeverRunsOperation(t *testing.T) {
	tok := NewToken()
	tok.Cancel("nope")

	ran := false
	_, err := Race(func() (int, error) {
		ran = true
		return 1, nil
	}, tok)

	require.Error(t, err)
	var cancelErr *CancellationError
	require.True(t, errors.As(err, &cancelErr))
	require.False(t, ran)
}

func TestRace_TokenCancelsDuringOperation(t *testing.T) {
	tok := NewToken()
	go func() {
		time.Sleep(5 * time.Millisecond)
		tok.Cancel("aborted")
	}()

	_, err := Race(func() (int, error) {
		time.Sleep(time.Second)
		return 1, nil
	}, tok)

	require.Error(t, err)
	var cancelErr *CancellationError
	require.True(t, errors.As(err, &cancelErr))
	require.Equal(t, "aborted", cancelErr.Reason)
}
