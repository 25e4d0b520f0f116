package corekit

import "fmt"

// CancellationError is returned by Race when the token cancels before the
// underlying operation finishes. It carries the token's reason so callers
// can distinguish "cancelled" from any other failure.
type CancellationError struct {
	Reason string
}

func (e *CancellationError) Error() string {
	if e.Reason == "" {
		return "operation cancelled"
	}
	return fmt.Sprintf("operation cancelled: %s", e.Reason)
}

// Race runs fn in its own goroutine and returns whichever finishes first:
// fn's own result, or a CancellationError once token cancels. If token is
// already cancelled when Race is called, fn is never started: the race
// fails immediately without starting the operation.
func Race[T any](fn func() (T, error), token *Token) (T, error) {
	var zero T
	if token != nil && token.IsCancellationRequested() {
		return zero, &CancellationError{Reason: token.CancellationReason()}
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{val: v, err: err}
	}()

	if token == nil {
		r := <-done
		return r.val, r.err
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-token.Done():
		return zero, &CancellationError{Reason: token.CancellationReason()}
	}
}
