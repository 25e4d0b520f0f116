// Package corekit provides the cancellation and timeout primitives every
// other component in the swarm builds on: an observable, monotonic
// cancellation token, a progress-aware idle/hard timeout, and a race
// helper that ties an operation to a token's lifetime.
package corekit

import "sync"

// Token is an observable, fire-once-per-subscriber cancellation signal.
// Once cancelled it stays cancelled; IsCancellationRequested never flips
// back to false.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	reason    string
	observers []func(reason string)
}

// NewToken returns a fresh, uncancelled token.
func NewToken() *Token {
	return &Token{}
}

// IsCancellationRequested reports whether the token has been cancelled.
func (t *Token) IsCancellationRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// CancellationReason returns the reason passed to the cancelling Cancel
// call, or "" if the token has not been cancelled.
func (t *Token) CancellationReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Cancel requests cancellation with the given reason. Only the first call
// takes effect; subsequent calls are no-ops, matching the monotonic
// invariant. Observers are invoked synchronously, in
// registration order, on the calling goroutine; a panicking observer is
// recovered and swallowed so it cannot prevent later observers from
// running.
func (t *Token) Cancel(reason string) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.reason = reason
	observers := t.observers
	t.mu.Unlock()

	for _, obs := range observers {
		invokeObserver(obs, reason)
	}
}

func invokeObserver(obs func(reason string), reason string) {
	defer func() { _ = recover() }()
	obs(reason)
}

// OnCancel registers a listener invoked when the token cancels. If the
// token is already cancelled, the listener fires immediately on the
// calling goroutine. Returns an unsubscribe
// function; unsubscribing after the token already fired is a no-op.
func (t *Token) OnCancel(fn func(reason string)) (unsubscribe func()) {
	t.mu.Lock()
	if t.cancelled {
		reason := t.reason
		t.mu.Unlock()
		invokeObserver(fn, reason)
		return func() {}
	}

	idx := len(t.observers)
	t.observers = append(t.observers, fn)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if idx < len(t.observers) {
			t.observers[idx] = nil
		}
	}
}

// Done returns a channel that closes when the token cancels. Useful for
// select-based consumers that want the same semantics as context.Context.
func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	t.OnCancel(func(string) { close(ch) })
	return ch
}
