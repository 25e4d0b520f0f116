package corekit

import (
	"fmt"
	"sync"
	"time"
)

// Timeout is a progress-aware idle/hard timeout. It drives a single
// Token: the token cancels with an idle-timeout
// reason if ReportProgress isn't called for idleMs, or with a hard-timeout
// reason once hardMs has elapsed since creation, whichever fires first.
type Timeout struct {
	Token *Token

	mu            sync.Mutex
	start         time.Time
	lastProgress  time.Time
	hardMs        time.Duration
	idleMs        time.Duration
	tick          time.Duration
	ticker        *time.Ticker
	stop          chan struct{}
	disposed      bool
	disposeOnce   sync.Once
}

// NewTimeout creates and starts a progress-aware timeout. tickMs controls
// how often the internal ticker polls for expiry; it does not change
// semantics, only latency of detection.
func NewTimeout(hardMs, idleMs, tickMs time.Duration) *Timeout {
	now := time.Now()
	to := &Timeout{
		Token:        NewToken(),
		start:        now,
		lastProgress: now,
		hardMs:       hardMs,
		idleMs:       idleMs,
		tick:         tickMs,
		stop:         make(chan struct{}),
	}
	if to.tick <= 0 {
		to.tick = 100 * time.Millisecond
	}
	to.ticker = time.NewTicker(to.tick)
	go to.run()
	return to
}

func (to *Timeout) run() {
	for {
		select {
		case <-to.stop:
			return
		case now := <-to.ticker.C:
			to.checkExpiry(now)
		}
	}
}

func (to *Timeout) checkExpiry(now time.Time) {
	to.mu.Lock()
	if to.disposed {
		to.mu.Unlock()
		return
	}
	elapsedHard := now.Sub(to.start)
	elapsedIdle := now.Sub(to.lastProgress)
	hardMs := to.hardMs
	idleMs := to.idleMs
	to.mu.Unlock()

	if idleMs > 0 && elapsedIdle >= idleMs {
		to.Token.Cancel(fmt.Sprintf("Idle timeout after %ds", int(idleMs.Seconds())))
		return
	}
	if hardMs > 0 && elapsedHard >= hardMs {
		to.Token.Cancel(fmt.Sprintf("Maximum timeout exceeded after %ds", int(hardMs.Seconds())))
	}
}

// ReportProgress resets the idle deadline without touching the hard
// deadline: calling it resets the idle timer but never the hard one.
func (to *Timeout) ReportProgress() {
	to.mu.Lock()
	defer to.mu.Unlock()
	if to.disposed {
		return
	}
	to.lastProgress = time.Now()
}

// GetIdleTime returns how long it has been since the last reported
// progress.
func (to *Timeout) GetIdleTime() time.Duration {
	to.mu.Lock()
	defer to.mu.Unlock()
	return time.Since(to.lastProgress)
}

// GetElapsedTime returns how long it has been since the timeout started.
func (to *Timeout) GetElapsedTime() time.Duration {
	to.mu.Lock()
	defer to.mu.Unlock()
	return time.Since(to.start)
}

// Cancel requests cancellation of the underlying token with an explicit
// reason, independent of the idle/hard timers. It is a no-op after
// Dispose.
func (to *Timeout) Cancel(reason string) {
	to.mu.Lock()
	disposed := to.disposed
	to.mu.Unlock()
	if disposed {
		return
	}
	to.Token.Cancel(reason)
}

// Dispose stops the internal ticker and its background goroutine. After
// Dispose, neither the idle/hard timers nor Cancel cancel the token.
func (to *Timeout) Dispose() {
	to.disposeOnce.Do(func() {
		to.mu.Lock()
		to.disposed = true
		to.mu.Unlock()
		to.ticker.Stop()
		close(to.stop)
	})
}

// LinkedToken returns a Token that cancels iff parent cancels or source
// cancels, propagating whichever reason fired first verbatim. A
// cancellation originating from source (typically a Timeout's token)
// never propagates back to parent — only parent-or-source can cancel
// the linked token, never the reverse.
func LinkedToken(parent *Token, source *Token) *Token {
	linked := NewToken()

	if parent != nil {
		parent.OnCancel(func(reason string) { linked.Cancel(reason) })
	}
	if source != nil {
		source.OnCancel(func(reason string) { linked.Cancel(reason) })
	}
	if parent != nil && parent.IsCancellationRequested() {
		linked.Cancel(parent.CancellationReason())
	}
	if source != nil && source.IsCancellationRequested() {
		linked.Cancel(source.CancellationReason())
	}

	return linked
}
