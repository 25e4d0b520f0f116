// Package circuitbreaker wraps a fallible operation with a breaker that
// trips on consecutive failures and recovers through a half-open probe
// window. It is built on github.com/sony/gobreaker,
// following the Settings{MaxRequests, Interval, Timeout, ReadyToTrip,
// OnStateChange} shape exercised in jordigilh-kubernaut's notification
// suite (test/integration/notification/suite_test.go), translated onto
// a CLOSED/OPEN/HALF_OPEN vocabulary and a tripOnErrors filter.
package circuitbreaker

import (
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// State is an exported three-value state, independent of gobreaker's
// own (lowercase) String() spelling.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrOpen is returned by Execute when the breaker is OPEN or when a
// HALF_OPEN probe slot is already full.
var ErrOpen = errors.New("circuit breaker is OPEN")

// Config configures a Breaker. FailureThreshold, ResetTimeout, and
// HalfOpenRequests map directly onto the breaker's transition table.
// TripOnErrors, when non-empty, limits which failures count toward the
// threshold: an error only trips the breaker if its message contains one
// of these substrings (case-insensitive) or matches via errors.Is against
// one of TripOnErrorKinds. Errors that don't match still propagate to the
// caller — they just don't count as a breaker failure.
type Config struct {
	Name             string
	FailureThreshold uint32
	ResetTimeout     time.Duration
	HalfOpenRequests uint32
	TripOnErrors     []string
	TripOnErrorKinds []error
}

// Breaker wraps a fallible operation. Zero value is not usable; use New.
type Breaker struct {
	cfg Config
	cb  *gobreaker.CircuitBreaker[any]
}

// New constructs a Breaker from cfg, defaulting HalfOpenRequests to 1 and
// FailureThreshold to 5 when unset.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		// Interval of 0 means CLOSED-state counts never reset on a
		// timer; they reset on state transition, so the threshold
		// counts consecutive failures rather than failures-per-interval.
		Interval: 0,
		Timeout:  cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !matchesFilter(err, cfg.TripOnErrors, cfg.TripOnErrorKinds)
		},
	}

	return &Breaker{cfg: cfg, cb: gobreaker.NewCircuitBreaker[any](st)}
}

func matchesFilter(err error, substrings []string, kinds []error) bool {
	if len(substrings) == 0 && len(kinds) == 0 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range substrings {
		if strings.Contains(msg, strings.ToLower(s)) {
			return true
		}
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// Execute runs fn if the breaker's state permits; otherwise it fails
// immediately with ErrOpen. In HALF_OPEN, at most HalfOpenRequests probes
// may run concurrently — gobreaker itself rejects requests beyond
// MaxRequests in that state, mapping to the same ErrOpen.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return v, err
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Counts exposes the underlying request/failure counters for diagnostics.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// RecordSuccess and RecordFailure let a caller update the breaker's
// counters outside of Execute. Each is implemented as a trivial Execute
// call whose only job is to report the outcome.
func (b *Breaker) RecordSuccess() {
	_, _ = b.Execute(func() (any, error) { return nil, nil })
}

func (b *Breaker) RecordFailure(err error) {
	if err == nil {
		err = errors.New("recorded failure")
	}
	_, _ = b.Execute(func() (any, error) { return nil, err })
}
