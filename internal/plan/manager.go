// Package plan implements the Pending Plan Manager (C14): in plan
// mode, tool calls that would mutate state are intercepted and
// enqueued as ProposedChange items on the active PendingPlan instead of
// executing immediately. The manager owns only the proposed-change
// queue and emits events for it; rendering the queue to a human belongs
// to the UI layer, per §9's "Pending-plan queue" design note.
package plan

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is one of PendingPlan's linear states.
type Status string

const (
	StatusPending            Status = "pending"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusPartiallyApproved  Status = "partially_approved"
)

// ProposedChange is one intercepted, not-yet-executed tool call.
type ProposedChange struct {
	ID         string
	Tool       string
	Args       map[string]any
	Reason     string
	Order      int
	ProposedAt time.Time
	ToolCallID string
}

// PendingPlan is the single active plan a Manager tracks at a time.
type PendingPlan struct {
	ID                 string
	Task               string
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ProposedChanges    []ProposedChange
	ExplorationSummary string
}

// EventType enumerates the events a Manager emits.
type EventType string

const (
	EventProposed EventType = "plan.proposed"
	EventApproved EventType = "plan.approved"
	EventRejected EventType = "plan.rejected"
	EventRestored EventType = "plan.restored"
)

// Event is one manager event. Plan is the manager's plan state at the
// time of the event; Changes is the subset of ProposedChange items the
// event concerns (e.g. the ones just approved).
type Event struct {
	Type    EventType
	Plan    PendingPlan
	Changes []ProposedChange
}

// Manager owns one active PendingPlan at a time (§5's "Pending plan:
// One active plan at a time ... Single-writer"). All mutating methods
// are synchronized by a single mutex.
type Manager struct {
	mu        sync.Mutex
	plan      *PendingPlan
	listeners []func(Event)
}

// New constructs a Manager with no active plan. Start begins a new plan
// for task.
func New() *Manager {
	return &Manager{}
}

// Subscribe registers fn to receive every event the manager emits.
// Returns an unsubscribe function; listener panics are recovered and
// swallowed so one bad subscriber cannot break another, mirroring
// corekit.Token's observer discipline.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	idx := len(m.listeners)
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = nil
		}
	}
}

func (m *Manager) emit(e Event) {
	for _, l := range m.listeners {
		if l == nil {
			continue
		}
		invoke(l, e)
	}
}

func invoke(fn func(Event), e Event) {
	defer func() { _ = recover() }()
	fn(e)
}

// Start begins a fresh pending plan for task, replacing any existing
// one. explorationSummary carries whatever exploration context the
// caller wants attached (typically the worker's read/search summary
// before it started proposing changes).
func (m *Manager) Start(task, explorationSummary string) PendingPlan {
	m.mu.Lock()
	now := time.Now()
	m.plan = &PendingPlan{
		ID:                 uuid.NewString(),
		Task:               task,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExplorationSummary: explorationSummary,
	}
	snapshot := *m.plan
	m.mu.Unlock()
	return snapshot
}

// Propose enqueues a new ProposedChange on the active plan, in
// arrival order. It is an error to propose against a plan that is no
// longer pending (already approved, rejected, or partially approved).
func (m *Manager) Propose(tool string, args map[string]any, reason, toolCallID string) (ProposedChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plan == nil {
		return ProposedChange{}, fmt.Errorf("plan: no active plan to propose against")
	}
	if m.plan.Status != StatusPending {
		return ProposedChange{}, fmt.Errorf("plan: cannot propose against a %s plan", m.plan.Status)
	}

	change := ProposedChange{
		ID:         uuid.NewString(),
		Tool:       tool,
		Args:       args,
		Reason:     reason,
		Order:      len(m.plan.ProposedChanges),
		ProposedAt: time.Now(),
		ToolCallID: toolCallID,
	}
	m.plan.ProposedChanges = append(m.plan.ProposedChanges, change)
	m.plan.UpdatedAt = time.Now()

	snapshot := *m.plan
	m.emit(Event{Type: EventProposed, Plan: snapshot, Changes: []ProposedChange{change}})
	return change, nil
}

// Approve drains the first count proposed changes (or all of them,
// when count is nil) and returns them in execution order. The plan's
// status becomes "approved" when every change was drained, or
// "partially_approved" when some remain queued.
func (m *Manager) Approve(count *int) ([]ProposedChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plan == nil {
		return nil, fmt.Errorf("plan: no active plan to approve")
	}
	if m.plan.Status != StatusPending {
		return nil, fmt.Errorf("plan: plan is already %s", m.plan.Status)
	}

	n := len(m.plan.ProposedChanges)
	if count != nil && *count < n {
		n = *count
	}

	approved := make([]ProposedChange, n)
	copy(approved, m.plan.ProposedChanges[:n])
	remaining := m.plan.ProposedChanges[n:]

	m.plan.ProposedChanges = remaining
	if len(remaining) == 0 {
		m.plan.Status = StatusApproved
	} else {
		m.plan.Status = StatusPartiallyApproved
	}
	m.plan.UpdatedAt = time.Now()

	snapshot := *m.plan
	m.emit(Event{Type: EventApproved, Plan: snapshot, Changes: approved})
	return approved, nil
}

// Reject clears every queued change and marks the plan rejected.
func (m *Manager) Reject() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plan == nil {
		return fmt.Errorf("plan: no active plan to reject")
	}
	if m.plan.Status != StatusPending {
		return fmt.Errorf("plan: plan is already %s", m.plan.Status)
	}

	rejected := m.plan.ProposedChanges
	m.plan.ProposedChanges = nil
	m.plan.Status = StatusRejected
	m.plan.UpdatedAt = time.Now()

	snapshot := *m.plan
	m.emit(Event{Type: EventRejected, Plan: snapshot, Changes: rejected})
	return nil
}

// RestorePlan reinstates plan as the active plan, e.g. after loading it
// back from the persistence adapter (§4.13's restorePlan). It replaces
// whatever plan is currently active, if any.
func (m *Manager) RestorePlan(p PendingPlan) {
	m.mu.Lock()
	cp := p
	m.plan = &cp
	snapshot := *m.plan
	m.mu.Unlock()

	m.emit(Event{Type: EventRestored, Plan: snapshot, Changes: snapshot.ProposedChanges})
}

// Current returns a snapshot of the active plan, or false if none is
// active.
func (m *Manager) Current() (PendingPlan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.plan == nil {
		return PendingPlan{}, false
	}
	return *m.plan, true
}
