// Package audit implements the append-only audit and rollback ledger:
// every consequential action in a swarm run is recorded here, and a
// subset of entries can be rolled back.
package audit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the ledger's log* operations, one event type per
// operation the ledger supports.
type EventType string

const (
	EventActionRequested  EventType = "action_requested"
	EventApprovalDecision EventType = "approval_decision"
	EventActionRejected   EventType = "action_rejected"
	EventActionExecuted   EventType = "action_executed"
	EventRollback         EventType = "action_rolled_back"
	EventEscalation       EventType = "escalation"
	EventPolicyApplied    EventType = "policy_applied"
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
)

// RollbackType names one of the five supported rollback handler kinds.
type RollbackType string

const (
	RollbackFileRestore     RollbackType = "file_restore"
	RollbackCommandUndo     RollbackType = "command_undo"
	RollbackDatabaseRestore RollbackType = "database_restore"
	RollbackConfigRestore   RollbackType = "config_restore"
	RollbackCustom          RollbackType = "custom"
)

// Entry is one ledger record. Reversible entries carry a RollbackType
// and RollbackData; LinkedEntryID connects a rollback entry back to the
// action it reversed.
type Entry struct {
	ID             string
	Timestamp      time.Time
	SessionID      string
	ActorID        string
	EventType      EventType
	ActionType     string
	Data           map[string]any
	Reversible     bool
	RollbackType   RollbackType
	RollbackData   map[string]any
	LinkedEntryID  string
}

// Ledger is the append-only store. Writes are serialized by a mutex so
// entries have a total order per session.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	handlers map[RollbackType]Handler
}

// Handler reverses one RollbackType. Verify, when non-nil, checks
// post-rollback state and returns an error describing any mismatch.
type Handler struct {
	Rollback func(data map[string]any) error
	Verify   func(data map[string]any) error
}

// New constructs an empty Ledger with the given rollback handlers
// registered by type.
func New(handlers map[RollbackType]Handler) *Ledger {
	if handlers == nil {
		handlers = make(map[RollbackType]Handler)
	}
	return &Ledger{handlers: handlers}
}

func (l *Ledger) append(e Entry) Entry {
	e.ID = uuid.NewString()
	e.Timestamp = time.Now()
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return e
}

// LogActionRequested records a worker's intent to perform an action
// before approval is resolved.
func (l *Ledger) LogActionRequested(sessionID, actorID, actionType string, data map[string]any) Entry {
	return l.append(Entry{SessionID: sessionID, ActorID: actorID, EventType: EventActionRequested, ActionType: actionType, Data: data})
}

// LogApprovalDecision records whether a requested action was approved.
func (l *Ledger) LogApprovalDecision(sessionID, actorID, actionType string, approved bool) Entry {
	return l.append(Entry{SessionID: sessionID, ActorID: actorID, EventType: EventApprovalDecision, ActionType: actionType, Data: map[string]any{"approved": approved}})
}

// LogActionRejected records an action that was evaluated and turned
// down — a quality-gate rejection being the control plane's only
// current source of these, distinct from an approval_decision
// (EventApprovalDecision), which records a human/policy yes-or-no on a
// request rather than a judge's rejection of a completed attempt.
func (l *Ledger) LogActionRejected(sessionID, actorID, actionType string, data map[string]any) Entry {
	return l.append(Entry{SessionID: sessionID, ActorID: actorID, EventType: EventActionRejected, ActionType: actionType, Data: data})
}

// LogActionExecuted records a completed action, optionally reversible.
func (l *Ledger) LogActionExecuted(sessionID, actorID, actionType string, data map[string]any, rollbackType RollbackType, rollbackData map[string]any) Entry {
	return l.append(Entry{
		SessionID: sessionID, ActorID: actorID, EventType: EventActionExecuted, ActionType: actionType,
		Data: data, Reversible: rollbackType != "", RollbackType: rollbackType, RollbackData: rollbackData,
	})
}

// LogEscalation records an approval escalation to a human operator.
func (l *Ledger) LogEscalation(sessionID, actorID, reason string) Entry {
	return l.append(Entry{SessionID: sessionID, ActorID: actorID, EventType: EventEscalation, Data: map[string]any{"reason": reason}})
}

// LogPolicyApplied records a policy decision (e.g. a resolved approval
// scope rule) independent of any specific action.
func (l *Ledger) LogPolicyApplied(sessionID, actorID, policy string, data map[string]any) Entry {
	return l.append(Entry{SessionID: sessionID, ActorID: actorID, EventType: EventPolicyApplied, ActionType: policy, Data: data})
}

// LogSessionStart and LogSessionEnd bracket a swarm run.
func (l *Ledger) LogSessionStart(sessionID string) Entry {
	return l.append(Entry{SessionID: sessionID, EventType: EventSessionStart})
}

func (l *Ledger) LogSessionEnd(sessionID string) Entry {
	return l.append(Entry{SessionID: sessionID, EventType: EventSessionEnd})
}

// Query filters the ledger. Zero-value fields are wildcards. Results
// are ordered oldest-first and paginated by Offset/Limit.
type Query struct {
	EventTypes  []EventType
	ActorID     string
	ActionType  string
	SessionID   string
	Since       time.Time
	Until       time.Time
	Reversible  *bool
	Offset      int
	Limit       int
}

// Query returns entries matching q.
func (l *Ledger) Query(q Query) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	wantTypes := toEventSet(q.EventTypes)

	var matched []Entry
	for _, e := range l.entries {
		if len(wantTypes) > 0 && !wantTypes[e.EventType] {
			continue
		}
		if q.ActorID != "" && e.ActorID != q.ActorID {
			continue
		}
		if q.ActionType != "" && e.ActionType != q.ActionType {
			continue
		}
		if q.SessionID != "" && e.SessionID != q.SessionID {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		if q.Reversible != nil && e.Reversible != *q.Reversible {
			continue
		}
		matched = append(matched, e)
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched
}

func toEventSet(types []EventType) map[EventType]bool {
	if len(types) == 0 {
		return nil
	}
	m := make(map[EventType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

func (l *Ledger) find(entryID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == entryID {
			return e, true
		}
	}
	return Entry{}, false
}

// RollbackResult is Rollback's outcome for one entry.
type RollbackResult struct {
	EntryID string
	Ok      bool
	Err     error
}

// Rollback reverses the action recorded by entryID. It verifies the
// entry is marked reversible, dispatches to the registered handler for
// its RollbackType, logs a linked action_rolled_back entry, and runs
// the handler's Verify step if present.
func (l *Ledger) Rollback(entryID, actor string) RollbackResult {
	entry, ok := l.find(entryID)
	if !ok {
		return RollbackResult{EntryID: entryID, Err: fmt.Errorf("audit: no such entry %q", entryID)}
	}
	if !entry.Reversible {
		return RollbackResult{EntryID: entryID, Err: fmt.Errorf("audit: entry %q is not reversible", entryID)}
	}
	handler, ok := l.handlers[entry.RollbackType]
	if !ok {
		return RollbackResult{EntryID: entryID, Err: fmt.Errorf("audit: no handler registered for rollback type %q", entry.RollbackType)}
	}

	if err := handler.Rollback(entry.RollbackData); err != nil {
		return RollbackResult{EntryID: entryID, Err: fmt.Errorf("audit: rollback failed: %w", err)}
	}
	if handler.Verify != nil {
		if err := handler.Verify(entry.RollbackData); err != nil {
			return RollbackResult{EntryID: entryID, Err: fmt.Errorf("audit: rollback verification failed: %w", err)}
		}
	}

	linked := l.append(Entry{
		SessionID: entry.SessionID, ActorID: actor, EventType: EventRollback,
		ActionType: entry.ActionType, LinkedEntryID: entry.ID,
	})
	return RollbackResult{EntryID: linked.ID, Ok: true}
}

// RollbackChain rolls back ids in reverse time order and stops at the
// first failure.
func (l *Ledger) RollbackChain(ids []string, actor, reason string) []RollbackResult {
	ordered := make([]string, len(ids))
	copy(ordered, ids)
	sort.Slice(ordered, func(i, j int) bool {
		ei, _ := l.find(ordered[i])
		ej, _ := l.find(ordered[j])
		return ei.Timestamp.After(ej.Timestamp)
	})

	_ = reason // not itself logged; the per-entry rollback results carry the outcome

	var results []RollbackResult
	for _, id := range ordered {
		res := l.Rollback(id, actor)
		results = append(results, res)
		if !res.Ok {
			break
		}
	}
	return results
}
