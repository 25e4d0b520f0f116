package audit

import "context"

// Namespace is the persistence adapter namespace ledger entries are
// saved under, keyed by session id.
const Namespace = "audit-ledger"

// Store is the narrow slice of the persistence adapter a Ledger needs
// to round-trip a session's entries. internal/persistence.Store
// satisfies this directly.
type Store interface {
	Save(ctx context.Context, namespace, key string, data any) error
	Load(ctx context.Context, namespace, key string, out any) error
}

// Save persists every entry recorded for sessionID to store, so a
// separate CLI invocation (swarm audit query) can read them back after
// the run that produced them has exited.
func (l *Ledger) Save(ctx context.Context, store Store, sessionID string) error {
	entries := l.Query(Query{SessionID: sessionID})
	return store.Save(ctx, Namespace, sessionID, entries)
}

// Load reads sessionID's entries back from store and appends them to
// l's in-memory log, preserving their original IDs and timestamps.
func (l *Ledger) Load(ctx context.Context, store Store, sessionID string) error {
	var entries []Entry
	if err := store.Load(ctx, Namespace, sessionID, &entries); err != nil {
		return err
	}
	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	l.mu.Unlock()
	return nil
}
