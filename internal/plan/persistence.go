package plan

import "context"

// PlanNamespace is the persistence adapter namespace pending plans are
// saved under.
const PlanNamespace = "pending-plans"

// Store is the narrow slice of the persistence adapter (C15) a Manager
// needs to round-trip a plan: save/load by key within PlanNamespace.
// internal/persistence.Store satisfies this directly.
type Store interface {
	Save(ctx context.Context, namespace, key string, data any) error
	Load(ctx context.Context, namespace, key string, out any) error
}

// Save persists the active plan to store under its own id, the
// teacher's plan-file load/save idiom routed through the generic
// persistence interface instead of a bespoke YAML file path (per
// SPEC_FULL.md §10).
func (m *Manager) Save(ctx context.Context, store Store) error {
	current, ok := m.Current()
	if !ok {
		return nil
	}
	return store.Save(ctx, PlanNamespace, current.ID, current)
}

// Load reads the plan stored under id back from store and installs it
// as the active plan via RestorePlan, emitting EventRestored.
func (m *Manager) Load(ctx context.Context, store Store, id string) error {
	var p PendingPlan
	if err := store.Load(ctx, PlanNamespace, id, &p); err != nil {
		return err
	}
	m.RestorePlan(p)
	return nil
}
