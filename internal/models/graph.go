package models

import "sort"

// dependencyGraph is the adjacency-list representation used to compute
// waves via Kahn's algorithm.
type dependencyGraph struct {
	subtasks map[string]Subtask
	edges    map[string][]string // prerequisite -> dependents
	inDegree map[string]int
}

// ValidateSubtasks checks the structural invariants of a decomposition
// before any wave planning is attempted: unique ids, known types,
// in-range complexity, and dependencies that resolve to real subtasks.
func ValidateSubtasks(subtasks []Subtask) error {
	seen := make(map[string]bool, len(subtasks))
	for _, s := range subtasks {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return ErrDuplicateSubtaskID
		}
		seen[s.ID] = true
	}
	for _, s := range subtasks {
		for _, dep := range s.Dependencies {
			if !seen[dep] {
				return &UnknownDependencyError{ID: s.ID, Dependency: dep}
			}
		}
	}
	return nil
}

// BuildWaves partitions subtasks into waves using Kahn's algorithm: a wave
// is the set of all subtasks whose dependencies have been fully resolved
// by earlier waves. It rejects cycles with ErrCyclicDependency before any
// wave is returned, so a cyclic decomposition fails before any subtask
// is ever dispatched.
func BuildWaves(subtasks []Subtask) ([]Wave, error) {
	if err := ValidateSubtasks(subtasks); err != nil {
		return nil, err
	}

	g := &dependencyGraph{
		subtasks: make(map[string]Subtask, len(subtasks)),
		edges:    make(map[string][]string),
		inDegree: make(map[string]int, len(subtasks)),
	}
	for _, s := range subtasks {
		g.subtasks[s.ID] = s
		if _, ok := g.inDegree[s.ID]; !ok {
			g.inDegree[s.ID] = 0
		}
	}
	for _, s := range subtasks {
		for _, dep := range s.Dependencies {
			g.edges[dep] = append(g.edges[dep], s.ID)
			g.inDegree[s.ID]++
		}
	}

	var waves []Wave
	remaining := len(subtasks)
	resolved := make(map[string]bool, len(subtasks))

	for remaining > 0 {
		var ready []string
		for id, deg := range g.inDegree {
			if deg == 0 && !resolved[id] {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			// Nothing is ready but subtasks remain: a cycle.
			return nil, ErrCyclicDependency
		}
		sort.Strings(ready)

		for _, id := range ready {
			resolved[id] = true
			g.inDegree[id] = -1 // remove from future "ready" scans
			remaining--
		}
		for _, id := range ready {
			for _, dependent := range g.edges[id] {
				if g.inDegree[dependent] > 0 {
					g.inDegree[dependent]--
				}
			}
		}

		waves = append(waves, Wave{Index: len(waves), SubtaskIDs: ready})
	}

	return waves, nil
}
