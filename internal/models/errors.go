package models

import (
	"errors"
	"fmt"
)

// ErrEmptySubtaskID is returned when a subtask is missing its identifier.
var ErrEmptySubtaskID = errors.New("models: subtask id is required")

// ErrDuplicateSubtaskID is returned by BuildWaves when two subtasks share an id.
var ErrDuplicateSubtaskID = errors.New("models: duplicate subtask id")

// ErrCyclicDependency is returned by BuildWaves when the dependency graph
// is not a DAG. Callers match on this with errors.Is; the message always
// contains "cycle".
var ErrCyclicDependency = errors.New("models: dependency cycle detected among subtasks")

// InvalidSubtaskTypeError is returned when a subtask names a type outside
// ValidSubtaskTypes.
type InvalidSubtaskTypeError struct {
	ID   string
	Type SubtaskType
}

func (e *InvalidSubtaskTypeError) Error() string {
	return fmt.Sprintf("models: subtask %s has unknown type %q", e.ID, e.Type)
}

// InvalidComplexityError is returned when a subtask's complexity is
// outside the 1..5 range.
type InvalidComplexityError struct {
	ID         string
	Complexity int
}

func (e *InvalidComplexityError) Error() string {
	return fmt.Sprintf("models: subtask %s has complexity %d, want 1..5", e.ID, e.Complexity)
}

// UnknownDependencyError is returned when a subtask depends on an id that
// does not exist in the decomposition.
type UnknownDependencyError struct {
	ID         string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("models: subtask %s depends on unknown subtask %s", e.ID, e.Dependency)
}
