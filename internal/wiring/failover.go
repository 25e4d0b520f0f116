package wiring

import "github.com/coreswarm/swarm/internal/models"

// RoundRobinFailover offers every configured model in order, skipping
// ones already tried. It satisfies pool.ModelFailover.
type RoundRobinFailover struct {
	Models []string
}

// Next returns the first configured model not present in triedModels.
func (f *RoundRobinFailover) Next(subtask models.Subtask, triedModels []string) (string, bool) {
	tried := make(map[string]bool, len(triedModels))
	for _, m := range triedModels {
		tried[m] = true
	}
	for _, m := range f.Models {
		if !tried[m] {
			return m, true
		}
	}
	return "", false
}
