package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/provider"
)

// decomposeSchema is the structured-output schema handed to the
// provider alongside the prompt, mirroring the worker's
// DefaultSystemPrompt convention of JSON-only model output.
const decomposeSchema = `{
  "type": "object",
  "properties": {
    "subtasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "description": {"type": "string"},
          "type": {"type": "string"},
          "complexity": {"type": "integer"},
          "dependencies": {"type": "array", "items": {"type": "string"}},
          "parallelizable": {"type": "boolean"},
          "relevantFiles": {"type": "array", "items": {"type": "string"}},
          "preferredModel": {"type": "string"}
        },
        "required": ["id", "description", "type", "complexity"]
      }
    }
  },
  "required": ["subtasks"]
}`

// ModelDecomposer asks the orchestrator model to decompose a goal into
// a flat subtask list, via the same Provider interface a worker uses
// to invoke a language model (§6 "Provider interface (consumed)").
type ModelDecomposer struct {
	Provider provider.Provider
	Model    string
}

// NewModelDecomposer constructs a ModelDecomposer invoking p with the
// given model id for every Decompose call.
func NewModelDecomposer(p provider.Provider, model string) *ModelDecomposer {
	return &ModelDecomposer{Provider: p, Model: model}
}

type decomposeResponse struct {
	Subtasks []decomposedSubtask `json:"subtasks"`
}

type decomposedSubtask struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Type           string   `json:"type"`
	Complexity     int      `json:"complexity"`
	Dependencies   []string `json:"dependencies"`
	Parallelizable bool     `json:"parallelizable"`
	RelevantFiles  []string `json:"relevantFiles"`
	PreferredModel string   `json:"preferredModel"`
}

// Decompose invokes the orchestrator model and parses its JSON
// response into subtasks. A malformed response is surfaced as a parse
// error the orchestrator's retry-once policy can act on.
func (d *ModelDecomposer) Decompose(ctx context.Context, goal models.Goal) ([]models.Subtask, error) {
	resp, err := d.Provider.Invoke(ctx, provider.Request{
		Model:  d.Model,
		Prompt: decompositionPrompt(goal),
		Schema: decomposeSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition model invoke: %w", err)
	}

	var parsed decomposeResponse
	if err := json.Unmarshal(resp.RawOutput, &parsed); err != nil {
		return nil, fmt.Errorf("decomposition response did not parse as JSON: %w", err)
	}

	subtasks := make([]models.Subtask, 0, len(parsed.Subtasks))
	for _, s := range parsed.Subtasks {
		subtasks = append(subtasks, models.Subtask{
			ID:             s.ID,
			Description:    s.Description,
			Type:           models.SubtaskType(s.Type),
			Complexity:     s.Complexity,
			Dependencies:   s.Dependencies,
			Parallelizable: s.Parallelizable,
			RelevantFiles:  s.RelevantFiles,
			PreferredModel: s.PreferredModel,
		})
	}
	return subtasks, nil
}

func decompositionPrompt(goal models.Goal) string {
	return fmt.Sprintf(
		"Decompose the following goal into a list of subtasks with unique ids, types from {implement, test, research, review, refactor, document, design, merge, integrate, deploy}, complexity 1..5, and a dependency graph that is a DAG.\n\nGoal: %s\nWorking directory: %s\n",
		goal.Text, goal.WorkingDir,
	)
}
