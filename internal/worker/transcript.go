package worker

import (
	"encoding/json"
	"errors"

	"github.com/coreswarm/swarm/internal/corekit"
	"github.com/coreswarm/swarm/internal/models"
)

// turnResponse is the JSON shape a provider's DefaultSystemPrompt asks
// the model to emit: free text plus zero or more tool calls, and a done
// flag the model sets once it considers the subtask finished.
type turnResponse struct {
	Text      string         `json:"text"`
	ToolCalls []toolCallJSON `json:"tool_calls"`
	Done      bool           `json:"done"`
}

type toolCallJSON struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// parseTurn decodes one provider response. A response that fails to
// parse as JSON is treated as a text-only turn carrying the raw output
// verbatim — the model broke the JSON-only contract, and the worker
// degrades gracefully rather than aborting the attempt.
func parseTurn(raw []byte) (text string, calls []models.ToolCall, done bool) {
	var tr turnResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return string(raw), nil, false
	}
	calls = make([]models.ToolCall, 0, len(tr.ToolCalls))
	for _, c := range tr.ToolCalls {
		calls = append(calls, models.ToolCall{Tool: c.Tool, Args: c.Args})
	}
	return tr.Text, calls, tr.Done
}

// classify turns a terminal error into the short reason string embedded
// in models.FailureOutcome, so the pool and orchestrator can branch on
// it without parsing error prose.
func classify(err error) string {
	switch {
	case errors.Is(err, corekit.ErrCancellation):
		return "cancelled"
	case errors.Is(err, corekit.ErrBudget):
		return "budget_exceeded"
	default:
		return "error"
	}
}
