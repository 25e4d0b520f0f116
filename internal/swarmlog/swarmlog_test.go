package swarmlog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsoleLogger_WritesTimestampedLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf)

	l.Log(New(EventSwarmStart, "starting run", map[string]any{"goal": "do the thing"}))

	require.Contains(t, buf.String(), "swarm.start")
	require.Contains(t, buf.String(), "starting run")
}

func TestJSONLLogger_WritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLLogger(&buf)

	l.Log(New(EventTaskCompleted, "subtask a done", map[string]any{"subtask_id": "a"}))
	l.Log(New(EventTaskCompleted, "subtask b done", map[string]any{"subtask_id": "b"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec jsonlRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, EventTaskCompleted, rec.Type)
	require.Equal(t, "a", rec.Fields["subtask_id"])
}

func TestMulti_FansOutToEveryLogger(t *testing.T) {
	var a, b bytes.Buffer
	m := Multi{NewConsoleLogger(&a), NewJSONLLogger(&b)}

	m.Log(New(EventSwarmComplete, "done", nil))

	require.Contains(t, a.String(), "swarm.complete")
	require.Contains(t, b.String(), `"swarm.complete"`)
}

func TestNullLogger_DiscardsSilently(t *testing.T) {
	require.NotPanics(t, func() {
		NullLogger{}.Log(New(EventSwarmError, "boom", nil))
	})
}
