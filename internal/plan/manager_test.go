package plan

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errNotFoundForTest = errors.New("not found")

func marshalForTest(v any) ([]byte, error)      { return json.Marshal(v) }
func unmarshalForTest(raw []byte, out any) error { return json.Unmarshal(raw, out) }

func TestManager_ProposeThenApproveAllDrainsQueueInOrder(t *testing.T) {
	m := New()
	m.Start("refactor the parser", "read 4 files, no edits yet")

	_, err := m.Propose("edit_file", map[string]any{"path": "/a.go"}, "fix import", "tc1")
	require.NoError(t, err)
	_, err = m.Propose("edit_file", map[string]any{"path": "/b.go"}, "fix import", "tc2")
	require.NoError(t, err)

	approved, err := m.Approve(nil)
	require.NoError(t, err)
	require.Len(t, approved, 2)
	require.Equal(t, "/a.go", approved[0].Args["path"])
	require.Equal(t, "/b.go", approved[1].Args["path"])

	current, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, StatusApproved, current.Status)
	require.Empty(t, current.ProposedChanges)
}

func TestManager_PartialApproveLeavesRemainderQueued(t *testing.T) {
	m := New()
	m.Start("task", "")
	m.Propose("write_file", map[string]any{"path": "/a"}, "r1", "")
	m.Propose("write_file", map[string]any{"path": "/b"}, "r2", "")
	m.Propose("write_file", map[string]any{"path": "/c"}, "r3", "")

	count := 1
	approved, err := m.Approve(&count)
	require.NoError(t, err)
	require.Len(t, approved, 1)

	current, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, StatusPartiallyApproved, current.Status)
	require.Len(t, current.ProposedChanges, 2)
}

func TestManager_RejectClearsQueue(t *testing.T) {
	m := New()
	m.Start("task", "")
	m.Propose("bash", map[string]any{"command": "rm -rf /tmp/x"}, "cleanup", "")

	require.NoError(t, m.Reject())

	current, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, StatusRejected, current.Status)
	require.Empty(t, current.ProposedChanges)
}

func TestManager_ProposeAfterDecisionFails(t *testing.T) {
	m := New()
	m.Start("task", "")
	require.NoError(t, m.Reject())

	_, err := m.Propose("bash", nil, "", "")
	require.Error(t, err)
}

func TestManager_SubscribeReceivesEventsInOrder(t *testing.T) {
	m := New()
	var events []EventType
	unsub := m.Subscribe(func(e Event) { events = append(events, e.Type) })
	defer unsub()

	m.Start("task", "")
	m.Propose("edit_file", map[string]any{"path": "/a"}, "", "")
	m.Approve(nil)

	require.Equal(t, []EventType{EventProposed, EventApproved}, events)
}

type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) Save(ctx context.Context, namespace, key string, data any) error {
	raw, err := marshalForTest(data)
	if err != nil {
		return err
	}
	s.data[namespace+"/"+key] = raw
	return nil
}

func (s *memStore) Load(ctx context.Context, namespace, key string, out any) error {
	raw, ok := s.data[namespace+"/"+key]
	if !ok {
		return errNotFoundForTest
	}
	return unmarshalForTest(raw, out)
}

func TestManager_SaveAndLoadRoundTripsPlan(t *testing.T) {
	m := New()
	m.Start("task", "explored the codebase")
	m.Propose("edit_file", map[string]any{"path": "/a"}, "reason", "tc1")

	store := newMemStore()
	require.NoError(t, m.Save(context.Background(), store))

	loaded := New()
	original, _ := m.Current()
	require.NoError(t, loaded.Load(context.Background(), store, original.ID))

	restored, ok := loaded.Current()
	require.True(t, ok)
	require.Equal(t, original.ID, restored.ID)
	require.Equal(t, original.Task, restored.Task)
	require.Len(t, restored.ProposedChanges, 1)
}
