package auditd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowchain/gateway"
)

func nodeEvent(seq int64, eventType, escrowID string) gateway.NodeEvent {
	evt := gateway.NodeEvent{Sequence: seq}
	evt.Event.Type = eventType
	evt.Event.Attributes = map[string]string{"id": escrowID}
	return evt
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordEventsIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	events := []gateway.NodeEvent{
		nodeEvent(1, "escrow.created", "1"),
		nodeEvent(2, "escrow.accepted", "1"),
	}
	require.NoError(t, store.RecordEvents(events))
	require.NoError(t, store.RecordEvents(events))

	records, err := store.EventsByEscrow(1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(1), records[0].Sequence)
	require.Equal(t, int64(2), records[1].Sequence)
}

func TestLatestSequence(t *testing.T) {
	store := openTestStore(t)

	seq, err := store.LatestSequence()
	require.NoError(t, err)
	require.Zero(t, seq)

	require.NoError(t, store.RecordEvents([]gateway.NodeEvent{
		nodeEvent(1, "escrow.created", "1"),
		nodeEvent(2, "escrow.cancelled", "1"),
	}))

	seq, err = store.LatestSequence()
	require.NoError(t, err)
	require.Equal(t, int64(2), seq)
}

func TestEventsByType(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordEvents([]gateway.NodeEvent{
		nodeEvent(1, "escrow.created", "1"),
		nodeEvent(2, "escrow.created", "2"),
		nodeEvent(3, "escrow.accepted", "1"),
	}))

	records, err := store.EventsByType("escrow.created")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

type stubSource struct {
	events []gateway.NodeEvent
}

func (s *stubSource) FetchEvents(_ context.Context, afterSeq int64, limit int) ([]gateway.NodeEvent, error) {
	var out []gateway.NodeEvent
	for _, evt := range s.events {
		if evt.Sequence > afterSeq {
			out = append(out, evt)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestWatcherPollResumesFromCursor(t *testing.T) {
	store := openTestStore(t)
	source := &stubSource{events: []gateway.NodeEvent{
		nodeEvent(1, "escrow.created", "1"),
		nodeEvent(2, "escrow.accepted", "1"),
		nodeEvent(3, "escrow.milestone_paid", "1"),
	}}
	watcher := NewWatcher(source, store, nil, 0)

	require.NoError(t, watcher.poll(context.Background()))
	seq, err := store.LatestSequence()
	require.NoError(t, err)
	require.Equal(t, int64(3), seq)

	source.events = append(source.events, nodeEvent(4, "escrow.completed", "1"))
	require.NoError(t, watcher.poll(context.Background()))
	records, err := store.EventsByEscrow(1)
	require.NoError(t, err)
	require.Len(t, records, 4)
}
