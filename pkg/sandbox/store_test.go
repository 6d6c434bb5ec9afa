package sandbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestNewJournalRejectsEmptyPath(t *testing.T) {
	// sqlite treats "" as an anonymous temp database; an operator who
	// left journal_path unset must get no journal, not a hidden one.
	j, err := NewJournal("")
	assert.Nil(t, j)
	assert.ErrorContains(t, err, "journal path is empty")
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := newTestJournal(t)

	base := time.Now().Add(-time.Minute)
	for i, typ := range []EventType{EventCreated, EventReconnected, EventClosed} {
		j.Record(Event{
			ID:        newEventID(),
			Type:      typ,
			UserID:    "alice",
			ProjectID: "web",
			SandboxID: "sbx-1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	events, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, EventClosed, events[0].Type)
	assert.Equal(t, EventCreated, events[2].Type)
	assert.Equal(t, "alice", events[0].UserID)
	assert.Equal(t, "sbx-1", events[0].SandboxID)
}

func TestJournalRecentHonorsLimit(t *testing.T) {
	j := newTestJournal(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		j.Record(Event{
			ID:        newEventID(),
			Type:      EventCreated,
			UserID:    "alice",
			ProjectID: "web",
			SandboxID: "sbx",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	events, err := j.Recent(2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestJournalEmptyRecent(t *testing.T) {
	j := newTestJournal(t)
	events, err := j.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJournalRecordsDetail(t *testing.T) {
	j := newTestJournal(t)
	j.Record(Event{
		ID:        newEventID(),
		Type:      EventReapedIdle,
		UserID:    "alice",
		ProjectID: "web",
		SandboxID: "sbx-1",
		Detail:    "idle > 8m20s",
		Timestamp: time.Now(),
	})

	events, err := j.Recent(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "idle > 8m20s", events[0].Detail)
}

func TestManagerPublishesToJournal(t *testing.T) {
	j := newTestJournal(t)
	client := newFakeClient()
	m, err := New(testConfig(), client, newMemStore(), j)
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "alice", "web")
	require.NoError(t, err)
	require.NoError(t, m.Release(context.Background(), "alice", "web"))

	events, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventClosed, events[0].Type)
	assert.Equal(t, EventCreated, events[1].Type)
}
