package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

func TestStoreOrdersByCreationTime(t *testing.T) {
	s := NewMessageStore()
	s.Upsert(models.Message{ID: "b", Conversation: "c1", CreatedTS: 200})
	s.Upsert(models.Message{ID: "a", Conversation: "c1", CreatedTS: 100})
	s.Upsert(models.Message{ID: "c", Conversation: "c1", CreatedTS: 300})

	snap := s.Snapshot("c1")
	require.Len(t, snap, 3)
	require.Equal(t, "a", snap[0].ID)
	require.Equal(t, "b", snap[1].ID)
	require.Equal(t, "c", snap[2].ID)
}

func TestStoreEchoReplacesPendingRow(t *testing.T) {
	s := NewMessageStore()
	s.AddPending(models.Message{Conversation: "c1", Sender: "alice", Content: "hi", CorrelationID: "corr-1", CreatedTS: 100})
	require.Equal(t, 1, s.Len("c1"))

	// the channel echo carries the server id and the same correlation id
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Sender: "alice", Content: "hi", CorrelationID: "corr-1", CreatedTS: 150})
	require.Equal(t, 1, s.Len("c1"), "echo must replace, not duplicate")

	got, ok := s.Get("c1", "m1")
	require.True(t, ok)
	require.Equal(t, "hi", got.Content)
}

func TestStoreUpsertByIDWins(t *testing.T) {
	s := NewMessageStore()
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Content: "v1", CreatedTS: 100})
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Content: "v2", CreatedTS: 100})

	require.Equal(t, 1, s.Len("c1"))
	got, _ := s.Get("c1", "m1")
	require.Equal(t, "v2", got.Content)
}

func TestReplaceAllKeepsInFlightPending(t *testing.T) {
	s := NewMessageStore()
	s.AddPending(models.Message{Conversation: "c1", Content: "in flight", CorrelationID: "corr-x", CreatedTS: 500})
	s.Upsert(models.Message{ID: "old", Conversation: "c1", Content: "stale", CreatedTS: 50})

	// a reload that does not yet include the in-flight send
	s.ReplaceAll("c1", []models.Message{
		{ID: "m1", Conversation: "c1", Content: "first", CreatedTS: 100},
		{ID: "m2", Conversation: "c1", Content: "second", CreatedTS: 200},
	})

	snap := s.Snapshot("c1")
	require.Len(t, snap, 3, "pending row must survive the reload")
	require.Equal(t, "m1", snap[0].ID)
	require.Equal(t, "m2", snap[1].ID)
	require.Equal(t, "corr-x", snap[2].CorrelationID)

	// a later reload that includes the confirmed row drops the duplicate
	s.ReplaceAll("c1", []models.Message{
		{ID: "m1", Conversation: "c1", Content: "first", CreatedTS: 100},
		{ID: "m2", Conversation: "c1", Content: "second", CreatedTS: 200},
		{ID: "m3", Conversation: "c1", Content: "in flight", CorrelationID: "corr-x", CreatedTS: 500},
	})
	snap = s.Snapshot("c1")
	require.Len(t, snap, 3)
	require.Equal(t, "m3", snap[2].ID)
}

func TestDropPendingAfterFailedSend(t *testing.T) {
	s := NewMessageStore()
	s.AddPending(models.Message{Conversation: "c1", Content: "doomed", CorrelationID: "corr-fail", CreatedTS: 100})
	s.DropPending("c1", "corr-fail")
	require.Zero(t, s.Len("c1"))

	// dropping something unknown is a no-op
	s.DropPending("c1", "corr-ghost")
	s.DropPending("c1", "")
}

func TestStoreIsolatesConversations(t *testing.T) {
	s := NewMessageStore()
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", CreatedTS: 100})
	s.Upsert(models.Message{ID: "m2", Conversation: "c2", CreatedTS: 100})

	require.Equal(t, 1, s.Len("c1"))
	require.Equal(t, 1, s.Len("c2"))
	require.Nil(t, s.Snapshot("c3"))
}
