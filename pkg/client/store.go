package client

import (
	"sort"
	"sync"

	"chatsync/pkg/models"
)

// MessageStore is the client-side cache of conversation timelines. Rows are
// kept in creation order and de-duplicated two ways: by server-assigned id,
// and by correlation id so a channel echo of an own optimistic send replaces
// the pending row instead of appearing twice.
type MessageStore struct {
	mu    sync.RWMutex
	convs map[string]*timeline
}

type timeline struct {
	msgs []models.Message
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{convs: make(map[string]*timeline)}
}

func (s *MessageStore) tl(convID string) *timeline {
	t := s.convs[convID]
	if t == nil {
		t = &timeline{}
		s.convs[convID] = t
	}
	return t
}

// less orders rows by creation time, then id for a stable tie-break.
func less(a, b *models.Message) bool {
	if a.CreatedTS != b.CreatedTS {
		return a.CreatedTS < b.CreatedTS
	}
	return a.ID < b.ID
}

func (t *timeline) sortRows() {
	sort.SliceStable(t.msgs, func(i, j int) bool { return less(&t.msgs[i], &t.msgs[j]) })
}

// ReplaceAll swaps in a freshly loaded timeline. Pending optimistic rows
// (no server id yet) whose correlation ids are absent from the load are
// kept: their POST may still be in flight.
func (s *MessageStore) ReplaceAll(convID string, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(msgs))
	for i := range msgs {
		if msgs[i].CorrelationID != "" {
			seen[msgs[i].CorrelationID] = struct{}{}
		}
	}

	t := s.tl(convID)
	var pending []models.Message
	for i := range t.msgs {
		m := t.msgs[i]
		if m.ID != "" || m.CorrelationID == "" {
			continue
		}
		if _, ok := seen[m.CorrelationID]; !ok {
			pending = append(pending, m)
		}
	}

	t.msgs = append(append([]models.Message(nil), msgs...), pending...)
	t.sortRows()
}

// AddPending inserts an optimistic local row awaiting its relay echo.
func (s *MessageStore) AddPending(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tl(m.Conversation)
	t.msgs = append(t.msgs, m)
	t.sortRows()
}

// DropPending removes an optimistic row after a failed send.
func (s *MessageStore) DropPending(convID, correlationID string) {
	if correlationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tl(convID)
	for i := range t.msgs {
		if t.msgs[i].ID == "" && t.msgs[i].CorrelationID == correlationID {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return
		}
	}
}

// Upsert merges an authoritative row from the relay. Matching precedence:
// server id first, then correlation id (replacing the optimistic row),
// otherwise sorted insert.
func (s *MessageStore) Upsert(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tl(m.Conversation)

	if m.ID != "" {
		for i := range t.msgs {
			if t.msgs[i].ID == m.ID {
				t.msgs[i] = m
				t.sortRows()
				return
			}
		}
	}
	if m.CorrelationID != "" {
		for i := range t.msgs {
			if t.msgs[i].CorrelationID == m.CorrelationID {
				t.msgs[i] = m
				t.sortRows()
				return
			}
		}
	}
	t.msgs = append(t.msgs, m)
	t.sortRows()
}

// Get returns a row by server id.
func (s *MessageStore) Get(convID, msgID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.convs[convID]
	if t == nil {
		return models.Message{}, false
	}
	for i := range t.msgs {
		if t.msgs[i].ID == msgID {
			return t.msgs[i], true
		}
	}
	return models.Message{}, false
}

// Snapshot returns a copy of the timeline in display order.
func (s *MessageStore) Snapshot(convID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.convs[convID]
	if t == nil {
		return nil
	}
	return append([]models.Message(nil), t.msgs...)
}

// Len returns the number of cached rows for a conversation.
func (s *MessageStore) Len(convID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.convs[convID]
	if t == nil {
		return 0
	}
	return len(t.msgs)
}
