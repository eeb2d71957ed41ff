package realtime

import (
	"encoding/json"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Hub owns the per-conversation rooms and the fanout queue feeding them.
// Row-change events go to every room member (senders de-duplicate their
// own echoes); typing broadcasts exclude the typist.
type Hub struct {
	queue *Queue

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub with a fanout queue of the given capacity
// (0 means default).
func NewHub(queueCapacity int) *Hub {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	return &Hub{
		queue: NewQueue(queueCapacity),
		rooms: make(map[string]map[*Client]bool),
		stop:  make(chan struct{}),
	}
}

// Run consumes the fanout queue until Stop is called. Call in a goroutine.
func (h *Hub) Run() {
	h.queue.RunWorker(h.stop, func(ev *Event) {
		h.deliver(ev.Conversation, ev.ExcludeUser, ev.Payload)
	})
}

// Stop shuts down the hub and closes all client connections.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.queue.Close()
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, room := range h.rooms {
			for c := range room {
				c.closeSend()
			}
		}
		h.rooms = make(map[string]map[*Client]bool)
	})
}

// Publish marshals a change event and enqueues it for fanout. Enqueue
// failures are counted and logged, not surfaced to the writer: the row
// write already succeeded and readers reconcile on next load.
func (h *Hub) Publish(ch models.Change, excludeUser string) {
	b, err := json.Marshal(ch)
	if err != nil {
		logger.Error("fanout_marshal_failed", "conversation", ch.Conversation, "error", err)
		return
	}
	if err := h.queue.TryEnqueue(Event{Conversation: ch.Conversation, ExcludeUser: excludeUser, Payload: b}); err != nil {
		fanoutDropped.Inc()
		logger.Warn("fanout_enqueue_failed", "conversation", ch.Conversation, "kind", string(ch.Kind), "error", err)
		return
	}
	fanoutEvents.WithLabelValues(string(ch.Kind)).Inc()
}

// Join registers a client in its conversation room.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.convID] == nil {
		h.rooms[c.convID] = make(map[*Client]bool)
	}
	h.rooms[c.convID][c] = true
	wsConnections.Inc()
	logger.Info("channel_joined", "conversation", c.convID, "user", c.user)
}

// detach removes a client from its room, deleting the room when empty, and
// closes its send channel while still holding the room lock. deliver only
// sends under the read lock, so a close can never race a send in flight.
func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(c.send)
	room := h.rooms[c.convID]
	if room == nil {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.convID)
	}
	wsConnections.Dec()
	logger.Info("channel_left", "conversation", c.convID, "user", c.user)
}

func (h *Hub) deliver(convID, excludeUser string, payload []byte) {
	// copy out of the pooled buffer before it is recycled
	msg := append([]byte(nil), payload...)
	var slow []*Client
	h.mu.RLock()
	for c := range h.rooms[convID] {
		if excludeUser != "" && c.user == excludeUser {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		// slow consumer; drop the connection, it will resubscribe
		logger.Warn("channel_send_overflow", "conversation", convID, "user", c.user)
		c.Close()
	}
}
