package realtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Default and configuration values.
const defaultQueueCapacity = 16 * 1024
const fallbackQueueCapacity = 1024

// maxPooledBuffer keeps oversized payload buffers out of the pool.
const maxPooledBuffer = 1 << 20

var (
	// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
	ErrQueueFull = errors.New("fanout queue full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("fanout queue closed")
)

// Event is a change envelope destined for one conversation's room.
// ExcludeUser suppresses delivery toward that identity (typing echoes).
type Event struct {
	Conversation string
	ExcludeUser  string
	Payload      []byte
}

var eventPool = sync.Pool{New: func() any { return &Event{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// Item wraps an Event and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing the item.
type Item struct {
	Event *Event

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) <= maxPooledBuffer {
				bytebufferpool.Put(it.buf)
			}
			it.buf = nil
		}
		if it.Event != nil {
			it.Event.Payload = nil
			eventPool.Put(it.Event)
			it.Event = nil
		}
		itemPool.Put(it)
	})
}

// Queue is a threadsafe, fixed-size in-memory queue of fanout events.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	closed   int32
}

// NewQueue creates a bounded Queue of given capacity (>0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out exposes items for consumers (do not close).
func (q *Queue) Out() <-chan *Item { return q.ch }

// Dropped returns the count of events refused because the queue was full.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

// TryEnqueue enqueues an event without blocking; returns ErrQueueFull if
// full. The payload is copied into a pooled buffer so callers may reuse
// their slice.
func (q *Queue) TryEnqueue(ev Event) error {
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}
	newEv := eventPool.Get().(*Event)
	*newEv = ev

	var bb *bytebufferpool.ByteBuffer
	if len(ev.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], ev.Payload...)
		newEv.Payload = bb.B[:len(ev.Payload)]
	}

	it := itemPool.Get().(*Item)
	it.Event = newEv
	it.buf = bb
	it.once = sync.Once{}

	select {
	case q.ch <- it:
		return nil
	default:
		it.Done()
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// RunWorker dequeues items and calls handler for each, calling Item.Done()
// always. Exits when stop fires or the queue closes.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(*Event)) {
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			func(it *Item) {
				defer it.Done()
				handler(it.Event)
			}(it)
		case <-stop:
			return
		}
	}
}

// Close marks the queue closed for producers.
func (q *Queue) Close() {
	atomic.StoreInt32(&q.closed, 1)
}
