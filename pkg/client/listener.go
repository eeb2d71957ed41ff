package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// ListenerState tracks the channel subscription lifecycle.
type ListenerState int

const (
	StateUnsubscribed ListenerState = iota
	StateSubscribing
	StateSubscribed
)

func (s ListenerState) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

const (
	reconnectBase = 500 * time.Millisecond
	reconnectMax  = 30 * time.Second
)

// Listener maintains one conversation's channel subscription. On every
// (re)connect it reloads the full timeline before applying pushed changes,
// so missed events during a disconnect never leave the cache stale. Row
// events patch the cache directly; reaction events trigger a reload because
// the event only names the message, not the new reaction set.
type Listener struct {
	client *Client
	convID string

	// OnChange, if set, runs after the cache changed for any reason.
	OnChange func()
	// OnTyping, if set, receives remote typing broadcasts. Own typing is
	// filtered out by the relay.
	OnTyping func(models.TypingSignal)
	// OnState, if set, observes subscription state transitions.
	OnState func(ListenerState)

	mu    sync.Mutex
	state ListenerState
	conn  *websocket.Conn
}

// NewListener creates a listener for one conversation. Call Run to start.
func (c *Client) NewListener(convID string) *Listener {
	return &Listener{client: c, convID: convID}
}

// State returns the current subscription state.
func (l *Listener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setState(s ListenerState) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	l.mu.Unlock()
	if changed && l.OnState != nil {
		l.OnState(s)
	}
}

// wsURL converts the client's base URL into the channel endpoint.
func (l *Listener) wsURL() (string, error) {
	u, err := url.Parse(l.client.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/conversations/" + url.PathEscape(l.convID) + "/ws"
	q := u.Query()
	q.Set("user", l.client.identity)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run subscribes and blocks until ctx is canceled, reconnecting with
// exponential backoff after any failure. Each established connection starts
// with a full timeline reload.
func (l *Listener) Run(ctx context.Context) {
	defer l.setState(StateUnsubscribed)

	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}
		l.setState(StateSubscribing)

		err := l.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("channel_subscription_lost", "conversation", l.convID, "error", err)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	wsURL, err := l.wsURL()
	if err != nil {
		return err
	}
	hdr := http.Header{}
	hdr.Set("X-Identity", l.client.identity)
	if l.client.apiKey != "" {
		hdr.Set("X-API-Key", l.client.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, hdr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		_ = conn.Close()
	}()

	// reload before applying pushes so nothing missed while offline sticks
	if _, err := l.client.LoadMessages(ctx, l.convID, 0); err != nil {
		return err
	}
	l.setState(StateSubscribed)
	l.notifyChange()

	// close the socket when ctx ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ch models.Change
		if err := json.Unmarshal(data, &ch); err != nil {
			logger.Debug("channel_event_invalid", "conversation", l.convID, "error", err)
			continue
		}
		l.apply(ctx, ch)
	}
}

func (l *Listener) apply(ctx context.Context, ch models.Change) {
	switch ch.Kind {
	case models.EventMessageInsert, models.EventMessageUpdate:
		if ch.Message == nil {
			return
		}
		l.client.Store.Upsert(*ch.Message)
		l.notifyChange()
	case models.EventReaction:
		// the event names the message only; fetch the authoritative rows
		if _, err := l.client.LoadMessages(ctx, l.convID, 0); err != nil {
			logger.Warn("reaction_reload_failed", "conversation", l.convID, "error", err)
			return
		}
		l.notifyChange()
	case models.EventTyping:
		if ch.Typing != nil && l.OnTyping != nil {
			l.OnTyping(*ch.Typing)
		}
	}
}

func (l *Listener) notifyChange() {
	if l.OnChange != nil {
		l.OnChange()
	}
}

// SendTyping pushes an ephemeral typing broadcast over the channel. It is
// a no-op while unsubscribed; presence is best effort.
func (l *Listener) SendTyping(typing bool) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	ch := models.Change{
		Kind:         models.EventTyping,
		Conversation: l.convID,
		Typing:       &models.TypingSignal{Conversation: l.convID, User: l.client.identity, Typing: typing},
	}
	return conn.WriteJSON(ch)
}
