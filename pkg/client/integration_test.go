package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/api"
	"chatsync/pkg/auth"
	"chatsync/pkg/models"
	"chatsync/pkg/realtime"
	"chatsync/pkg/store"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))

	hub := realtime.NewHub(64)
	go hub.Run()

	handler := auth.AuthenticateRequestMiddleware(auth.SecConfig{AllowUnauth: true})(api.Handler(hub, 16))
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		_ = store.Close()
	})
	return srv
}

func newRelayClient(t *testing.T, srv *httptest.Server, identity string) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: srv.URL, Identity: identity})
	require.NoError(t, err)
	return c
}

func runListener(t *testing.T, l *Listener) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("listener did not stop")
		}
	})
	return cancel
}

func TestSendReachesRemoteListener(t *testing.T) {
	srv := startRelay(t)
	alice := newRelayClient(t, srv, "alice")
	bob := newRelayClient(t, srv, "bob")

	ctx := context.Background()
	conv, err := alice.CreateConversation(ctx, "pair", []string{"alice", "bob"})
	require.NoError(t, err)

	listener := bob.NewListener(conv.ID)
	changed := make(chan struct{}, 16)
	listener.OnChange = func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	runListener(t, listener)
	waitFor(t, func() bool { return listener.State() == StateSubscribed })

	sent, err := alice.Send(ctx, conv.ID, Draft{Content: "hello bob"})
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)

	waitFor(t, func() bool {
		_, ok := bob.Store.Get(conv.ID, sent.ID)
		return ok
	})
	got, _ := bob.Store.Get(conv.ID, sent.ID)
	require.Equal(t, "hello bob", got.Content)
	require.Equal(t, "alice", got.Sender)
}

func TestOwnEchoDoesNotDuplicate(t *testing.T) {
	srv := startRelay(t)
	alice := newRelayClient(t, srv, "alice")

	ctx := context.Background()
	conv, err := alice.CreateConversation(ctx, "solo", []string{"alice"})
	require.NoError(t, err)

	listener := alice.NewListener(conv.ID)
	runListener(t, listener)
	waitFor(t, func() bool { return listener.State() == StateSubscribed })

	sent, err := alice.Send(ctx, conv.ID, Draft{Content: "only once"})
	require.NoError(t, err)

	// let the channel echo of the own send arrive and settle
	waitFor(t, func() bool {
		_, ok := alice.Store.Get(conv.ID, sent.ID)
		return ok
	})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, alice.Store.Len(conv.ID), "own echo must merge into the optimistic row")
}

func TestReactionEventTriggersReload(t *testing.T) {
	srv := startRelay(t)
	alice := newRelayClient(t, srv, "alice")
	bob := newRelayClient(t, srv, "bob")

	ctx := context.Background()
	conv, err := alice.CreateConversation(ctx, "pair", []string{"alice", "bob"})
	require.NoError(t, err)
	sent, err := alice.Send(ctx, conv.ID, Draft{Content: "react to me"})
	require.NoError(t, err)

	listener := bob.NewListener(conv.ID)
	runListener(t, listener)
	waitFor(t, func() bool { return listener.State() == StateSubscribed })

	// subscribe reloads history, so the pre-existing row is already there
	_, ok := bob.Store.Get(conv.ID, sent.ID)
	require.True(t, ok, "history must load on subscribe")

	_, err = alice.ToggleReaction(ctx, sent.ID, "🔥")
	require.NoError(t, err)

	waitFor(t, func() bool {
		m, ok := bob.Store.Get(conv.ID, sent.ID)
		return ok && m.Reactions["alice"] == "🔥"
	})
}

func TestTypingReachesPeerOnly(t *testing.T) {
	srv := startRelay(t)
	alice := newRelayClient(t, srv, "alice")
	bob := newRelayClient(t, srv, "bob")

	ctx := context.Background()
	conv, err := alice.CreateConversation(ctx, "pair", []string{"alice", "bob"})
	require.NoError(t, err)

	aliceL := alice.NewListener(conv.ID)
	aliceTyping := make(chan models.TypingSignal, 4)
	aliceL.OnTyping = func(ts models.TypingSignal) { aliceTyping <- ts }
	runListener(t, aliceL)

	bobL := bob.NewListener(conv.ID)
	bobTyping := make(chan models.TypingSignal, 4)
	bobL.OnTyping = func(ts models.TypingSignal) { bobTyping <- ts }
	runListener(t, bobL)

	waitFor(t, func() bool {
		return aliceL.State() == StateSubscribed && bobL.State() == StateSubscribed
	})

	require.NoError(t, bobL.SendTyping(true))

	select {
	case ts := <-aliceTyping:
		require.Equal(t, "bob", ts.User)
		require.True(t, ts.Typing)
	case <-time.After(3 * time.Second):
		t.Fatal("alice never saw bob typing")
	}
	select {
	case ts := <-bobTyping:
		t.Fatalf("bob received his own typing echo: %+v", ts)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestListenerReconnectsAfterServerRestartURL(t *testing.T) {
	srv := startRelay(t)
	alice := newRelayClient(t, srv, "alice")

	ctx := context.Background()
	conv, err := alice.CreateConversation(ctx, "solo", []string{"alice"})
	require.NoError(t, err)

	listener := alice.NewListener(conv.ID)
	states := make(chan ListenerState, 16)
	listener.OnState = func(s ListenerState) { states <- s }
	runListener(t, listener)
	waitFor(t, func() bool { return listener.State() == StateSubscribed })

	// drop the connection from the server side; the listener must cycle
	// back through subscribing and recover
	listener.mu.Lock()
	conn := listener.conn
	listener.mu.Unlock()
	require.NotNil(t, conn)
	_ = conn.Close()

	sawResubscribe := false
	deadline := time.After(5 * time.Second)
	for !sawResubscribe {
		select {
		case s := <-states:
			if s == StateSubscribing {
				sawResubscribe = true
			}
		case <-deadline:
			t.Fatal("listener never attempted to resubscribe")
		}
	}
	waitFor(t, func() bool { return listener.State() == StateSubscribed })
}
