package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer = 256
	maxInboundBytes   = 8 * 1024
)

// Client is one websocket subscriber bound to a conversation room.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	convID string
	user   string
	send   chan []byte

	closeOnce sync.Once
}

func newClient(h *Hub, convID, user string, conn *websocket.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Client{conn: conn, hub: h, convID: convID, user: user, send: make(chan []byte, sendBuffer)}
}

// readPump consumes inbound frames. The only client-to-server traffic on
// the channel is the ephemeral typing broadcast; it is republished to the
// room with the sender excluded and never persisted.
func (c *Client) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ch models.Change
		if err := json.Unmarshal(data, &ch); err != nil {
			logger.Debug("channel_inbound_invalid", "conversation", c.convID, "error", err)
			continue
		}
		if ch.Kind != models.EventTyping || ch.Typing == nil {
			continue
		}
		// the channel, not the typist, is authoritative for identity
		ch.Conversation = c.convID
		ch.Typing.Conversation = c.convID
		ch.Typing.User = c.user
		ch.TS = time.Now().UTC().UnixNano()
		c.hub.Publish(ch, c.user)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close detaches the client from its room and tears down the connection.
// The send channel is closed inside Hub.detach under the room lock.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.detach(c)
		_ = c.conn.Close()
	})
}

// closeSend is used by Hub.Stop, which already holds the room lock.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
