package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/store"
	"chatsync/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin enforcement happens in the auth middleware's CORS layer
		return true
	},
}

// ServeWS upgrades a conversation channel subscription. The caller's
// identity comes from the X-Identity header (or ?user= for browser
// websocket clients that cannot set headers).
func ServeWS(h *Hub, sendBuffer int, w http.ResponseWriter, r *http.Request, convID string) {
	user := r.Header.Get("X-Identity")
	if user == "" {
		user = r.URL.Query().Get("user")
	}
	if convID == "" || user == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing conversation or user")
		return
	}
	conv, err := store.GetConversation(convID)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if !conv.HasParticipant(user) {
		utils.JSONError(w, http.StatusForbidden, "not in conversation")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("channel_upgrade_failed", "conversation", convID, "error", err)
		return
	}
	c := newClient(h, convID, user, conn, sendBuffer)
	h.Join(c)
	go c.writePump()
	go c.readPump()
}
