package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chatsync/pkg/auth"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/realtime"
	"chatsync/pkg/store"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"
)

var fanout *realtime.Hub

// RegisterMessages registers HTTP handlers for message-related endpoints.
func RegisterMessages(r *mux.Router, hub *realtime.Hub) {
	fanout = hub

	// /v1/messages
	r.HandleFunc("/messages", createMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages", listMessages).Methods(http.MethodGet)

	// /v1/messages/{id}
	r.HandleFunc("/messages/{id}", getMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", updateMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", deleteMessage).Methods(http.MethodDelete)

	// reaction and receipt mutations
	r.HandleFunc("/messages/{id}/reactions/toggle", toggleReaction).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/read", markRead).Methods(http.MethodPost)
}

func publish(kind models.EventKind, m models.Message) {
	if fanout == nil {
		return
	}
	ch := models.Change{Kind: kind, Conversation: m.Conversation, TS: time.Now().UTC().UnixNano()}
	if kind == models.EventReaction {
		ch.MessageID = m.ID
	} else {
		msg := m
		ch.Message = &msg
	}
	fanout.Publish(ch, "")
}

// createMessage handles POST /messages. The server assigns the identifier
// and creation timestamp; a client-supplied correlation_id is echoed back
// verbatim in the stored row and the fanout event so optimistic inserts can
// be reconciled.
func createMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m models.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, status, msg := auth.ResolveIdentity(r, m.Sender)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	m.Sender = id
	m.ID = utils.GenID()
	m.CreatedTS = time.Now().UTC().UnixNano()
	m.EditedTS = 0
	m.DeletedTS = 0
	m.ReadTS = 0

	if err := validation.ValidateMessage(m); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if conv, err := store.GetConversation(m.Conversation); err == nil {
		if !conv.HasParticipant(m.Sender) && r.Header.Get("X-Role-Name") != "backend" {
			utils.JSONError(w, http.StatusForbidden, "not in conversation")
			return
		}
	}
	if m.ReplyTo != "" {
		target, err := store.GetMessage(m.ReplyTo)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "reply target not found")
			return
		}
		if target.Conversation != m.Conversation {
			utils.JSONError(w, http.StatusBadRequest, "reply target is in another conversation")
			return
		}
	}
	if err := store.AppendMessage(m); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	messagesCreated.Inc()
	logger.Info("message_created", "conversation", m.Conversation, "id", m.ID, "sender", m.Sender)
	publish(models.EventMessageInsert, m)
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

// listMessages handles GET /messages?conversation=<id>&limit=<n>.
func listMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	convID := r.URL.Query().Get("conversation")
	if convID == "" {
		utils.JSONError(w, http.StatusBadRequest, "conversation query parameter is required")
		return
	}
	c, err := store.GetConversation(convID)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if status, msg := requireParticipant(r, &c); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim > 0 {
			limit = lim
		}
	}
	msgs, err := store.ListMessages(convID, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"messages": msgs})
}

func getMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	m, err := store.GetMessage(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	if c, err := store.GetConversation(m.Conversation); err == nil {
		if status, msg := requireParticipant(r, &c); status != 0 {
			utils.JSONError(w, status, msg)
			return
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// updateMessage handles PUT /messages/{id}. Only the sender of a text-only,
// undeleted message may edit it.
func updateMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, status, msg := auth.ResolveIdentity(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	m, err := store.EditMessage(mux.Vars(r)["id"], id, payload.Content)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	logger.Info("message_edited", "conversation", m.Conversation, "id", m.ID)
	publish(models.EventMessageUpdate, m)
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// deleteMessage handles DELETE /messages/{id}. The row is tombstoned, never
// removed; ordering and reply references stay intact.
func deleteMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, status, msg := auth.ResolveIdentity(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	actor := id
	if r.Header.Get("X-Role-Name") == "backend" {
		// backend callers may delete on behalf of moderation
		actor = ""
	}
	m, err := store.SoftDeleteMessage(mux.Vars(r)["id"], actor)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	logger.Info("message_deleted", "conversation", m.Conversation, "id", m.ID)
	publish(models.EventMessageUpdate, m)
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// toggleReaction handles POST /messages/{id}/reactions/toggle. A caller has
// at most one reaction per message: toggling the same emoji removes it,
// a different emoji replaces it. The whole cycle is one atomic store write.
func toggleReaction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var payload struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Emoji == "" {
		utils.JSONError(w, http.StatusBadRequest, "emoji is required")
		return
	}
	id, status, msg := auth.ResolveIdentity(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	m, err := store.ToggleReaction(mux.Vars(r)["id"], id, payload.Emoji)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	reactionToggles.Inc()
	logger.Info("reaction_toggled", "conversation", m.Conversation, "id", m.ID, "user", id)
	publish(models.EventReaction, m)
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// markRead handles POST /messages/{id}/read. The first receipt wins; later
// calls return the unchanged row.
func markRead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, status, msg := auth.ResolveIdentity(r, ""); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	m, err := store.MarkRead(mux.Vars(r)["id"])
	if err != nil {
		writeMutationError(w, err)
		return
	}
	publish(models.EventMessageUpdate, m)
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func writeMutationError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	utils.JSONError(w, http.StatusConflict, err.Error())
}
