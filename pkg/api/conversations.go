package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"chatsync/pkg/auth"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/realtime"
	"chatsync/pkg/store"
	"chatsync/pkg/utils"
)

// RegisterConversations registers all conversation-scoped HTTP routes on the
// provided router, including the realtime channel upgrade.
func RegisterConversations(r *mux.Router, hub *realtime.Hub, sendBuffer int) {
	r.HandleFunc("/conversations", createConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations", listConversations).Methods(http.MethodGet)

	r.HandleFunc("/conversations/{id}", getConversation).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", deleteConversation).Methods(http.MethodDelete)

	r.HandleFunc("/conversations/{id}/messages", listConversationMessages).Methods(http.MethodGet)

	r.HandleFunc("/conversations/{id}/ws", func(w http.ResponseWriter, req *http.Request) {
		realtime.ServeWS(hub, sendBuffer, w, req, mux.Vars(req)["id"])
	}).Methods(http.MethodGet)
}

// createConversation handles POST /conversations. The caller identity is
// always included in the participant set.
func createConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var c models.Conversation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, status, msg := auth.ResolveIdentity(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if !c.HasParticipant(id) && len(c.Participants) > 0 {
		c.Participants = append(c.Participants, id)
	}
	if c.ID == "" {
		c.ID = utils.GenConvID()
	} else if strings.Contains(c.ID, ":") {
		// ':' delimits the store's key scheme
		utils.JSONError(w, http.StatusBadRequest, "conversation id must not contain ':'")
		return
	}
	if c.CreatedTS == 0 {
		c.CreatedTS = time.Now().UTC().UnixNano()
	}
	if c.UpdatedTS == 0 {
		c.UpdatedTS = c.CreatedTS
	}
	if err := store.SaveConversation(c); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("conversation_created", "conversation", c.ID, "participants", len(c.Participants))
	_ = utils.JSONWrite(w, http.StatusCreated, c)
}

// listConversations handles GET /conversations. Frontend callers see the
// conversations they participate in; backend callers may pass ?user= to
// inspect another identity's set, or omit it to list everything.
func listConversations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	role := r.Header.Get("X-Role-Name")
	user := r.URL.Query().Get("user")
	if role != "backend" {
		id, status, msg := auth.ResolveIdentity(r, "")
		if status != 0 {
			utils.JSONError(w, status, msg)
			return
		}
		user = id
	}

	convs, err := store.ListConversations()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		if c.Deleted {
			continue
		}
		if user != "" && !c.HasParticipant(user) {
			continue
		}
		out = append(out, c)
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"conversations": out})
}

func getConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	c, err := store.GetConversation(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if status, msg := requireParticipant(r, &c); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

// deleteConversation soft-deletes the conversation meta. Message rows stay
// until retention purges them.
func deleteConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	c, err := store.GetConversation(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if status, msg := requireParticipant(r, &c); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if !c.Deleted {
		c.Deleted = true
		c.DeletedTS = time.Now().UTC().UnixNano()
		if err := store.SaveConversation(c); err != nil {
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	logger.Info("conversation_deleted", "conversation", c.ID)
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

// listConversationMessages handles GET /conversations/{id}/messages with an
// optional ?limit=<n> keeping only the most recent rows.
func listConversationMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	convID := mux.Vars(r)["id"]
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

// requireParticipant resolves the caller identity and checks conversation
// membership. Backend callers bypass the membership check.
func requireParticipant(r *http.Request, c *models.Conversation) (int, string) {
	if r.Header.Get("X-Role-Name") == "backend" {
		return 0, ""
	}
	id, status, msg := auth.ResolveIdentity(r, "")
	if status != 0 {
		return status, msg
	}
	if !c.HasParticipant(id) {
		return http.StatusForbidden, "not in conversation"
	}
	return 0, ""
}
