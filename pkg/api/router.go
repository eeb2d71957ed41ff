package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/pkg/realtime"
)

// Handler builds the /v1 JSON surface. All routes assume the auth gateway
// middleware already ran and tagged the request with X-Role-Name.
func Handler(hub *realtime.Hub, sendBuffer int) http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	RegisterConversations(v1, hub, sendBuffer)
	RegisterMessages(v1, hub)
	RegisterBlobs(v1)
	return r
}
