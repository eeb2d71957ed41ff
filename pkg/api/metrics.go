package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_created_total",
		Help: "Messages accepted and appended to the store.",
	})

	reactionToggles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reaction_toggles_total",
		Help: "Reaction toggle mutations applied.",
	})

	blobUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_blob_uploads_total",
		Help: "Attachment uploads accepted, by bucket.",
	}, []string{"bucket"})
)
