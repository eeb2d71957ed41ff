package models

type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	// Participants are opaque identity ids (clients manage meaning).
	Participants []string `json:"participants,omitempty"`
	// Created/Updated timestamps (ns). Updated moves on thread activity.
	CreatedTS int64 `json:"created_ts,omitempty"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// Deleted marks a conversation as soft-deleted; DeletedTS records when (ns).
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`
}

// HasParticipant reports whether user is a member of the conversation. An
// empty participant list means the conversation is open to any identity.
func (c *Conversation) HasParticipant(user string) bool {
	if len(c.Participants) == 0 {
		return true
	}
	for _, p := range c.Participants {
		if p == user {
			return true
		}
	}
	return false
}
