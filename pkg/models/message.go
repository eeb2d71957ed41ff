package models

// DeletedPlaceholder is what a soft-deleted message renders as. The row
// keeps its identifier and ordering position; only content is suppressed.
const DeletedPlaceholder = "This message was deleted"

type Message struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	Sender       string `json:"sender,omitempty"`
	// Content is the optional text body.
	Content string `json:"content,omitempty"`
	// ImagePath / AudioPath are blob storage paths, never embedded bytes
	// and never signed URLs (those are minted at read time).
	ImagePath       string `json:"image_path,omitempty"`
	AudioPath       string `json:"audio_path,omitempty"`
	AudioDurationMs int64  `json:"audio_duration_ms,omitempty"`
	// ReplyTo references another message in the same conversation.
	ReplyTo string `json:"reply_to,omitempty"`
	// Reply is the materialized reply target (content + sender), filled
	// at read time; never persisted.
	Reply *ReplyPreview `json:"reply,omitempty"`
	// Timestamps are UTC nanoseconds. EditedTS/DeletedTS/ReadTS are zero
	// until the corresponding event happens.
	CreatedTS int64 `json:"created_ts"`
	EditedTS  int64 `json:"edited_ts,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`
	ReadTS    int64 `json:"read_ts,omitempty"`
	// Reactions maps reactor identity -> emoji; at most one per user.
	Reactions map[string]string `json:"reactions,omitempty"`
	// CorrelationID is a client-generated token echoed back verbatim so
	// senders can match realtime echoes against optimistic local inserts.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ReplyPreview carries the denormalized reply-target fields a renderer needs.
type ReplyPreview struct {
	ID      string `json:"id"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Deleted reports whether the message is soft-deleted.
func (m *Message) Deleted() bool { return m.DeletedTS != 0 }

// HasAttachment reports whether the message carries an image or audio blob.
func (m *Message) HasAttachment() bool { return m.ImagePath != "" || m.AudioPath != "" }

// EditableBy reports whether user may edit this message: author only, text
// only, no attachments, not deleted.
func (m *Message) EditableBy(user string) bool {
	return m.Sender == user && m.Content != "" && !m.HasAttachment() && !m.Deleted()
}

// DisplayContent returns the text a renderer should show, substituting the
// fixed placeholder for soft-deleted messages.
func (m *Message) DisplayContent() string {
	if m.Deleted() {
		return DeletedPlaceholder
	}
	return m.Content
}
