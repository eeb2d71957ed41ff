package validation

import (
	"errors"
	"fmt"
	"strings"

	"chatsync/pkg/models"
)

// Limits carries the configurable size bounds for inbound writes.
type Limits struct {
	MaxContentBytes int
	MaxBlobBytes    int64
}

const (
	defaultMaxContentBytes = 8 * 1024
	defaultMaxBlobBytes    = 16 << 20
)

var limits = Limits{MaxContentBytes: defaultMaxContentBytes, MaxBlobBytes: defaultMaxBlobBytes}

func SetLimits(l Limits) {
	if l.MaxContentBytes <= 0 {
		l.MaxContentBytes = defaultMaxContentBytes
	}
	if l.MaxBlobBytes <= 0 {
		l.MaxBlobBytes = defaultMaxBlobBytes
	}
	limits = l
}

// MaxBlobBytes returns the configured upload size cap.
func MaxBlobBytes() int64 { return limits.MaxBlobBytes }

// ValidateMessage checks an inbound message before it is written. A message
// needs a conversation, a sender and at least one of text content or an
// attachment path.
func ValidateMessage(m models.Message) error {
	var errs []string
	if m.Conversation == "" {
		errs = append(errs, "conversation is required")
	} else if strings.Contains(m.Conversation, ":") {
		// ':' delimits the store's key scheme
		errs = append(errs, "conversation id must not contain ':'")
	}
	if m.Sender == "" {
		errs = append(errs, "sender is required")
	}
	if m.Content == "" && !m.HasAttachment() {
		errs = append(errs, "content or attachment is required")
	}
	if len(m.Content) > limits.MaxContentBytes {
		errs = append(errs, fmt.Sprintf("content exceeds %d bytes", limits.MaxContentBytes))
	}
	if m.ReplyTo != "" && m.ReplyTo == m.ID {
		errs = append(errs, "message cannot reply to itself")
	}
	if m.AudioPath != "" && m.AudioDurationMs < 0 {
		errs = append(errs, "audio duration cannot be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
