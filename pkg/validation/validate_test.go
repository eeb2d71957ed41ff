package validation

import (
	"strings"
	"testing"

	"chatsync/pkg/models"
)

func TestValidateMessage(t *testing.T) {
	valid := models.Message{Conversation: "c1", Sender: "alice", Content: "hi"}
	if err := ValidateMessage(valid); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	attachmentOnly := models.Message{Conversation: "c1", Sender: "alice", ImagePath: "chat-images/a.png"}
	if err := ValidateMessage(attachmentOnly); err != nil {
		t.Fatalf("attachment-only must pass, got %v", err)
	}

	cases := []struct {
		name string
		m    models.Message
		want string
	}{
		{"missing conversation", models.Message{Sender: "alice", Content: "hi"}, "conversation is required"},
		{"missing sender", models.Message{Conversation: "c1", Content: "hi"}, "sender is required"},
		{"key delimiter in conversation", models.Message{Conversation: "a:b", Sender: "alice", Content: "hi"}, "must not contain"},
		{"empty body", models.Message{Conversation: "c1", Sender: "alice"}, "content or attachment"},
		{"self reply", models.Message{ID: "m1", Conversation: "c1", Sender: "alice", Content: "hi", ReplyTo: "m1"}, "reply to itself"},
		{"negative duration", models.Message{Conversation: "c1", Sender: "alice", AudioPath: "chat-audio/v.m4a", AudioDurationMs: -1}, "cannot be negative"},
	}
	for _, tc := range cases {
		err := ValidateMessage(tc.m)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestContentLengthCap(t *testing.T) {
	SetLimits(Limits{MaxContentBytes: 10})
	defer SetLimits(Limits{})

	short := models.Message{Conversation: "c1", Sender: "alice", Content: "ten bytes!"}
	if err := ValidateMessage(short); err != nil {
		t.Fatalf("at-cap content must pass, got %v", err)
	}
	long := models.Message{Conversation: "c1", Sender: "alice", Content: "eleven byte"}
	if err := ValidateMessage(long); err == nil {
		t.Fatal("expected over-cap content to fail")
	}
}

func TestSetLimitsDefaults(t *testing.T) {
	SetLimits(Limits{})
	if MaxBlobBytes() != defaultMaxBlobBytes {
		t.Fatalf("expected default blob cap, got %d", MaxBlobBytes())
	}
	if limits.MaxContentBytes != defaultMaxContentBytes {
		t.Fatalf("expected default content cap, got %d", limits.MaxContentBytes)
	}
}

func TestMultipleErrorsJoined(t *testing.T) {
	err := ValidateMessage(models.Message{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Fatalf("expected joined errors, got %q", err.Error())
	}
}
