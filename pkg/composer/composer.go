package composer

import (
	"errors"
	"strings"

	"chatsync/pkg/client"
	"chatsync/pkg/models"
)

// Mode is the composer's input context.
type Mode int

const (
	// ModePlain composes a fresh message.
	ModePlain Mode = iota
	// ModeReplying composes a message referencing another row.
	ModeReplying
	// ModeEditing rewrites an own, text-only message in place.
	ModeEditing
)

func (m Mode) String() string {
	switch m {
	case ModeReplying:
		return "replying"
	case ModeEditing:
		return "editing"
	default:
		return "plain"
	}
}

var (
	ErrNotEditable = errors.New("message is not editable")
	ErrEmptyDraft  = errors.New("draft is empty")
	ErrDeletedRow  = errors.New("message is deleted")
)

// Composer models the input bar's state machine. Reply and edit are
// mutually exclusive: entering one leaves the other. Starting an edit
// stashes the in-progress draft and restores it on cancel.
type Composer struct {
	identity string

	mode    Mode
	draft   string
	target  models.Message
	stashed string
}

// New creates a composer writing as the given identity.
func New(identity string) *Composer {
	return &Composer{identity: identity}
}

// Mode returns the current input context.
func (c *Composer) Mode() Mode { return c.mode }

// Draft returns the current draft text.
func (c *Composer) Draft() string { return c.draft }

// Target returns the message being replied to or edited.
func (c *Composer) Target() models.Message { return c.target }

// SetDraft replaces the draft text.
func (c *Composer) SetDraft(s string) { c.draft = s }

// BeginReply switches to reply mode targeting m. The draft is kept; only
// the reference changes. Replying to a deleted row is allowed, the preview
// renders the placeholder.
func (c *Composer) BeginReply(m models.Message) {
	if c.mode == ModeEditing {
		c.draft = c.stashed
		c.stashed = ""
	}
	c.mode = ModeReplying
	c.target = m
}

// BeginEdit switches to edit mode for an own, text-only message. The
// current draft is stashed and the message content becomes the draft.
func (c *Composer) BeginEdit(m models.Message) error {
	if m.Deleted() {
		return ErrDeletedRow
	}
	if !m.EditableBy(c.identity) {
		return ErrNotEditable
	}
	if c.mode != ModeEditing {
		c.stashed = c.draft
	}
	c.mode = ModeEditing
	c.target = m
	c.draft = m.Content
	return nil
}

// Cancel returns to plain mode. A canceled edit restores the stashed draft.
func (c *Composer) Cancel() {
	if c.mode == ModeEditing {
		c.draft = c.stashed
	}
	c.stashed = ""
	c.mode = ModePlain
	c.target = models.Message{}
}

// CanSend reports whether the current draft is sendable.
func (c *Composer) CanSend() bool {
	return strings.TrimSpace(c.draft) != ""
}

// BuildDraft produces the outgoing draft for plain and reply modes and
// resets the composer. Edit mode does not build a draft; use EditTarget.
func (c *Composer) BuildDraft() (client.Draft, error) {
	if c.mode == ModeEditing {
		return client.Draft{}, ErrNotEditable
	}
	if !c.CanSend() {
		return client.Draft{}, ErrEmptyDraft
	}
	d := client.Draft{Content: strings.TrimSpace(c.draft)}
	if c.mode == ModeReplying {
		d.ReplyTo = c.target.ID
	}
	c.draft = ""
	c.mode = ModePlain
	c.target = models.Message{}
	return d, nil
}

// EditTarget returns the message id and new content for a pending edit and
// resets the composer. Fails when not editing or the draft is empty.
func (c *Composer) EditTarget() (string, string, error) {
	if c.mode != ModeEditing {
		return "", "", ErrNotEditable
	}
	if !c.CanSend() {
		return "", "", ErrEmptyDraft
	}
	id := c.target.ID
	content := strings.TrimSpace(c.draft)
	c.draft = c.stashed
	c.stashed = ""
	c.mode = ModePlain
	c.target = models.Message{}
	return id, content, nil
}
