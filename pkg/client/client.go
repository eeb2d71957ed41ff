package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/models"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the relay root, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is sent as X-API-Key on every request. Optional when the
	// relay allows unauthenticated frontends.
	APIKey string
	// Identity is the local user, sent as X-Identity.
	Identity string
	// HTTPClient overrides the default client (tests, timeouts).
	HTTPClient *http.Client
}

// Client is the REST half of the sync engine. It owns the local message
// cache and issues optimistic writes against the relay; the Listener half
// feeds the same cache from the conversation channel.
type Client struct {
	base     string
	apiKey   string
	identity string
	http     *http.Client

	Store *MessageStore
}

// APIError carries the relay's status code and error body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
}

// New creates a Client. Identity is required; every write is attributed
// to it.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if opts.Identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		base:     opts.BaseURL,
		apiKey:   opts.APIKey,
		identity: opts.Identity,
		http:     hc,
		Store:    NewMessageStore(),
	}, nil
}

// Identity returns the local user this client writes as.
func (c *Client) Identity() string { return c.identity }

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Identity", c.identity)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// CreateConversation creates a conversation including the local identity.
func (c *Client) CreateConversation(ctx context.Context, title string, participants []string) (models.Conversation, error) {
	var out models.Conversation
	in := models.Conversation{Title: title, Participants: participants}
	err := c.do(ctx, http.MethodPost, "/v1/conversations", in, &out)
	return out, err
}

// ListConversations lists the conversations the local identity is in.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out)
	return out.Conversations, err
}

// LoadMessages fetches a conversation's rows from the relay and replaces
// the local cache for that conversation. Limit 0 means everything.
func (c *Client) LoadMessages(ctx context.Context, convID string, limit int) ([]models.Message, error) {
	path := "/v1/conversations/" + url.PathEscape(convID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	c.Store.ReplaceAll(convID, out.Messages)
	return out.Messages, nil
}

// Draft describes an outgoing message before the relay assigns identity.
type Draft struct {
	Content         string
	ImagePath       string
	AudioPath       string
	AudioDurationMs int64
	ReplyTo         string
}

// Send posts a new message. The message appears in the local cache
// immediately with a correlation id; when the relay's echo arrives over
// the channel (or in the POST response, whichever is first) the optimistic
// row is replaced in place rather than duplicated.
func (c *Client) Send(ctx context.Context, convID string, d Draft) (models.Message, error) {
	m := models.Message{
		Conversation:    convID,
		Sender:          c.identity,
		Content:         d.Content,
		ImagePath:       d.ImagePath,
		AudioPath:       d.AudioPath,
		AudioDurationMs: d.AudioDurationMs,
		ReplyTo:         d.ReplyTo,
		CorrelationID:   uuid.NewString(),
		CreatedTS:       time.Now().UTC().UnixNano(),
	}
	c.Store.AddPending(m)

	var out models.Message
	if err := c.do(ctx, http.MethodPost, "/v1/messages", m, &out); err != nil {
		c.Store.DropPending(convID, m.CorrelationID)
		return models.Message{}, err
	}
	c.Store.Upsert(out)
	return out, nil
}

// SendReply posts a message referencing another row in the conversation.
func (c *Client) SendReply(ctx context.Context, convID, replyTo string, d Draft) (models.Message, error) {
	d.ReplyTo = replyTo
	return c.Send(ctx, convID, d)
}

// Edit replaces the text of an own, text-only message.
func (c *Client) Edit(ctx context.Context, msgID, content string) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPut, "/v1/messages/"+url.PathEscape(msgID),
		map[string]string{"content": content}, &out)
	if err != nil {
		return models.Message{}, err
	}
	c.Store.Upsert(out)
	return out, nil
}

// Delete tombstones an own message. The row stays in the timeline with its
// content suppressed.
func (c *Client) Delete(ctx context.Context, msgID string) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(msgID), nil, &out)
	if err != nil {
		return models.Message{}, err
	}
	c.Store.Upsert(out)
	return out, nil
}

// ToggleReaction flips the local identity's reaction on a message: the
// same emoji removes it, a different one replaces whatever was there.
func (c *Client) ToggleReaction(ctx context.Context, msgID, emoji string) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(msgID)+"/reactions/toggle",
		map[string]string{"emoji": emoji}, &out)
	if err != nil {
		return models.Message{}, err
	}
	c.Store.Upsert(out)
	return out, nil
}

// MarkRead stamps the read receipt on a message.
func (c *Client) MarkRead(ctx context.Context, msgID string) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(msgID)+"/read", nil, &out)
	if err != nil {
		return models.Message{}, err
	}
	c.Store.Upsert(out)
	return out, nil
}
