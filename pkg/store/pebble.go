package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

var db *pebble.DB
var dbPath string

// seq provides a small counter to reduce key collisions when multiple
// messages share the same nanosecond timestamp.
var seq uint64

// rmwMu serializes read-modify-write cycles (edit, soft delete, reaction
// toggle, read receipt) so they behave as single atomic procedures.
var rmwMu sync.Mutex

// ErrNotFound is returned when a message or conversation does not exist.
var ErrNotFound = pebble.ErrNotFound

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Key layout:
//
//	conv:<convID>:meta                       conversation metadata JSON
//	conv:<convID>:msg:<padded_ns>-<seq>      message row, ordered by creation
//	msg:<msgID>                              msgID -> row key (update index)
func msgKey(convID string, ts int64, s uint64) string {
	return fmt.Sprintf("conv:%s:msg:%020d-%06d", convID, ts, s)
}

func convMetaKey(convID string) []byte {
	return []byte("conv:" + convID + ":meta")
}

func msgIndexKey(msgID string) []byte {
	return []byte("msg:" + msgID)
}

// AppendMessage writes a new message row under its conversation with a
// sortable timestamp key, and indexes it by message ID so later in-place
// updates can locate the row.
func AppendMessage(m models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if m.ID == "" || m.Conversation == "" {
		return fmt.Errorf("message requires id and conversation")
	}
	ts := m.CreatedTS
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
		m.CreatedTS = ts
	}
	s := atomic.AddUint64(&seq, 1)
	key := msgKey(m.Conversation, ts, s)

	// materialized reply previews are read-time only
	m.Reply = nil
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "conversation", m.Conversation, "key", key, "error", err)
		return err
	}
	if err := db.Set(msgIndexKey(m.ID), []byte(key), pebble.Sync); err != nil {
		logger.Error("append_message_index_failed", "msg_id", m.ID, "error", err)
		return err
	}
	logger.Info("message_saved", "conversation", m.Conversation, "key", key, "msg_id", m.ID)
	return touchConversation(m.Conversation, ts)
}

// GetMessage returns the current row for a message ID.
func GetMessage(msgID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	rowKey, closer, err := db.Get(msgIndexKey(msgID))
	if err != nil {
		return m, err
	}
	key := append([]byte(nil), rowKey...)
	if closer != nil {
		_ = closer.Close()
	}
	v, closer2, err := db.Get(key)
	if err != nil {
		return m, err
	}
	defer func() {
		if closer2 != nil {
			_ = closer2.Close()
		}
	}()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid stored message: %w", err)
	}
	return m, nil
}

// UpdateMessage applies mutate to the current row under the store's
// read-modify-write lock and persists the result in place. The row keeps
// its key, so ordering position is preserved across edits and deletes.
func UpdateMessage(msgID string, mutate func(*models.Message) error) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	rmwMu.Lock()
	defer rmwMu.Unlock()

	rowKey, closer, err := db.Get(msgIndexKey(msgID))
	if err != nil {
		return m, err
	}
	key := append([]byte(nil), rowKey...)
	if closer != nil {
		_ = closer.Close()
	}
	v, closer2, err := db.Get(key)
	if err != nil {
		return m, err
	}
	val := append([]byte(nil), v...)
	if closer2 != nil {
		_ = closer2.Close()
	}
	if err := json.Unmarshal(val, &m); err != nil {
		return m, fmt.Errorf("invalid stored message: %w", err)
	}
	if err := mutate(&m); err != nil {
		return m, err
	}
	m.Reply = nil
	nb, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(key, nb, pebble.Sync); err != nil {
		logger.Error("update_message_failed", "msg_id", msgID, "error", err)
		return m, err
	}
	logger.Info("message_updated", "conversation", m.Conversation, "msg_id", msgID)
	return m, nil
}

// ToggleReaction flips user's reaction on a message as one atomic
// procedure: same emoji removes it, a different emoji replaces it, none
// adds it. At most one reaction per (message, user).
func ToggleReaction(msgID, user, emoji string) (models.Message, error) {
	return UpdateMessage(msgID, func(m *models.Message) error {
		if user == "" || emoji == "" {
			return fmt.Errorf("reaction requires user and emoji")
		}
		if m.Reactions == nil {
			m.Reactions = map[string]string{}
		}
		if m.Reactions[user] == emoji {
			delete(m.Reactions, user)
			if len(m.Reactions) == 0 {
				m.Reactions = nil
			}
		} else {
			m.Reactions[user] = emoji
		}
		return nil
	})
}

// SoftDeleteMessage marks a message deleted. The row keeps its identifier
// and ordering position; content rendering is suppressed client-side.
func SoftDeleteMessage(msgID, actor string) (models.Message, error) {
	return UpdateMessage(msgID, func(m *models.Message) error {
		if actor != "" && m.Sender != actor {
			return fmt.Errorf("only the sender may delete a message")
		}
		if m.DeletedTS == 0 {
			m.DeletedTS = time.Now().UTC().UnixNano()
		}
		return nil
	})
}

// EditMessage replaces the text content of a message in place and stamps
// the edit time. Only text-only messages authored by actor are editable.
func EditMessage(msgID, actor, content string) (models.Message, error) {
	return UpdateMessage(msgID, func(m *models.Message) error {
		if !m.EditableBy(actor) {
			return fmt.Errorf("message is not editable by %s", actor)
		}
		if content == "" {
			return fmt.Errorf("edited content must not be empty")
		}
		m.Content = content
		m.EditedTS = time.Now().UTC().UnixNano()
		return nil
	})
}

// MarkRead stamps the read receipt once; later calls are no-ops.
func MarkRead(msgID string) (models.Message, error) {
	return UpdateMessage(msgID, func(m *models.Message) error {
		if m.ReadTS == 0 {
			m.ReadTS = time.Now().UTC().UnixNano()
		}
		return nil
	})
}

// ListMessages returns all messages for a conversation in creation order
// with reply previews materialized. A positive limit keeps only the most
// recent limit rows.
func ListMessages(convID string, limit ...int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:" + convID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	byID := make(map[string]int)
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		v := append([]byte(nil), iter.Value()...)
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			logger.Error("list_messages_invalid_row", "conversation", convID, "error", err)
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	// materialize reply previews from rows in this conversation
	for i := range out {
		if out[i].ReplyTo == "" {
			continue
		}
		var target *models.Message
		if j, ok := byID[out[i].ReplyTo]; ok {
			target = &out[j]
		} else if t, err := GetMessage(out[i].ReplyTo); err == nil {
			target = &t
		}
		if target == nil {
			continue
		}
		out[i].Reply = &models.ReplyPreview{
			ID:      target.ID,
			Sender:  target.Sender,
			Content: target.DisplayContent(),
			Deleted: target.Deleted(),
		}
	}

	if len(limit) > 0 && limit[0] > 0 && limit[0] < len(out) {
		out = out[len(out)-limit[0]:]
	}
	return out, nil
}

// SaveConversation stores conversation metadata under a reserved key.
func SaveConversation(c models.Conversation) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := db.Set(convMetaKey(c.ID), data, pebble.Sync); err != nil {
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return err
	}
	logger.Info("conversation_saved", "conversation", c.ID)
	return nil
}

// GetConversation returns the stored conversation metadata.
func GetConversation(convID string) (models.Conversation, error) {
	var c models.Conversation
	if db == nil {
		return c, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(convMetaKey(convID))
	if err != nil {
		return c, err
	}
	defer func() {
		if closer != nil {
			_ = closer.Close()
		}
	}()
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid stored conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all saved conversation metadata values.
func ListConversations() ([]models.Conversation, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var c models.Conversation
		if err := json.Unmarshal(iter.Value(), &c); err == nil {
			out = append(out, c)
		}
	}
	return out, iter.Error()
}

// touchConversation bumps UpdatedTS, creating metadata when a message
// arrives for a conversation that was never explicitly created.
func touchConversation(convID string, ts int64) error {
	c, err := GetConversation(convID)
	if err != nil {
		c = models.Conversation{ID: convID, CreatedTS: ts, UpdatedTS: ts}
		return SaveConversation(c)
	}
	c.UpdatedTS = ts
	return SaveConversation(c)
}
