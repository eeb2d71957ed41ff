package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// PurgeDeletedBefore permanently removes soft-deleted message rows whose
// deletion timestamp is older than cutoff (ns). Rows and their ID index
// entries are removed together. Returns the number of purged rows; with
// dryRun set nothing is written and the count reports what would go.
func PurgeDeletedBefore(cutoff int64, batchSize int, dryRun bool) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	type victim struct {
		rowKey []byte
		msgID  string
	}
	var victims []victim
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.DeletedTS == 0 || m.DeletedTS >= cutoff {
			continue
		}
		victims = append(victims, victim{rowKey: append([]byte(nil), iter.Key()...), msgID: m.ID})
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if dryRun {
		logger.Info("retention_dry_run", "would_purge", len(victims))
		return len(victims), nil
	}

	purged := 0
	for start := 0; start < len(victims); start += batchSize {
		end := start + batchSize
		if end > len(victims) {
			end = len(victims)
		}
		b := db.NewBatch()
		for _, v := range victims[start:end] {
			_ = b.Delete(v.rowKey, nil)
			_ = b.Delete(msgIndexKey(v.msgID), nil)
		}
		if err := b.Commit(pebble.Sync); err != nil {
			_ = b.Close()
			return purged, fmt.Errorf("retention batch commit failed: %w", err)
		}
		_ = b.Close()
		purged += end - start
	}
	if purged > 0 {
		logger.Info("retention_purged", "count", purged)
	}
	return purged, nil
}

// ReferencedBlobPaths returns the set of blob storage paths referenced by
// any stored message. Used by retention to identify orphaned blobs.
func ReferencedBlobPaths() (map[string]struct{}, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := map[string]struct{}{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.ImagePath != "" {
			out[m.ImagePath] = struct{}{}
		}
		if m.AudioPath != "" {
			out[m.AudioPath] = struct{}{}
		}
	}
	return out, iter.Error()
}
