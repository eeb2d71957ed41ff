package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/logger"
)

// Buckets for chat attachments. Uploads outside these are rejected.
const (
	BucketImages = "chat-images"
	BucketAudio  = "chat-audio"
)

// DefaultTTL is the signed URL lifetime when callers pass zero.
const DefaultTTL = time.Hour

var (
	root       string
	signingKey []byte
)

var ErrExpired = fmt.Errorf("signed url expired")
var ErrBadSignature = fmt.Errorf("bad signature")

// Init sets the bucket root directory and the HMAC signing key, creating
// the bucket directories if missing.
func Init(dir, key string) error {
	if dir == "" {
		return fmt.Errorf("blob dir not configured")
	}
	if key == "" {
		return fmt.Errorf("blob signing key not configured")
	}
	for _, b := range []string{BucketImages, BucketAudio} {
		if err := os.MkdirAll(filepath.Join(dir, b), 0o700); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", b, err)
		}
	}
	root = dir
	signingKey = []byte(key)
	logger.Info("blob_store_ready", "dir", dir)
	return nil
}

// Ready reports whether the blob store was initialized.
func Ready() bool { return root != "" }

// ValidBucket reports whether name is one of the known buckets.
func ValidBucket(name string) bool {
	return name == BucketImages || name == BucketAudio
}

// Save writes data into bucket under a generated name and returns the
// storage path ("<bucket>/<name>"). The extension is carried over from
// the client-provided filename when present.
func Save(bucket, filename string, data []byte) (string, error) {
	if root == "" {
		return "", fmt.Errorf("blob store not initialized; call blob.Init first")
	}
	if !ValidBucket(bucket) {
		return "", fmt.Errorf("unknown bucket: %s", bucket)
	}
	ext := filepath.Ext(filename)
	name := uuid.NewString() + ext
	path := bucket + "/" + name
	full := filepath.Join(root, bucket, name)
	if err := os.WriteFile(full, data, 0o600); err != nil {
		logger.Error("blob_save_failed", "path", path, "error", err)
		return "", err
	}
	logger.Info("blob_saved", "path", path, "bytes", len(data))
	return path, nil
}

// Read returns the stored bytes for a storage path.
func Read(path string) ([]byte, error) {
	if root == "" {
		return nil, fmt.Errorf("blob store not initialized; call blob.Init first")
	}
	bucket, name, ok := splitPath(path)
	if !ok {
		return nil, fmt.Errorf("invalid blob path: %s", path)
	}
	return os.ReadFile(filepath.Join(root, bucket, name))
}

// Remove deletes a stored blob. Missing files are not an error.
func Remove(path string) error {
	if root == "" {
		return fmt.Errorf("blob store not initialized; call blob.Init first")
	}
	bucket, name, ok := splitPath(path)
	if !ok {
		return fmt.Errorf("invalid blob path: %s", path)
	}
	err := os.Remove(filepath.Join(root, bucket, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the storage paths currently present in bucket along with
// each file's modification time.
func List(bucket string) (map[string]time.Time, error) {
	if root == "" {
		return nil, fmt.Errorf("blob store not initialized; call blob.Init first")
	}
	if !ValidBucket(bucket) {
		return nil, fmt.Errorf("unknown bucket: %s", bucket)
	}
	entries, err := os.ReadDir(filepath.Join(root, bucket))
	if err != nil {
		return nil, err
	}
	out := map[string]time.Time{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out[bucket+"/"+e.Name()] = fi.ModTime()
	}
	return out, nil
}

// SignURL mints a time-limited retrieval URL for a storage path. The
// result is always distinct from the raw path: it carries an expiry and
// an HMAC-SHA256 signature over path+expiry.
func SignURL(path string, ttl time.Duration) (string, error) {
	if len(signingKey) == 0 {
		return "", fmt.Errorf("blob store not initialized; call blob.Init first")
	}
	if _, _, ok := splitPath(path); !ok {
		return "", fmt.Errorf("invalid blob path: %s", path)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	exp := time.Now().UTC().Add(ttl).Unix()
	sig := sign(path, exp)
	return fmt.Sprintf("/v1/blobs/%s?exp=%d&sig=%s", path, exp, sig), nil
}

// Verify checks the expiry and signature pulled off a signed URL's query.
func Verify(path string, expStr, sig string) error {
	if len(signingKey) == 0 {
		return fmt.Errorf("blob store not initialized; call blob.Init first")
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if time.Now().UTC().Unix() > exp {
		return ErrExpired
	}
	want := sign(path, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

func sign(path string, exp int64) string {
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(path))
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func splitPath(path string) (bucket, name string, ok bool) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if !ValidBucket(parts[0]) {
		return "", "", false
	}
	// reject traversal
	if strings.Contains(parts[1], "/") || strings.Contains(parts[1], "..") {
		return "", "", false
	}
	return parts[0], parts[1], true
}
