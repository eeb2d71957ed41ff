package client

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
)

// Buckets the relay accepts uploads into.
const (
	BucketImages = "chat-images"
	BucketAudio  = "chat-audio"
)

// Upload is the stored location plus a time-limited fetch URL.
type Upload struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// UploadImage stores picture bytes and returns the path to put in a
// message's image_path field.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (Upload, error) {
	return c.upload(ctx, BucketImages, filename, data)
}

// UploadAudio stores a voice recording for a message's audio_path field.
func (c *Client) UploadAudio(ctx context.Context, filename string, data []byte) (Upload, error) {
	return c.upload(ctx, BucketAudio, filename, data)
}

func (c *Client) upload(ctx context.Context, bucket, filename string, data []byte) (Upload, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Upload{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return Upload{}, err
	}
	if err := mw.Close(); err != nil {
		return Upload{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/blobs/"+bucket, &body)
	if err != nil {
		return Upload{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Identity", c.identity)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Upload{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return Upload{}, &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	var out Upload
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

// ResolveURL mints a fresh signed fetch URL for a stored attachment path.
// Cached URLs expire; call this again when a fetch comes back 410.
func (c *Client) ResolveURL(ctx context.Context, path string) (string, error) {
	var out Upload
	err := c.do(ctx, http.MethodPost, "/v1/blobs/sign", map[string]string{"path": path}, &out)
	if err != nil {
		return "", err
	}
	return out.URL, nil
}
