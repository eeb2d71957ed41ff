package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"chatsync/pkg/auth"
	"chatsync/pkg/blob"
	"chatsync/pkg/logger"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"
)

// RegisterBlobs registers the attachment endpoints. Uploads are authorized
// by the gateway; downloads are authorized by the signed URL alone so that
// image views and audio players can fetch without custom headers.
func RegisterBlobs(r *mux.Router) {
	r.HandleFunc("/blobs/sign", signBlob).Methods(http.MethodPost)
	r.HandleFunc("/blobs/{bucket}", uploadBlob).Methods(http.MethodPost)
	r.HandleFunc("/blobs/{bucket}/{name}", fetchBlob).Methods(http.MethodGet)
}

type blobResponse struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// uploadBlob handles POST /blobs/{bucket}. The body is either a multipart
// form with a "file" part or the raw bytes with a ?filename= query. The
// response carries the stored path and a signed fetch URL.
func uploadBlob(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	bucket := mux.Vars(r)["bucket"]
	if !blob.ValidBucket(bucket) {
		utils.JSONError(w, http.StatusBadRequest, "unknown bucket")
		return
	}
	if _, status, msg := auth.ResolveIdentity(r, ""); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxBlobBytes())

	var filename string
	var data []byte
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == "multipart/form-data" {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "missing file part")
			return
		}
		defer file.Close()
		filename = hdr.Filename
		data, err = io.ReadAll(file)
		if err != nil {
			utils.JSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
	} else {
		filename = r.URL.Query().Get("filename")
		var err error
		data, err = io.ReadAll(r.Body)
		if err != nil {
			utils.JSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
	}
	if len(data) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "empty upload")
		return
	}

	path, err := blob.Save(bucket, filename, data)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	url, err := blob.SignURL(path, blob.DefaultTTL)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	blobUploads.WithLabelValues(bucket).Inc()
	logger.Info("blob_uploaded", "bucket", bucket, "path", path, "bytes", len(data))
	_ = utils.JSONWrite(w, http.StatusCreated, blobResponse{Path: path, URL: url})
}

// signBlob handles POST /blobs/sign, minting a fresh signed URL for an
// already stored path. Clients call this when a cached URL has expired.
func signBlob(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var payload struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Path == "" {
		utils.JSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, status, msg := auth.ResolveIdentity(r, ""); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if _, err := blob.Read(payload.Path); err != nil {
		utils.JSONError(w, http.StatusNotFound, "blob not found")
		return
	}
	url, err := blob.SignURL(payload.Path, blob.DefaultTTL)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, blobResponse{Path: payload.Path, URL: url})
}

// fetchBlob handles GET /blobs/{bucket}/{name}?exp=&sig=. The signature is
// the only credential; expired or tampered URLs are refused.
func fetchBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	path := vars["bucket"] + "/" + vars["name"]

	exp := r.URL.Query().Get("exp")
	sig := r.URL.Query().Get("sig")
	if err := blob.Verify(path, exp, sig); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, blob.ErrExpired) {
			status = http.StatusGone
		}
		logger.Warn("blob_fetch_refused", "path", path, "error", err)
		utils.JSONError(w, status, err.Error())
		return
	}
	data, err := blob.Read(path)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "blob not found")
		return
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
