package auth

import (
	"context"
	"net/http"
	"strings"

	"chatsync/pkg/logger"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior. Put here so limiter.go
// and gateway.go can reference the shared type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AllowUnauth    bool
}

type ctxIdentityKey struct{}

// WithIdentity injects a verified identity into the request context.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// IdentityFromContext returns the caller identity or empty string.
func IdentityFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxIdentityKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func validateIdentity(id string) (bool, string) {
	if id == "" {
		return false, "identity required"
	}
	if len(id) > 128 {
		return false, "identity too long"
	}
	return true, ""
}

// ResolveIdentity is the single canonical resolver handlers should call.
// Frontend callers carry their identity in the X-Identity header set by the
// app shell. Backend callers may additionally supply one via body or query
// when acting on a user's behalf. Returns (identity, 0, "") on success or
// ("", status, message) on failure.
func ResolveIdentity(r *http.Request, bodySender string) (string, int, string) {
	if id := IdentityFromContext(r.Context()); id != "" {
		return id, 0, ""
	}

	id := strings.TrimSpace(r.Header.Get("X-Identity"))
	role := r.Header.Get("X-Role-Name")

	if id == "" && (role == "backend") {
		if bodySender != "" {
			id = bodySender
		} else {
			id = strings.TrimSpace(r.URL.Query().Get("user"))
		}
	}
	if id == "" {
		logger.Warn("identity_missing", "role", role, "path", r.URL.Path, "remote", r.RemoteAddr)
		return "", http.StatusUnauthorized, "missing identity"
	}
	if ok, msg := validateIdentity(id); !ok {
		logger.Warn("identity_invalid", "identity", id, "path", r.URL.Path)
		return "", http.StatusBadRequest, msg
	}
	// frontend callers cannot act for someone else
	if role == "frontend" && bodySender != "" && bodySender != id {
		logger.Warn("identity_mismatch", "identity", id, "body", bodySender, "path", r.URL.Path)
		return "", http.StatusForbidden, "sender does not match identity"
	}
	return id, 0, ""
}
