// Package contextid resolves the conversation context id of a request.
package contextid

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderName = "X-Context-ID"
	QueryParam = "context_id"
)

type contextKey int

const contextIDKey contextKey = iota

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Sanitize returns the trimmed id, or "" when it is empty or contains
// characters outside [A-Za-z0-9._:-] or is longer than 128 bytes.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !idPattern.MatchString(id) {
		return ""
	}
	return id
}

// New returns a fresh random context id.
func New() string {
	return uuid.NewString()
}

// FromContext extracts the context id stored by Middleware.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextIDKey).(string); ok {
		return v
	}
	return ""
}

// WithID stores id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextIDKey, id)
}

// FromRequest reads the header, then the query parameter. The second return
// value is false when a new id had to be generated.
func FromRequest(r *http.Request) (string, bool) {
	id := r.Header.Get(HeaderName)
	if id == "" {
		id = r.URL.Query().Get(QueryParam)
	}
	if id = Sanitize(id); id != "" {
		return id, true
	}
	return New(), false
}

// Middleware injects the request's context id and echoes it in the response
// header so clients can reuse a generated one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := FromRequest(r)
		w.Header().Set(HeaderName, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
