package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	userIDKey  contextKey = "user_id"
	isAdminKey contextKey = "is_admin"

	// UserIDHeader carries the caller identity. The service trusts the
	// gateway in front of it to have authenticated the value.
	UserIDHeader = "X-User-ID"

	// AdminKeyHeader carries the shared admin key for operator surfaces.
	AdminKeyHeader = "X-Admin-Key"
)

// Identity extracts the caller identity from the request headers and stores
// it on the context. Requests without the header proceed as anonymous.
func Identity(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if uid := strings.TrimSpace(r.Header.Get(UserIDHeader)); uid != "" {
				ctx = context.WithValue(ctx, userIDKey, uid)
			}
			if adminKey != "" {
				provided := r.Header.Get(AdminKeyHeader)
				if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) == 1 {
					ctx = context.WithValue(ctx, isAdminKey, true)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the caller identity, or "" for anonymous
// requests.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// IsAdmin reports whether the request presented a valid admin key.
func IsAdmin(ctx context.Context) bool {
	v, ok := ctx.Value(isAdminKey).(bool)
	return ok && v
}
