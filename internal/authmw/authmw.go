// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/itemdesk/internal/identity"
)

// Authenticator validates presented credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, c identity.Credentials) (identity.Session, error)
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s identity.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by Authenticate, if any.
func SessionFrom(ctx context.Context) (identity.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(identity.Session)
	return s, ok
}

// Authenticate returns middleware that requires an Authorization: Bearer
// token accepted by auth and stores the resulting session in the request
// context. Only the user id is trusted downstream; roles are looked up again
// by the operations that need them.
func Authenticate(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			sess, err := auth.Authenticate(r.Context(), identity.Credentials{Token: token})
			if err != nil {
				if errors.Is(err, identity.ErrInvalidCredentials) {
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				log.FromContext(r.Context()).Error(r.Context(), err, "authentication backend failed")
				writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
				return
			}

			ctx := WithSession(r.Context(), sess)
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("user_id", sess.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := header[len(prefix):]
	if token == "" {
		return "", false
	}
	return token, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
