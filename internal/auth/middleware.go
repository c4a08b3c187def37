package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sakif/github-report/internal/model"
)

// CookieName is the cookie carrying the signed session ID.
const CookieName = "session"

// contextKey is unexported so no other package can read or overwrite the
// identity stored in a request context.
type contextKey string

const identityKey contextKey = "identity"

// Authenticator resolves a session cookie value to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, cookie string) (*model.Identity, error)
}

// RequireSession rejects requests without a valid session with 401 and
// stores the caller's identity in the context of the rest.
func RequireSession(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}

			id, err := authn.Authenticate(r.Context(), cookie.Value)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
		})
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity set by RequireSession.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok && id.SubjectID != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": "Invalid session ID.",
	})
}
