package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/hiregate/pkg/auth"
	"github.com/platinummonkey/hiregate/pkg/contextkeys"
	"github.com/platinummonkey/hiregate/pkg/httputil"
)

// AuthMiddleware authenticates requests with a bearer token
type AuthMiddleware struct {
	provider auth.IdentityProvider
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(provider auth.IdentityProvider) *AuthMiddleware {
	return &AuthMiddleware{provider: provider}
}

// Handler wraps an HTTP handler with authentication. On success the
// caller's auth.Identity is stored in the request context; otherwise the
// request is answered with an unauthenticated envelope. Provider failures
// other than a bad token answer with the provider's error kind.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "missing or malformed authorization header")
			return
		}

		identity, err := m.provider.Authenticate(r.Context(), token)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetIdentity returns the authenticated caller of r.
func GetIdentity(r *http.Request) (auth.Identity, bool) {
	return contextkeys.GetIdentity(r.Context())
}
