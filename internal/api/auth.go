package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/npezzotti/campus-connect/internal/auth"
)

const (
	tokenCookieKey = "token"
	tokenQueryKey  = "token"
	bearerPrefix   = "Bearer "
)

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)

	return id, ok
}

// tokenFromRequest looks for a token in the Authorization header, then the
// token cookie and, when allowQuery is set, the token query parameter.
// Browsers cannot set headers on a websocket handshake, hence the query.
func tokenFromRequest(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}

	if cookie, err := r.Cookie(tokenCookieKey); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	if allowQuery {
		return r.URL.Query().Get(tokenQueryKey)
	}

	return ""
}
