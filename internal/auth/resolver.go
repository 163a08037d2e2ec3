package auth

import (
	"net/http"
	"strings"

	"github.com/odyssey-erp/itdesk/internal/rbac"
)

const bearerPrefix = "Bearer "

// Resolver identifies the caller from a bearer token, falling back to the
// cookie session.
type Resolver struct {
	tokens   *TokenIssuer
	sessions rbac.IdentityResolver
}

// NewResolver constructs a Resolver.
func NewResolver(tokens *TokenIssuer) *Resolver {
	return &Resolver{tokens: tokens, sessions: rbac.SessionResolver{}}
}

// Resolve implements rbac.IdentityResolver.
func (res *Resolver) Resolve(r *http.Request) (rbac.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return res.sessions.Resolve(r)
	}
	raw, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || strings.TrimSpace(raw) == "" {
		return rbac.Identity{}, &rbac.UnauthenticatedError{Reason: "unsupported authorization scheme"}
	}
	claims, err := res.tokens.Parse(strings.TrimSpace(raw))
	if err != nil {
		return rbac.Identity{}, &rbac.UnauthenticatedError{Reason: "invalid bearer token"}
	}
	id, err := claims.UserID()
	if err != nil {
		return rbac.Identity{}, &rbac.UnauthenticatedError{Reason: "invalid bearer subject"}
	}
	return rbac.Identity{UserID: id, Username: claims.Username}, nil
}

// IsBearer reports whether r authenticates with a bearer token. Such requests
// carry no ambient cookie credentials and skip CSRF verification.
func IsBearer(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), bearerPrefix)
}
