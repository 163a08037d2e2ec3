package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/itdesk/internal/platform/httpx"
	"github.com/odyssey-erp/itdesk/internal/shared"
)

// ErrNoIdentity is returned by resolvers when a request carries no credentials.
var ErrNoIdentity = errors.New("rbac: no identity")

// IdentityResolver extracts the authenticated actor from a request.
type IdentityResolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(r *http.Request) (Identity, error)

// Resolve calls f(r).
func (f IdentityResolverFunc) Resolve(r *http.Request) (Identity, error) { return f(r) }

// DecisionRecorder observes guard outcomes.
type DecisionRecorder interface {
	ObserveDecision(guard, result string)
}

// Decision results reported to a DecisionRecorder.
const (
	ResultAllowed         = "allowed"
	ResultForbidden       = "forbidden"
	ResultUnauthenticated = "unauthenticated"
	ResultError           = "error"
)

type guardMode int

const (
	modeAll guardMode = iota
	modeAny
	modeRole
)

// Guard is a compiled authorization requirement.
type Guard struct {
	name    string
	mode    guardMode
	targets []Target
	roles   []string
}

// AllOf requires every target.
func AllOf(targets ...Target) Guard {
	return Guard{name: "all", mode: modeAll, targets: targets}
}

// AnyOf requires at least one target.
func AnyOf(targets ...Target) Guard {
	return Guard{name: "any", mode: modeAny, targets: targets}
}

// RoleIn requires membership in at least one named role. Names are compared
// exactly, as stored; pass canonical names such as shared.RoleAdmin.
func RoleIn(names ...string) Guard {
	return Guard{name: "role", mode: modeRole, roles: append([]string(nil), names...)}
}

func (g Guard) String() string {
	if g.mode == modeRole {
		return "role(" + strings.Join(g.roles, "|") + ")"
	}
	parts := make([]string, len(g.targets))
	for i, t := range g.targets {
		parts[i] = t.String()
	}
	sep := ","
	if g.mode == modeAny {
		sep = "|"
	}
	return g.name + "(" + strings.Join(parts, sep) + ")"
}

// check evaluates the guard. An empty guard only requires authentication.
func (g Guard) check(snap decider) error {
	switch g.mode {
	case modeAll:
		if t, ok := allowsAll(snap, g.targets); !ok {
			return &ForbiddenError{Permission: t.String()}
		}
	case modeAny:
		if len(g.targets) > 0 && !allowsAny(snap, g.targets) {
			return &ForbiddenError{Permission: g.String()}
		}
	case modeRole:
		if len(g.roles) > 0 && !snap.HasRole(g.roles...) {
			return &ForbiddenError{Role: strings.Join(g.roles, "|")}
		}
	}
	return nil
}

// Middleware adapts the decision engine to HTTP handlers.
type Middleware struct {
	Engine   *Engine
	Identity IdentityResolver
	Logger   *slog.Logger
	Metrics  DecisionRecorder
}

// Authorize resolves the caller and evaluates g. On success it returns the
// context to hand downstream; otherwise an *UnauthenticatedError, a
// *ForbiddenError, or an infrastructure error.
func (m Middleware) Authorize(r *http.Request, g Guard) (*AuthContext, error) {
	if auth := AuthFromContext(r.Context()); auth != nil {
		if err := g.check(auth); err != nil {
			return nil, err
		}
		return auth, nil
	}
	id, err := m.Identity.Resolve(r)
	if err != nil {
		var unauth *UnauthenticatedError
		if errors.Is(err, ErrNoIdentity) {
			return nil, &UnauthenticatedError{Reason: "no credentials"}
		}
		if errors.As(err, &unauth) {
			return nil, unauth
		}
		return nil, err
	}
	if id.UserID <= 0 {
		return nil, &UnauthenticatedError{Reason: "invalid subject"}
	}
	snap, err := m.Engine.Snapshot(r.Context(), id.UserID)
	if err != nil {
		return nil, err
	}
	if err := g.check(snap); err != nil {
		return nil, err
	}
	return newAuthContext(id, snap), nil
}

// Require builds a middleware enforcing g.
func (m Middleware) Require(g Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, err := m.Authorize(r, g)
			if err != nil {
				m.reject(w, r, g, err)
				return
			}
			m.observe(g, ResultAllowed)
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), auth)))
		})
	}
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.Require(AllOf(MustParseTargets(perms...)...))
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.Require(AnyOf(MustParseTargets(perms...)...))
}

// RequireRole ensures the current user holds at least one named role.
func (m Middleware) RequireRole(names ...string) func(http.Handler) http.Handler {
	return m.Require(RoleIn(names...))
}

// Authenticated only requires a resolvable identity.
func (m Middleware) Authenticated() func(http.Handler) http.Handler {
	return m.Require(AllOf())
}

func (m Middleware) reject(w http.ResponseWriter, r *http.Request, g Guard, err error) {
	var (
		unauth    *UnauthenticatedError
		forbidden *ForbiddenError
	)
	switch {
	case errors.As(err, &unauth):
		m.observe(g, ResultUnauthenticated)
	case errors.As(err, &forbidden):
		m.observe(g, ResultForbidden)
		m.logger().Info("rbac denied",
			slog.String("guard", g.String()),
			slog.String("path", r.URL.Path),
			slog.String("required", forbidden.Permission+forbidden.Role))
	default:
		m.observe(g, ResultError)
		m.logger().Error("rbac decision", slog.String("guard", g.String()), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (m Middleware) observe(g Guard, result string) {
	if m.Metrics != nil {
		m.Metrics.ObserveDecision(g.name, result)
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// SessionResolver reads the user ID stored in the cookie session.
type SessionResolver struct{}

// Resolve implements IdentityResolver.
func (SessionResolver) Resolve(r *http.Request) (Identity, error) {
	return identityFromSession(r.Context())
}

func identityFromSession(ctx context.Context) (Identity, error) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil {
		return Identity{}, ErrNoIdentity
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return Identity{}, ErrNoIdentity
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Identity{}, &UnauthenticatedError{Reason: "malformed session subject"}
	}
	return Identity{UserID: id, Username: sess.Get(shared.SessionKeyUsername)}, nil
}
