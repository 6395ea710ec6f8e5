package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/pairshot/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of this type, so nothing else can read
// or shadow the actor stored under it.
type contextKey string

const actorKey contextKey = "actor"

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It recovers the actor from a session token and stores it in the request
// context. If the token is missing or invalid, it returns 401 and stops the
// request chain.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := extractActor(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// OptionalAuth extracts the caller if a valid session token is present, but
// does NOT block the request if it's missing or invalid. Most endpoints of
// this API are open to anonymous callers and only tighten their checks when
// somebody is logged in.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor, err := extractActor(r, tokens); err == nil {
				r = r.WithContext(WithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor *model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the authenticated caller, or nil for anonymous
// requests.
//
// Usage in handlers:
//
//	actor := auth.ActorFromContext(r.Context())
//	if actor == nil {
//	    // anonymous user
//	}
func ActorFromContext(ctx context.Context) *model.Actor {
	actor, _ := ctx.Value(actorKey).(*model.Actor)
	return actor
}

// extractActor looks for a session token in the Authorization header, the
// "token" cookie and the "token" query parameter, in that order. Only
// session-purpose tokens identify a caller.
func extractActor(r *http.Request, tokens *TokenService) (*model.Actor, error) {
	raw := bearerToken(r)
	if raw == "" {
		if cookie, err := r.Cookie("token"); err == nil {
			raw = cookie.Value
		}
	}
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	c, err := tokens.Decode(raw, PurposeSession)
	if err != nil {
		return nil, err
	}
	return &model.Actor{ID: c.WhoIsIt, Group: c.Group}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
