package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pairshot/internal/model"
)

// echoActor records the actor the middleware put in the context.
func echoActor(got **model.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestOptionalAuth_TokenSources(t *testing.T) {
	ts := newTestTokenService(t)
	token, err := ts.Issue(Claims{WhoIsIt: "acc-1", Group: model.GroupPhotographer}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		build func(r *http.Request)
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }},
		{"lowercase bearer", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: token}) }},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=" + token }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *model.Actor
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.build(req)
			rec := httptest.NewRecorder()

			OptionalAuth(ts)(echoActor(&got)).ServeHTTP(rec, req)

			require.NotNil(t, got)
			assert.Equal(t, "acc-1", got.ID)
			assert.Equal(t, model.GroupPhotographer, got.Group)
		})
	}
}

func TestOptionalAuth_Anonymous(t *testing.T) {
	ts := newTestTokenService(t)
	reset, _ := ts.Issue(Claims{WhoIsIt: "acc-1", Purpose: PurposeReset}, time.Minute)

	for name, header := range map[string]string{
		"no token":      "",
		"garbage":       "Bearer nope",
		"reset purpose": "Bearer " + reset,
	} {
		t.Run(name, func(t *testing.T) {
			got := &model.Actor{ID: "sentinel"}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()

			OptionalAuth(ts)(echoActor(&got)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Nil(t, got)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Issue(Claims{WhoIsIt: "acc-1"}, time.Minute)
	expired, _ := ts.Issue(Claims{WhoIsIt: "acc-1"}, -time.Minute)

	t.Run("valid", func(t *testing.T) {
		var got *model.Actor
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		RequireAuth(ts)(echoActor(&got)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, "acc-1", got.ID)
	})

	t.Run("expired", func(t *testing.T) {
		var got *model.Actor
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		rec := httptest.NewRecorder()

		RequireAuth(ts)(echoActor(&got)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
		assert.Nil(t, got)
	})
}
