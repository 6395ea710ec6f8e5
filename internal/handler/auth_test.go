package handler_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pairshot/internal/auth"
	"github.com/sakif/pairshot/internal/model"
)

func TestHandleAuthUser(t *testing.T) {
	api := newTestAPI(t)
	api.account(t, "ann", "ann@example.com", "secret-pw", model.GroupUser, true)

	t.Run("no matching account", func(t *testing.T) {
		rr := api.postJSON(t, "/api/cockpit/authUser", map[string]string{"user": "a@b.com", "password": "secret"}, "")

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		body := decode(t, rr)
		assert.NotEmpty(t, body["error"])
		assert.NotContains(t, body, "jwt")
	})

	t.Run("wrong password has the same body", func(t *testing.T) {
		unknown := api.postJSON(t, "/api/cockpit/authUser", map[string]string{"user": "a@b.com", "password": "secret"}, "")
		wrong := api.postJSON(t, "/api/cockpit/authUser", map[string]string{"user": "ann", "password": "nope"}, "")

		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, unknown.Body.String(), wrong.Body.String())
	})

	t.Run("login by email with a form", func(t *testing.T) {
		rr := api.postForm(t, "/api/cockpit/authUser", url.Values{"user": {"ann@example.com"}, "password": {"secret-pw"}})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode(t, rr)
		assert.NotEmpty(t, body["jwt"])
		user := body["user"].(map[string]any)
		assert.Equal(t, "ann", user["user"])
		assert.NotContains(t, user, "password")
	})

	t.Run("missing parameters", func(t *testing.T) {
		rr := api.postJSON(t, "/api/cockpit/authUser", map[string]string{"user": "ann"}, "")
		assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
		assert.Equal(t, "Missing user or password", decode(t, rr)["error"])
	})
}

func TestHandleIsLogged(t *testing.T) {
	api := newTestAPI(t)
	ann := api.account(t, "ann", "ann@example.com", "secret-pw", model.GroupUser, true)

	rr := api.postJSON(t, "/api/cockpit/isLogged", map[string]string{}, "")
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)

	rr = api.postJSON(t, "/api/cockpit/isLogged", map[string]string{"jwt": "garbage"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = api.postJSON(t, "/api/cockpit/isLogged", map[string]string{"jwt": api.token(t, ann, auth.PurposeSession)}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, decode(t, rr)["jwt"])
}

func TestHandleSaveUser(t *testing.T) {
	api := newTestAPI(t)

	t.Run("password required", func(t *testing.T) {
		rr := api.postJSON(t, "/api/cockpit/saveUser", map[string]any{
			"user": map[string]any{"user": "newbie", "email": "newbie@example.com"},
		}, "")

		assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
		assert.Equal(t, "User password required", decode(t, rr)["error"])
	})

	t.Run("sign-up", func(t *testing.T) {
		rr := api.postJSON(t, "/api/cockpit/saveUser", map[string]any{
			"user": map[string]any{"user": "newbie", "email": "newbie@example.com", "password": "pw-123456", "name": "New Bie"},
		}, "")

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode(t, rr)
		assert.Equal(t, false, body["active"])
		assert.Equal(t, model.GroupUser, body["group"])
		assert.NotContains(t, body, "password")
		assert.Equal(t, 1, api.mail.count(), "verification mail")
	})

	t.Run("missing payload", func(t *testing.T) {
		rr := api.postJSON(t, "/api/cockpit/saveUser", map[string]any{}, "")
		assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	})
}

func TestHandleVerifyEmail_AlreadyActive(t *testing.T) {
	api := newTestAPI(t)
	ann := api.account(t, "ann", "ann@example.com", "secret-pw", model.GroupUser, true)

	rr := api.postJSON(t, "/api/cockpit/verifyEmail", map[string]string{"jwt": api.token(t, ann, auth.PurposeVerify)}, "")

	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "Thank you, your account is already activated!", body["warning"])
	assert.NotContains(t, body, "error")
}

func TestHandleResetPassword(t *testing.T) {
	api := newTestAPI(t)
	api.account(t, "ann", "ann@example.com", "secret-pw", model.GroupUser, true)

	rr := api.postJSON(t, "/api/cockpit/resetPassword", map[string]string{"email": "ann@example.com"}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decode(t, rr)["success"])
	assert.Equal(t, 1, api.mail.count())

	rr = api.postJSON(t, "/api/cockpit/resetPassword", map[string]string{"email": "ghost@example.com"}, "")
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
}

func TestHandleListUsers(t *testing.T) {
	api := newTestAPI(t)
	admin := api.account(t, "root", "root@example.com", "secret-pw", model.GroupAdmin, true)
	user := api.account(t, "ann", "ann@example.com", "secret-pw", model.GroupUser, true)

	rr := api.get(t, "/api/cockpit/listUsers", api.token(t, user, auth.PurposeSession))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = api.get(t, "/api/cockpit/listUsers?filter=ANN", api.token(t, admin, auth.PurposeSession))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"user":"ann"`)
	assert.NotContains(t, rr.Body.String(), `"user":"root"`)
	assert.NotContains(t, rr.Body.String(), "password")
}

func TestHandleUploadPortfolio(t *testing.T) {
	api := newTestAPI(t)
	ann := api.account(t, "ann", "ann@example.com", "secret-pw", model.GroupPhotographer, true)
	photographer := api.save(t, model.PhotographersCollection, model.Document{"name": "Ann", "email": "ann@example.com", "name_slug": "ann", model.KeyAccount: ann.ID()})

	t.Run("anonymous", func(t *testing.T) {
		rr := api.postMultipart(t, "/api/cockpit/uploadPortfolio", map[string]string{"_id": photographer.ID()}, "a.png", pngBytes(t, 40, 20), "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		rr := api.postMultipart(t, "/api/cockpit/uploadPortfolio", map[string]string{"_id": photographer.ID()}, "notes.png", []byte("plain text, not a picture"), api.token(t, ann, auth.PurposeSession))
		assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	})

	t.Run("owner uploads", func(t *testing.T) {
		rr := api.postMultipart(t, "/api/cockpit/uploadPortfolio", map[string]string{"_id": photographer.ID()}, "beach day.png", pngBytes(t, 900, 450), api.token(t, ann, auth.PurposeSession))

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		uploads := model.Document(decode(t, rr)).Maps("uploads")
		require.Len(t, uploads, 1)
		assert.Contains(t, uploads[0].String("original"), "/storage/photographers/ann/")
		assert.Contains(t, uploads[0].String("original"), "_beach-day.png")
		width, _ := uploads[0].Int64("width")
		assert.EqualValues(t, 900, width)
		assert.Contains(t, uploads[0].String("thumb"), "/storage/photographers/ann/thumbs/")
	})

	t.Run("index must be a whole number", func(t *testing.T) {
		for _, index := range []any{"abc", 0.5, ""} {
			rr := api.postJSON(t, "/api/cockpit/removePortfolioImage", map[string]any{"_id": photographer.ID(), "index": index}, api.token(t, ann, auth.PurposeSession))
			assert.Equal(t, http.StatusPreconditionFailed, rr.Code, "index %v", index)
		}

		stored, err := api.db.FindOne(context.Background(), model.PhotographersCollection, map[string]any{model.KeyID: photographer.ID()})
		require.NoError(t, err)
		assert.Len(t, stored.Maps("uploads"), 1)
	})

	t.Run("remove it again", func(t *testing.T) {
		rr := api.postJSON(t, "/api/cockpit/removePortfolioImage", map[string]any{"_id": photographer.ID(), "index": 0}, api.token(t, ann, auth.PurposeSession))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Empty(t, model.Document(decode(t, rr)).Maps("uploads"))
	})
}
