package handler_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pairshot/internal/auth"
	"github.com/sakif/pairshot/internal/authz"
	"github.com/sakif/pairshot/internal/handler"
	"github.com/sakif/pairshot/internal/imaging"
	"github.com/sakif/pairshot/internal/mailer"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/repository/sqlite"
	"github.com/sakif/pairshot/internal/service"
	"github.com/sakif/pairshot/internal/upload"
)

const testSecret = "handler-test-secret-0123456789"

// recordingMailer keeps every message instead of sending it.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// testAPI is the full handler stack over an in-memory database and a
// temporary uploads directory.
type testAPI struct {
	router    chi.Router
	db        *sqlite.DB
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mail      *recordingMailer
	root      string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	policy, err := authz.New(authz.Config{}, logger)
	require.NoError(t, err)

	root := t.TempDir()
	files, err := upload.New(root, "/storage")
	require.NoError(t, err)
	images, err := imaging.New(imaging.Config{Root: root, PublicPrefix: "/storage", BaseURL: "http://api.test"})
	require.NoError(t, err)

	api := &testAPI{
		db:        db,
		tokens:    tokens,
		passwords: auth.NewPasswordService(4),
		mail:      &recordingMailer{},
		root:      root,
	}

	deps := service.Deps{
		Store:       db,
		Collections: db,
		Tokens:      tokens,
		Passwords:   api.passwords,
		Policy:      policy,
		Mailer:      api.mail,
		Templates:   mailer.NewTemplates(filepath.Join("..", "..", "templates", "mail")),
		Images:      images,
		Files:       files,
		Logger:      logger,
	}
	settings := service.Settings{
		SessionTTL: 15 * time.Minute,
		ResetTTL:   time.Hour,
		VerifyTTL:  72 * time.Hour,
		PublicURL:  "https://app.test",
		APIHost:    "api.test",
		Edition:    "2026",
	}

	const maxBody = 8 << 20
	authH := handler.NewAuthHandler(service.NewAuthService(deps, settings), maxBody, logger)
	collH := handler.NewCollectionsHandler(service.NewCollectionsService(deps, settings), maxBody, logger)
	cockpitH := handler.NewCockpitHandler(service.NewCockpitService(deps), maxBody, logger)

	r := chi.NewRouter()
	r.Use(auth.OptionalAuth(tokens))
	r.Route("/api/cockpit", func(r chi.Router) {
		r.Post("/authUser", authH.HandleAuthUser)
		r.Post("/isLogged", authH.HandleIsLogged)
		r.Post("/saveUser", authH.HandleSaveUser)
		r.Post("/verifyEmail", authH.HandleVerifyEmail)
		r.Post("/resetPassword", authH.HandleResetPassword)
		r.Post("/verifyLostPassLink", authH.HandleVerifyLostPassLink)
		r.Post("/savePassword", authH.HandleSavePassword)
		r.Get("/listUsers", authH.HandleListUsers)
		r.Get("/image", cockpitH.HandleImage)
		r.Get("/assets", cockpitH.HandleAssets)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Post("/uploadPortfolio", authH.HandleUploadPortfolio)
			r.Post("/removePortfolioImage", authH.HandleRemovePortfolioImage)
		})
	})
	r.Route("/api/collections", func(r chi.Router) {
		r.Get("/get/{collection}", collH.HandleGet)
		r.Post("/get/{collection}", collH.HandleGet)
		r.Post("/save/{collection}", collH.HandleSave)
		r.Post("/remove/{collection}", collH.HandleRemove)
		r.Post("/createCollection", collH.HandleCreateCollection)
		r.Post("/updateCollection/{name}", collH.HandleUpdateCollection)
		r.Get("/collection/{name}", collH.HandleCollection)
		r.Get("/listCollections", collH.HandleListCollections)
		r.Post("/upload", collH.HandleUpload)
	})
	api.router = r
	return api
}

// do sends req through the router.
func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) postJSON(t *testing.T, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.do(req)
}

func (a *testAPI) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req)
}

func (a *testAPI) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.do(req)
}

// postMultipart sends fields plus one file under "file".
func (a *testAPI) postMultipart(t *testing.T, path string, fields map[string]string, filename string, content []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if content != nil {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.do(req)
}

// account stores an account directly.
func (a *testAPI) account(t *testing.T, user, email, password, group string, active bool) model.Document {
	t.Helper()
	hash, err := a.passwords.Hash(password)
	require.NoError(t, err)
	doc, err := a.db.Save(context.Background(), model.AccountsCollection, model.Document{
		"user": user, "name": user, "email": email, "password": hash,
		"active": active, "group": group, "i18n": "en", "token_version": 0,
	})
	require.NoError(t, err)
	return doc
}

func (a *testAPI) token(t *testing.T, account model.Document, purpose auth.Purpose) string {
	t.Helper()
	tok, err := a.tokens.Issue(auth.Claims{
		WhoIsIt: account.ID(),
		Group:   account.String("group"),
		Purpose: purpose,
	}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) save(t *testing.T, collection string, doc model.Document) model.Document {
	t.Helper()
	saved, err := a.db.Save(context.Background(), collection, doc)
	require.NoError(t, err)
	return saved
}

// decode reads a JSON response body into a generic value.
func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

// pngBytes encodes a w x h solid image.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
