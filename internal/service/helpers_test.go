package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/auth"
	"github.com/sakif/pairshot/internal/authz"
	"github.com/sakif/pairshot/internal/imaging"
	"github.com/sakif/pairshot/internal/mailer"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
	"github.com/sakif/pairshot/internal/repository/sqlite"
	"github.com/sakif/pairshot/internal/upload"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeMailer records every message. Set err to simulate a delivery failure.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no mail sent")
	return f.sent[len(f.sent)-1]
}

// fakeImages pretends every file is an 800px wide picture.
type fakeImages struct {
	err error
}

func (f *fakeImages) Thumbnail(_ context.Context, opts imaging.Options) (*imaging.Descriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := "/storage/" + opts.DestDir + "/thumb_" + path.Base(opts.Src)
	return &imaging.Descriptor{Path: p, URL: "http://api.test" + p, Width: opts.Width, Height: opts.Height}, nil
}

func (f *fakeImages) Width(string) (int, error) {
	return 800, f.err
}

// =========================================================================
// FIXTURE
// =========================================================================

const testSecret = "test-secret-at-least-16-chars!!"

type fixture struct {
	db          *sqlite.DB
	deps        Deps
	mail        *fakeMailer
	images      *fakeImages
	files       *upload.Storage
	auth        *AuthService
	collections *CollectionsService
	now         time.Time
}

var testSettings = Settings{
	SessionTTL: 15 * time.Minute,
	ResetTTL:   time.Hour,
	VerifyTTL:  72 * time.Hour,
	PublicURL:  "https://app.test",
	APIHost:    "api.test",
	Edition:    "2026",
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy, err := authz.New(authz.Config{}, logger)
	require.NoError(t, err)

	files, err := upload.New(t.TempDir(), "/storage")
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		mail:   &fakeMailer{},
		images: &fakeImages{},
		files:  files,
		now:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
	f.deps = Deps{
		Store:       db,
		Collections: db,
		Tokens:      tokens,
		Passwords:   auth.NewPasswordService(4),
		Policy:      policy,
		Mailer:      f.mail,
		Templates:   mailer.NewTemplates(filepath.Join("..", "..", "templates", "mail")),
		Images:      f.images,
		Files:       files,
		Logger:      logger,
		Now:         func() time.Time { return f.now },
	}
	f.auth = NewAuthService(f.deps, testSettings)
	f.collections = NewCollectionsService(f.deps, testSettings)
	return f
}

// createAccount stores an account directly, bypassing SaveUser.
func (f *fixture) createAccount(t *testing.T, user, email, password, group string, active bool) *model.Account {
	t.Helper()
	hash, err := f.deps.Passwords.Hash(password)
	require.NoError(t, err)
	saved, err := f.db.Save(context.Background(), model.AccountsCollection, model.Document{
		"user":          user,
		"name":          strings.ToUpper(user[:1]) + user[1:],
		"email":         email,
		"password":      hash,
		"active":        active,
		"group":         group,
		"api_key":       "account-test",
		"i18n":          "en",
		"token_version": 0,
	})
	require.NoError(t, err)
	return model.AccountFromDocument(saved)
}

func (f *fixture) save(t *testing.T, collection string, doc model.Document) model.Document {
	t.Helper()
	saved, err := f.db.Save(context.Background(), collection, doc)
	require.NoError(t, err)
	return saved
}

func (f *fixture) find(t *testing.T, collection, id string) model.Document {
	t.Helper()
	doc, err := f.db.FindOne(context.Background(), collection, map[string]any{model.KeyID: id})
	require.NoError(t, err)
	return doc
}

func actorOf(a *model.Account) *model.Actor {
	return &model.Actor{ID: a.ID, Group: a.Group}
}

func queryAll() query.Options {
	return query.Options{}
}

// appMessage returns the user-facing message of an apperror.
func appMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ""
}

func picture(name string) *UploadedFile {
	return &UploadedFile{Name: name, Content: strings.NewReader("not really a jpeg")}
}
