// Package service contains the business rules of the API.
//
// THE THREE LAYERS:
//
//	Handler (HTTP)    -> reads params, writes JSON, maps errors to status codes
//	Service (rules)   -> validates, checks capabilities, orchestrates
//	Repository (data) -> documents and collection definitions
//
// Services never see an *http.Request. They receive plain values plus the
// calling *model.Actor (nil for anonymous callers) and return either a value
// or an apperror. Everything they talk to arrives through Deps, as an
// interface where tests need a fake (mail, images, files).
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/auth"
	"github.com/sakif/pairshot/internal/imaging"
	"github.com/sakif/pairshot/internal/mailer"
	"github.com/sakif/pairshot/internal/metrics"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
	"github.com/sakif/pairshot/internal/repository"
	"github.com/sakif/pairshot/internal/upload"
)

// Authorizer answers capability questions. *authz.Policy implements it.
type Authorizer interface {
	Allows(actor *model.Actor, resource, action string) bool
	SetCollectionACL(collection string, acl map[string]map[string]bool) error
}

// ImageService produces derivatives. *imaging.Thumbnailer implements it.
type ImageService interface {
	Thumbnail(ctx context.Context, opts imaging.Options) (*imaging.Descriptor, error)
	Width(path string) (int, error)
}

// FileStore keeps uploaded files. *upload.Storage implements it.
type FileStore interface {
	Save(dir, name string, r io.Reader) (*upload.File, error)
	Remove(path string) error
}

// UploadedFile is one file part of a request.
type UploadedFile struct {
	Name    string
	Content io.Reader
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Store       repository.DocumentStore
	Collections repository.CollectionRepository
	Tokens      *auth.TokenService
	Passwords   *auth.PasswordService
	Policy      Authorizer
	Mailer      mailer.Mailer
	Templates   *mailer.Templates
	Images      ImageService
	Files       FileStore
	Logger      *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Settings are the deployment values the rules depend on.
type Settings struct {
	SessionTTL time.Duration
	ResetTTL   time.Duration
	VerifyTTL  time.Duration
	// PublicURL fills {{server}} in mails.
	PublicURL string
	// APIHost prefixes image links in mails (without scheme).
	APIHost string
	// Edition is stamped on photographers created at sign-up.
	Edition string
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Mail messages shown to users.
const (
	msgAccountProblem = "Sorry, there is a problem with your account. Please contact us."
	msgInvalidToken   = "Invalid token"
)

// sendMail renders a template pair and hands it to the mailer.
func (d *Deps) sendMail(ctx context.Context, template, to, subject string, vars mailer.Vars) error {
	msg, err := d.Templates.Compose(template, to, subject, vars)
	if err == nil {
		err = d.Mailer.Send(ctx, msg)
	}
	metrics.RecordMail(template, err)
	if err != nil {
		d.Logger.Error("mail not sent",
			slog.String("template", template),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("sending %s mail: %w", template, err)
	}
	return nil
}

// storeError turns filter errors into validation errors and wraps the rest.
func storeError(op string, err error) error {
	if errors.Is(err, query.ErrUnsupported) {
		return apperror.ValidationFailed("filter", err.Error())
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	slugUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)
	slugDashes = regexp.MustCompile(`-{2,}`)
)

// Slugify lowercases s, turns runs of other characters into single dashes
// and trims dashes at both ends: "Ann & Bob" -> "ann-bob".
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugUnsafe.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ownsPhotographer reports whether actor may act for the photographer entry:
// admins always, others only when the entry was created for their account.
func (d *Deps) ownsPhotographer(actor *model.Actor, photographer model.Document) bool {
	if actor.IsAdmin() {
		return true
	}
	if actor == nil || actor.ID == "" {
		return false
	}
	return photographer.String(model.KeyAccount) == actor.ID
}
