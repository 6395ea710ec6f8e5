package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/auth"
	"github.com/sakif/pairshot/internal/authz"
	"github.com/sakif/pairshot/internal/mailer"
	"github.com/sakif/pairshot/internal/metrics"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
)

// Messages the web client shows verbatim.
const (
	msgBadCredentials = "The email address or password you entered is incorrect!<br/>Or maybe your account is not verified yet."
	msgResetExpired   = "Sorry, this link to reset your password has expired.<br/>Please, send a new request to reset."
	msgVerifyExpired  = "Sorry, this link to activate your account has expired."
	msgAlreadyActive  = "Thank you, your account is already activated!"
	msgUnknownEmail   = "This email is not registered in our system!<br/>Please try again!"
	msgDuplicateUser  = "Sorry, this email already exists!"
	msgVerifyNotSent  = "Your account has been created but we could not send the activation email. Please contact us."
	msgResetNotSent   = "Sorry, we could not send the email to reset your password. Please try again later."
	msgEmailLocked    = "Please contact us to change your email address."
)

// Mail subjects.
const (
	subjectVerify = "Activating your account"
	subjectReset  = "Reset your password"
)

// Defaults applied to new accounts.
const (
	defaultGroup = model.GroupUser
	defaultI18n  = "en"
)

// portfolioThumbSize bounds portfolio thumbnails on both sides.
const portfolioThumbSize = 300

// AuthService implements the account endpoints: login, session refresh,
// sign-up, email verification, password reset, listing and portfolios.
type AuthService struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger
}

func NewAuthService(deps Deps, settings Settings) *AuthService {
	return &AuthService{deps: deps, settings: settings, logger: deps.Logger}
}

// Session is the response of a successful login or refresh.
type Session struct {
	User *model.Account `json:"user"`
	JWT  string         `json:"jwt"`
}

// =========================================================================
// LOGIN AND SESSIONS
// =========================================================================

// Authenticate checks credentials and issues a session token. login may be
// the account's user name or its email. Unknown, inactive and wrong-password
// accounts all produce the same Unauthorized error.
func (s *AuthService) Authenticate(ctx context.Context, login, password string) (*Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperror.ValidationFailed("user", "Missing user or password")
	}

	doc, err := s.deps.Store.FindOne(ctx, model.AccountsCollection, map[string]any{
		"$or":    []any{map[string]any{"user": login}, map[string]any{"email": login}},
		"active": true,
	})
	if err != nil {
		return nil, storeError("loading account", err)
	}

	acct := model.AccountFromDocument(doc)
	if acct == nil {
		metrics.RecordLogin(false)
		return nil, apperror.Unauthorized(msgBadCredentials)
	}
	if err := s.deps.Passwords.Verify(acct.PasswordHash, password); err != nil {
		metrics.RecordLogin(false)
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	metrics.RecordLogin(true)

	if s.deps.Passwords.NeedsRehash(acct.PasswordHash) {
		s.rehash(ctx, doc, password)
	}

	s.logger.Info("account authenticated", slog.String("id", acct.ID), slog.String("user", acct.User))
	return s.session(acct)
}

// rehash upgrades a stored hash to the configured bcrypt cost. The login
// already succeeded, so failures are only logged.
func (s *AuthService) rehash(ctx context.Context, doc model.Document, password string) {
	hash, err := s.deps.Passwords.Hash(password)
	if err == nil {
		doc = doc.Clone()
		doc["password"] = hash
		_, err = s.deps.Store.Save(ctx, model.AccountsCollection, doc)
	}
	if err != nil {
		s.logger.Warn("password rehash failed", slog.String("id", doc.ID()), slog.String("error", err.Error()))
	}
}

// IsLogged validates a session token and returns the account with a fresh
// token, so an active client keeps sliding its session forward.
func (s *AuthService) IsLogged(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperror.ValidationFailed("jwt", "Missing JWT")
	}

	claims, err := s.deps.Tokens.Decode(token, auth.PurposeSession)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.Unauthorized("jwt expired")
		}
		return nil, apperror.Unauthorized(msgInvalidToken)
	}

	doc, acct, err := s.loadAccount(ctx, claims.WhoIsIt)
	if err != nil {
		return nil, err
	}
	if doc == nil || !acct.Active {
		return nil, apperror.Unauthorized(msgInvalidToken)
	}
	return s.session(acct)
}

func (s *AuthService) session(acct *model.Account) (*Session, error) {
	token, err := s.deps.Tokens.Issue(auth.Claims{
		WhoIsIt: acct.ID,
		Group:   acct.Group,
		Ver:     acct.TokenVersion,
	}, s.settings.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing session for %s: %w", acct.ID, err)
	}
	return &Session{User: acct, JWT: token}, nil
}

// =========================================================================
// ACCOUNTS
// =========================================================================

// SaveUser creates or updates an account.
//
// Anonymous callers may only create (sign-up). A logged-in caller may update
// their own account; creating accounts or touching other ones needs the
// admin group. Only admins can choose the group.
//
// A new account starts inactive, gets a photographers entry and a
// verification mail. If that mail fails the account still exists and the
// caller receives an apperror.Warning.
func (s *AuthService) SaveUser(ctx context.Context, actor *model.Actor, payload model.Document) (*model.Account, error) {
	data := payload.Clone()
	if data == nil {
		data = model.Document{}
	}
	id := data.ID()

	switch {
	case actor == nil && id != "":
		return nil, apperror.Unauthorized("Unauthorized")
	case actor != nil && id == "" && !actor.IsAdmin():
		return nil, apperror.Unauthorized("Unauthorized")
	case actor != nil && id != "" && id != actor.ID && !actor.IsAdmin():
		return nil, apperror.Unauthorized("Unauthorized")
	}

	// Bookkeeping the client never controls.
	delete(data, "token_version")
	delete(data, "api_key")
	delete(data, model.KeyCreated)
	delete(data, model.KeyModified)
	delete(data, model.KeyRev)

	if pw, ok := data["password"]; ok {
		plain, _ := pw.(string)
		if plain == "" {
			delete(data, "password")
		} else {
			if len(plain) > 72 {
				return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
			}
			hash, err := s.deps.Passwords.Hash(plain)
			if err != nil {
				return nil, fmt.Errorf("hashing password: %w", err)
			}
			data["password"] = hash
		}
	}

	if id == "" {
		return s.createAccount(ctx, actor, data)
	}
	return s.updateAccount(ctx, actor, id, data)
}

func (s *AuthService) createAccount(ctx context.Context, actor *model.Actor, data model.Document) (*model.Account, error) {
	if data.String("password") == "" {
		return nil, apperror.ValidationFailed("password", "User password required")
	}
	user := strings.TrimSpace(data.String("user"))
	if user == "" {
		return nil, apperror.ValidationFailed("user", "User nickname required")
	}
	data["user"] = user

	existing, err := s.deps.Store.FindOne(ctx, model.AccountsCollection, map[string]any{"user": user})
	if err != nil {
		return nil, storeError("checking user", err)
	}
	if existing != nil {
		return nil, apperror.ConflictMessage(msgDuplicateUser)
	}

	setDefault(data, "name", "")
	setDefault(data, "email", "")
	setDefault(data, "i18n", defaultI18n)
	if !actor.IsAdmin() || data.String("group") == "" {
		data["group"] = defaultGroup
	}
	if !actor.IsAdmin() || !data.Has("active") {
		data["active"] = false
	} else {
		data["active"] = data.Bool("active")
	}
	data["api_key"] = "account-" + xid.New().String()
	data["token_version"] = int64(0)

	saved, err := s.deps.Store.Save(ctx, model.AccountsCollection, data)
	if err != nil {
		s.logger.Error("failed to create account", slog.String("user", user), slog.String("error", err.Error()))
		return nil, storeError("creating account", err)
	}
	acct := model.AccountFromDocument(saved)
	s.logger.Info("account created", slog.String("id", acct.ID), slog.String("user", acct.User))

	if _, err := s.deps.Store.Save(ctx, model.PhotographersCollection, model.Document{
		"name":           acct.Name,
		"email":          acct.Email,
		"edition":        s.settings.Edition,
		"name_slug":      Slugify(acct.Name),
		model.KeyAccount: acct.ID,
	}); err != nil {
		s.logger.Error("failed to create photographer", slog.String("user", user), slog.String("error", err.Error()))
		// Without its photographer the account is unusable; take it back
		// so the same user name can sign up again.
		if _, rmErr := s.deps.Store.Remove(ctx, model.AccountsCollection, map[string]any{model.KeyID: acct.ID}); rmErr != nil {
			s.logger.Error("failed to roll back account", slog.String("id", acct.ID), slog.String("error", rmErr.Error()))
		}
		return nil, storeError("creating photographer", err)
	}

	if acct.Active {
		return acct, nil
	}

	code, err := s.deps.Tokens.Issue(auth.Claims{
		WhoIsIt: acct.ID,
		Purpose: auth.PurposeVerify,
	}, s.settings.VerifyTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing verify token: %w", err)
	}
	if err := s.deps.sendMail(ctx, mailer.TemplateVerify, acct.Email, subjectVerify, mailer.Vars{
		"server": s.settings.PublicURL,
		"name":   acct.Name,
		"code":   code,
	}); err != nil {
		return acct, apperror.Warning(msgVerifyNotSent)
	}
	return acct, nil
}

func (s *AuthService) updateAccount(ctx context.Context, actor *model.Actor, id string, data model.Document) (*model.Account, error) {
	current, currentAcct, err := s.loadAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperror.NotFoundMessage(msgAccountProblem)
	}

	if user, ok := data["user"].(string); ok {
		user = strings.TrimSpace(user)
		if user == "" {
			return nil, apperror.ValidationFailed("user", "User nickname required")
		}
		if user != currentAcct.User {
			taken, err := s.deps.Store.FindOne(ctx, model.AccountsCollection, map[string]any{"user": user})
			if err != nil {
				return nil, storeError("checking user", err)
			}
			if taken != nil {
				return nil, apperror.ConflictMessage(msgDuplicateUser)
			}
		}
		data["user"] = user
	}
	if !actor.IsAdmin() {
		delete(data, "group")
		delete(data, "active")
		if email, ok := data["email"].(string); ok && !strings.EqualFold(strings.TrimSpace(email), currentAcct.Email) {
			return nil, apperror.ValidationFailed("email", msgEmailLocked)
		}
	}

	merged := current.Clone()
	for k, v := range data {
		merged[k] = v
	}

	saved, err := s.deps.Store.Save(ctx, model.AccountsCollection, merged)
	if err != nil {
		s.logger.Error("failed to update account", slog.String("id", id), slog.String("error", err.Error()))
		return nil, storeError("updating account", err)
	}
	s.logger.Info("account updated", slog.String("id", id))
	return model.AccountFromDocument(saved), nil
}

// VerifyEmail activates the account named by a verification token. Using a
// link twice is harmless: the second time returns a warning and writes
// nothing.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*model.Account, error) {
	if token == "" {
		return nil, apperror.ValidationFailed("jwt", "Missing JWT")
	}
	claims, err := s.deps.Tokens.Decode(token, auth.PurposeVerify)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.Unauthorized(msgVerifyExpired)
		}
		return nil, apperror.Unauthorized(msgInvalidToken)
	}

	doc, acct, err := s.loadAccount(ctx, claims.WhoIsIt)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperror.NotFoundMessage(msgAccountProblem)
	}
	if acct.Active {
		return nil, apperror.Warning(msgAlreadyActive)
	}

	doc["active"] = true
	saved, err := s.deps.Store.Save(ctx, model.AccountsCollection, doc)
	if err != nil {
		return nil, storeError("activating account", err)
	}
	s.logger.Info("account verified", slog.String("id", acct.ID))
	return model.AccountFromDocument(saved), nil
}

// =========================================================================
// PASSWORD RESET
// =========================================================================

// ResetPassword mails a single-use reset link to the account owning email.
func (s *AuthService) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperror.ValidationFailed("email", "Missing email")
	}

	doc, err := s.deps.Store.FindOne(ctx, model.AccountsCollection, map[string]any{"email": email})
	if err != nil {
		return storeError("loading account", err)
	}
	acct := model.AccountFromDocument(doc)
	if acct == nil {
		return apperror.NotFoundMessage(msgUnknownEmail)
	}

	code, err := s.deps.Tokens.Issue(auth.Claims{
		WhoIsIt: acct.ID,
		Purpose: auth.PurposeReset,
		Ver:     acct.TokenVersion,
	}, s.settings.ResetTTL)
	if err != nil {
		return fmt.Errorf("issuing reset token: %w", err)
	}

	if err := s.deps.sendMail(ctx, mailer.TemplateResetPassword, acct.Email, subjectReset, mailer.Vars{
		"server": s.settings.PublicURL,
		"name":   acct.Name,
		"code":   code,
	}); err != nil {
		return apperror.Warning(msgResetNotSent)
	}
	s.logger.Info("password reset requested", slog.String("id", acct.ID))
	return nil
}

// VerifyLostPassLink checks a reset link before the client shows the new
// password form.
func (s *AuthService) VerifyLostPassLink(ctx context.Context, code string) (*model.Account, error) {
	if code == "" {
		return nil, apperror.ValidationFailed("jwt", "Missing JWT")
	}
	_, acct, err := s.resetAccount(ctx, code)
	if err != nil {
		return nil, err
	}
	return acct.Sanitized(), nil
}

// SavePassword consumes a reset link. The account's token_version moves
// forward, so the same link (and every older one) stops working. Two
// concurrent uses race on the revision; only one wins.
func (s *AuthService) SavePassword(ctx context.Context, password, code string) (*model.Account, error) {
	if password == "" || code == "" {
		return nil, apperror.ValidationFailed("password", "Missing parameters")
	}
	if len(password) > 72 {
		return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
	}

	doc, acct, err := s.resetAccount(ctx, code)
	if err != nil {
		return nil, err
	}

	hash, err := s.deps.Passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	doc["password"] = hash
	doc["token_version"] = acct.TokenVersion + 1

	saved, err := s.deps.Store.SaveIfCurrent(ctx, model.AccountsCollection, doc)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Unauthorized(msgResetExpired)
		}
		return nil, storeError("saving password", err)
	}
	s.logger.Info("password changed", slog.String("id", acct.ID))
	return model.AccountFromDocument(saved).Sanitized(), nil
}

// resetAccount decodes a reset token and checks it against the account's
// current token_version.
func (s *AuthService) resetAccount(ctx context.Context, code string) (model.Document, *model.Account, error) {
	claims, err := s.deps.Tokens.Decode(code, auth.PurposeReset)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, nil, apperror.Unauthorized(msgResetExpired)
		}
		return nil, nil, apperror.Unauthorized(msgInvalidToken)
	}

	doc, acct, err := s.loadAccount(ctx, claims.WhoIsIt)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, apperror.NotFoundMessage(msgAccountProblem)
	}
	if claims.Ver != acct.TokenVersion {
		return nil, nil, apperror.Unauthorized(msgResetExpired)
	}
	return doc, acct, nil
}

// =========================================================================
// LISTING
// =========================================================================

// ListUsers returns accounts sorted by user name. A string filter matches
// name, user or email case-insensitively; a map filter is used as-is.
func (s *AuthService) ListUsers(ctx context.Context, actor *model.Actor, filter any) ([]*model.Account, error) {
	if !s.deps.Policy.Allows(actor, authz.ResourceAccounts, authz.ActionList) {
		return nil, apperror.Unauthorized("Unauthorized")
	}

	var f map[string]any
	switch v := filter.(type) {
	case nil:
	case string:
		if v = strings.TrimSpace(v); v != "" {
			re := map[string]any{"$regex": regexp.QuoteMeta(v), "$options": "i"}
			f = map[string]any{"$or": []any{
				map[string]any{"name": re},
				map[string]any{"user": re},
				map[string]any{"email": re},
			}}
		}
	case map[string]any:
		f = v
	case model.Document:
		f = v
	default:
		return nil, apperror.ValidationFailed("filter", "Invalid filter")
	}

	docs, err := s.deps.Store.Find(ctx, model.AccountsCollection, query.Options{
		Filter: f,
		Sort:   []query.SortKey{{Field: "user"}},
	})
	if err != nil {
		return nil, storeError("listing accounts", err)
	}

	out := make([]*model.Account, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.AccountFromDocument(d))
	}
	return out, nil
}

// =========================================================================
// PORTFOLIO
// =========================================================================

// UploadPortfolio adds a picture to a photographer's portfolio.
func (s *AuthService) UploadPortfolio(ctx context.Context, actor *model.Actor, photographerID string, file *UploadedFile) (model.Document, error) {
	photographer, err := s.ownedPhotographer(ctx, actor, photographerID)
	if err != nil {
		return nil, err
	}
	if file == nil || file.Content == nil {
		return nil, apperror.ValidationFailed("file", "Your request to upload is not valid")
	}

	uploads := photographer.Slice("uploads")
	if len(uploads) >= model.MaxPortfolioUploads {
		return nil, apperror.ValidationFailed("file",
			fmt.Sprintf("Sorry, your portfolio is full (%d pictures maximum)", model.MaxPortfolioUploads))
	}

	dir := "photographers/" + photographerSlug(photographer)
	desc, err := s.deps.storeImage(ctx, dir, dir+"/thumbs", file, portfolioThumbSize)
	metrics.RecordUpload("portfolio", err)
	if err != nil {
		return nil, err
	}

	photographer["uploads"] = append(uploads, model.Upload{
		Original: desc.original,
		Thumb:    desc.thumb,
		Width:    desc.width,
	}.Document())

	saved, err := s.deps.Store.SaveIfCurrent(ctx, model.PhotographersCollection, photographer)
	if err != nil {
		s.deps.removeFiles(desc.original, desc.thumb)
		return nil, storeError("saving portfolio", err)
	}
	s.logger.Info("portfolio picture added",
		slog.String("photographer", photographerID),
		slog.String("original", desc.original),
	)
	return saved, nil
}

// RemovePortfolioImage drops the upload at index and deletes its files.
func (s *AuthService) RemovePortfolioImage(ctx context.Context, actor *model.Actor, photographerID string, index int) (model.Document, error) {
	photographer, err := s.ownedPhotographer(ctx, actor, photographerID)
	if err != nil {
		return nil, err
	}

	uploads := photographer.Slice("uploads")
	if index < 0 || index >= len(uploads) {
		return nil, apperror.ValidationFailed("index", "Picture not found")
	}
	removed, _ := uploads[index].(map[string]any)

	kept := make([]any, 0, len(uploads)-1)
	kept = append(kept, uploads[:index]...)
	kept = append(kept, uploads[index+1:]...)
	photographer["uploads"] = kept

	saved, err := s.deps.Store.SaveIfCurrent(ctx, model.PhotographersCollection, photographer)
	if err != nil {
		return nil, storeError("saving portfolio", err)
	}

	if removed != nil {
		up := model.Document(removed)
		s.deps.removeFiles(up.String("original"), up.String("thumb"))
	}
	s.logger.Info("portfolio picture removed", slog.String("photographer", photographerID), slog.Int("index", index))
	return saved, nil
}

func (s *AuthService) ownedPhotographer(ctx context.Context, actor *model.Actor, id string) (model.Document, error) {
	if actor == nil {
		return nil, apperror.Unauthorized("Unauthorized")
	}
	if id == "" {
		return nil, apperror.ValidationFailed("_id", "Missing id")
	}

	photographer, err := s.deps.Store.FindOne(ctx, model.PhotographersCollection, map[string]any{model.KeyID: id})
	if err != nil {
		return nil, storeError("loading photographer", err)
	}
	if photographer == nil {
		return nil, apperror.NotFoundMessage("Sorry, we can't find your portfolio.")
	}

	if !s.deps.ownsPhotographer(actor, photographer) {
		return nil, apperror.Unauthorized("Unauthorized")
	}
	return photographer, nil
}

// =========================================================================
// HELPERS
// =========================================================================

// loadAccount returns (nil, nil, nil) when the account does not exist.
func (s *AuthService) loadAccount(ctx context.Context, id string) (model.Document, *model.Account, error) {
	if id == "" {
		return nil, nil, nil
	}
	doc, err := s.deps.Store.FindOne(ctx, model.AccountsCollection, map[string]any{model.KeyID: id})
	if err != nil {
		return nil, nil, storeError("loading account", err)
	}
	return doc, model.AccountFromDocument(doc), nil
}

func setDefault(d model.Document, key string, value any) {
	if _, ok := d[key]; !ok {
		d[key] = value
	}
}

func photographerSlug(d model.Document) string {
	if slug := Slugify(d.String("name_slug")); slug != "" {
		return slug
	}
	if slug := Slugify(d.String("name")); slug != "" {
		return slug
	}
	return d.ID()
}
