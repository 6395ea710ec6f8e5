package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/auth"
	"github.com/sakif/pairshot/internal/service"
)

// AuthHandler serves the account endpoints under /api/cockpit.
//
// HANDLER RESPONSIBILITIES:
//   - HandleAuthUser, HandleIsLogged        → login and session refresh
//   - HandleSaveUser, HandleVerifyEmail     → sign-up and activation
//   - HandleResetPassword, HandleVerifyLostPassLink, HandleSavePassword
//     → the lost password flow
//   - HandleListUsers                       → account directory
//   - HandleUploadPortfolio, HandleRemovePortfolioImage → portfolio pictures
//
// The caller, when there is one, was put in the request context by
// auth.OptionalAuth or auth.RequireAuth.
type AuthHandler struct {
	accounts *service.AuthService
	maxBody  int64
	logger   *slog.Logger
}

func NewAuthHandler(accounts *service.AuthService, maxBody int64, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, maxBody: maxBody, logger: logger}
}

// HandleAuthUser logs in with a user name or email and a password.
//
// HTTP: POST /api/cockpit/authUser
// REQUEST: user, password
// RESPONSE: {"user": {...}, "jwt": "..."}
func (h *AuthHandler) HandleAuthUser(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	password, _ := p.get("password").(string)
	session, err := h.accounts.Authenticate(r.Context(), p.String("user"), password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// HandleIsLogged checks a session token and hands back a fresh one.
//
// HTTP: POST /api/cockpit/isLogged
// REQUEST: jwt
func (h *AuthHandler) HandleIsLogged(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := h.accounts.IsLogged(r.Context(), p.String("jwt"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// HandleSaveUser creates an account (sign-up) or updates one.
//
// HTTP: POST /api/cockpit/saveUser
// REQUEST: user = {user, email, password, name, ...} (+ _id to update)
func (h *AuthHandler) HandleSaveUser(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	data := p.Document("user")
	if data == nil {
		writeError(w, apperror.ValidationFailed("user", "Missing user data"))
		return
	}

	account, err := h.accounts.SaveUser(r.Context(), auth.ActorFromContext(r.Context()), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleVerifyEmail activates the account named by a verification token.
//
// HTTP: POST /api/cockpit/verifyEmail
// REQUEST: jwt
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accounts.VerifyEmail(r.Context(), p.String("jwt"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleResetPassword mails a password reset link.
//
// HTTP: POST /api/cockpit/resetPassword
// REQUEST: email
// RESPONSE: {"success": true}
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), p.String("email")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleVerifyLostPassLink checks a reset code before the client shows the
// new password form.
//
// HTTP: POST /api/cockpit/verifyLostPassLink
// REQUEST: code
func (h *AuthHandler) HandleVerifyLostPassLink(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accounts.VerifyLostPassLink(r.Context(), p.String("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleSavePassword sets a new password with a reset code.
//
// HTTP: POST /api/cockpit/savePassword
// REQUEST: password, jwt
func (h *AuthHandler) HandleSavePassword(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	password, _ := p.get("password").(string)
	account, err := h.accounts.SavePassword(r.Context(), password, p.String("jwt"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleListUsers lists accounts, optionally filtered.
//
// HTTP: GET|POST /api/cockpit/listUsers
// REQUEST: filter (a search string or a filter object)
func (h *AuthHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	var filter any
	if obj := p.Object("filter"); obj != nil {
		filter = obj
	} else if s := p.String("filter"); s != "" {
		filter = s
	}

	accounts, err := h.accounts.ListUsers(r.Context(), auth.ActorFromContext(r.Context()), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// HandleUploadPortfolio adds a picture to a photographer's portfolio.
//
// HTTP: POST /api/cockpit/uploadPortfolio (multipart)
// Auth: Required
// REQUEST: _id (photographer), file
func (h *AuthHandler) HandleUploadPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	file, closeFile, err := p.openUpload("file")
	if err != nil {
		writeError(w, err)
		return
	}
	defer closeFile()

	photographer, err := h.accounts.UploadPortfolio(r.Context(), auth.ActorFromContext(r.Context()), p.String("_id"), file)
	if err != nil {
		h.logger.Warn("portfolio upload refused",
			slog.String("photographer", p.String("_id")),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, photographer)
}

// HandleRemovePortfolioImage deletes one portfolio picture.
//
// HTTP: POST /api/cockpit/removePortfolioImage
// Auth: Required
// REQUEST: _id (photographer), index
func (h *AuthHandler) HandleRemovePortfolioImage(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}
	if v := p.get("index"); v == nil || v == "" {
		writeError(w, apperror.ValidationFailed("index", "Missing index"))
		return
	}
	index, err := p.Int("index")
	if err != nil {
		writeError(w, err)
		return
	}

	photographer, err := h.accounts.RemovePortfolioImage(r.Context(), auth.ActorFromContext(r.Context()), p.String("_id"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, photographer)
}
