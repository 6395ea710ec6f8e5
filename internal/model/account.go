package model

// AccountsCollection is where accounts live in the document store.
const AccountsCollection = "cockpit/accounts"

// Account groups.
const (
	GroupAdmin        = "admin"
	GroupPhotographer = "photographer"
	GroupUser         = "user"
)

// Account represents a registered user account.
//
// PASSWORD NEVER LEAVES THE SERVER:
// PasswordHash has the `json:"-"` tag, so no response can ever serialize it.
// The store keeps it under the "password" key; AccountFromDocument is the
// only place that reads it back.
type Account struct {
	ID           string `json:"_id"`
	User         string `json:"user"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Active       bool   `json:"active"`
	Group        string `json:"group"`
	APIKey       string `json:"api_key,omitempty"`
	I18n         string `json:"i18n"`
	// TokenVersion is embedded in reset links; bumping it invalidates every
	// link issued before.
	TokenVersion int64 `json:"-"`
	Created      int64 `json:"_created"`
	Modified     int64 `json:"_modified"`
}

// AccountFromDocument maps a stored document onto an Account.
func AccountFromDocument(d Document) *Account {
	if d == nil {
		return nil
	}
	a := &Account{
		ID:           d.ID(),
		User:         d.String("user"),
		Name:         d.String("name"),
		Email:        d.String("email"),
		PasswordHash: d.String("password"),
		Active:       d.Bool("active"),
		Group:        d.String("group"),
		APIKey:       d.String("api_key"),
		I18n:         d.String("i18n"),
	}
	a.TokenVersion, _ = d.Int64("token_version")
	a.Created, _ = d.Int64(KeyCreated)
	a.Modified, _ = d.Int64(KeyModified)
	return a
}

// Sanitized returns a copy safe to hand to a client that must not see the
// API key either (password reset pages).
func (a *Account) Sanitized() *Account {
	c := *a
	c.APIKey = ""
	return &c
}
