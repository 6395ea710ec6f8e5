package model

// Actor is the authenticated caller of a request, as recovered from a
// session token. A nil *Actor means the request is anonymous.
type Actor struct {
	ID    string
	Group string
}

// IsAdmin reports whether the actor belongs to the admin group.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Group == GroupAdmin
}
