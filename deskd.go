// Package deskd holds the shared domain types and error taxonomy for the
// ticket-desk client: user profiles, roles, and the credential pair managed
// by the vault, session, and transport packages.
package deskd

// Role identifies the access level of an authenticated user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// UserProfile is the server-issued identity of an authenticated user.
// Profiles are immutable once fetched; a newer profile replaces the old
// one wholesale, it is never partially mutated.
type UserProfile struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// TokenPair carries the two opaque credentials issued at login. The access
// token is short-lived and attached to every authenticated request; the
// refresh token is longer-lived and used only by the refresh protocol.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}
