package deskd

import "errors"

var (
	// ErrInvalidCredentials indicates the login endpoint rejected the
	// supplied email/password combination.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoleMismatch indicates the server-issued profile role does not
	// match the role requested at login, or the account is blocked from
	// logging in under that role.
	ErrRoleMismatch = errors.New("role mismatch")
	// ErrNoRefreshToken indicates a refresh was attempted with no refresh
	// token persisted in the vault.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRefreshDenied indicates the token-refresh endpoint rejected the
	// refresh token or could not be reached; the vault has been cleared.
	ErrRefreshDenied = errors.New("refresh denied")
	// ErrNetworkUnreachable indicates the request never produced an HTTP
	// response.
	ErrNetworkUnreachable = errors.New("network unreachable")
	// ErrUnauthorized indicates the server rejected the current access
	// token; the session is treated as invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrCorruptCredential indicates a persisted token blob failed to
	// decrypt. The vault converts this into "no credentials" rather than
	// surfacing it; it is exported so callers can log the self-heal.
	ErrCorruptCredential = errors.New("corrupt credential")
)
