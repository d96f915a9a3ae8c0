package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmcleod/deskd"
)

type loginRequest struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     deskd.Role `json:"role"`
}

type loginResponse struct {
	User   deskd.UserProfile `json:"user"`
	Tokens deskd.TokenPair   `json:"tokens"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse is the token-refresh payload. Refresh is empty when the
// server does not rotate the refresh token.
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges credentials for a user profile and token pair.
// Failures map onto the error taxonomy: 400 → ErrInvalidCredentials,
// 403 (blocked account or role denial) → ErrRoleMismatch.
func (c *Client) Login(ctx context.Context, email, password string, role deskd.Role) (deskd.UserProfile, deskd.TokenPair, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "auth/login/", loginRequest{
		Email:    email,
		Password: password,
		Role:     role,
	})
	if err != nil {
		return deskd.UserProfile{}, deskd.TokenPair{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return deskd.UserProfile{}, deskd.TokenPair{}, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var body loginResponse
		if err := decodeJSON(resp, &body); err != nil {
			return deskd.UserProfile{}, deskd.TokenPair{}, err
		}
		return body.User, body.Tokens, nil
	case resp.StatusCode == http.StatusBadRequest:
		return deskd.UserProfile{}, deskd.TokenPair{}, wrapAPIError(deskd.ErrInvalidCredentials, readAPIError(resp))
	case resp.StatusCode == http.StatusForbidden:
		return deskd.UserProfile{}, deskd.TokenPair{}, wrapAPIError(deskd.ErrRoleMismatch, readAPIError(resp))
	default:
		apiErr := readAPIError(resp)
		return deskd.UserProfile{}, deskd.TokenPair{}, fmt.Errorf("login failed: status %d: %s", resp.StatusCode, apiErr.message())
	}
}

// RefreshTokens exchanges a refresh token for a new access token, and a new
// refresh token if the server rotates them. Any rejection maps to
// ErrRefreshDenied.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (RefreshResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "auth/refresh/", refreshRequest{Refresh: refreshToken})
	if err != nil {
		return RefreshResponse{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return RefreshResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return RefreshResponse{}, wrapAPIError(deskd.ErrRefreshDenied, readAPIError(resp))
	}

	var body RefreshResponse
	if err := decodeJSON(resp, &body); err != nil {
		return RefreshResponse{}, err
	}
	if body.Access == "" {
		return RefreshResponse{}, fmt.Errorf("%w: no access token in response", deskd.ErrRefreshDenied)
	}
	return body, nil
}

// Logout revokes the refresh token server-side. The response status is
// ignored; only transport failures are reported, and callers are expected to
// proceed with local teardown regardless.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "auth/logout/", logoutRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Me fetches the profile of the currently authenticated user. A 401 maps to
// ErrUnauthorized, which callers treat as an invalid session.
func (c *Client) Me(ctx context.Context) (deskd.UserProfile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "auth/me/", nil)
	if err != nil {
		return deskd.UserProfile{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return deskd.UserProfile{}, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		var profile deskd.UserProfile
		if err := decodeJSON(resp, &profile); err != nil {
			return deskd.UserProfile{}, err
		}
		return profile, nil
	case resp.StatusCode == http.StatusUnauthorized:
		drain(resp)
		return deskd.UserProfile{}, deskd.ErrUnauthorized
	default:
		apiErr := readAPIError(resp)
		return deskd.UserProfile{}, fmt.Errorf("fetching profile: status %d: %s", resp.StatusCode, apiErr.message())
	}
}

func wrapAPIError(sentinel error, apiErr apiError) error {
	if msg := apiErr.message(); msg != "" {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return sentinel
}
