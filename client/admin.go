package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmcleod/deskd"
)

// NewUser is the admin user-creation payload.
type NewUser struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     deskd.Role `json:"role"`
}

type createUserResponse struct {
	Message string            `json:"message"`
	User    deskd.UserProfile `json:"user"`
}

// ListUsers returns the active, unblocked accounts. Admin-gated server-side.
func (c *Client) ListUsers(ctx context.Context) ([]deskd.UserProfile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "auth/users/list/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, http.StatusOK, "listing users"); err != nil {
		return nil, err
	}
	var users []deskd.UserProfile
	if err := decodeJSON(resp, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser provisions a new account. Admin-gated server-side.
func (c *Client) CreateUser(ctx context.Context, user NewUser) (deskd.UserProfile, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "auth/users/create/", user)
	if err != nil {
		return deskd.UserProfile{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return deskd.UserProfile{}, err
	}
	if err := checkStatus(resp, http.StatusCreated, "creating user"); err != nil {
		return deskd.UserProfile{}, err
	}
	var body createUserResponse
	if err := decodeJSON(resp, &body); err != nil {
		return deskd.UserProfile{}, err
	}
	return body.User, nil
}

// BlockUser blocks an account from logging in. Admin-gated server-side.
func (c *Client) BlockUser(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("auth/users/%d/block/", id), struct{}{})
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if err := checkStatus(resp, http.StatusOK, "blocking user"); err != nil {
		return err
	}
	drain(resp)
	return nil
}
