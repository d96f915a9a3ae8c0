package transport

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/deskd"
	"github.com/jmcleod/deskd/vault"
)

// RefreshFunc exchanges a refresh token for a new access token, and a new
// refresh token when the server rotates them (empty otherwise).
// client.Client.RefreshTokens satisfies this shape via NewRefreshFunc.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// Refresher runs the token-refresh protocol: read the persisted refresh
// token, exchange it, persist the replacement pair. Concurrent calls are
// coalesced into a single in-flight exchange whose result every waiter
// shares, so N simultaneously expired requests cost one network call and
// cannot race on which pair ends up persisted.
type Refresher struct {
	vault   *vault.Vault
	refresh RefreshFunc
	group   singleflight.Group
}

// NewRefresher returns a Refresher persisting through v and exchanging
// tokens with fn.
func NewRefresher(v *vault.Vault, fn RefreshFunc) *Refresher {
	return &Refresher{vault: v, refresh: fn}
}

// Refresh returns a freshly issued access token. With no refresh token
// persisted it fails with ErrNoRefreshToken; on rejection or network failure
// it clears the vault and fails with ErrRefreshDenied, forcing subsequent
// requests to treat the session as anonymous.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	access, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return access.(string), nil
}

func (r *Refresher) doRefresh(ctx context.Context) (string, error) {
	token, ok, err := r.vault.RefreshToken()
	if err != nil {
		return "", fmt.Errorf("reading refresh token: %w", err)
	}
	if !ok {
		return "", deskd.ErrNoRefreshToken
	}

	access, refresh, err := r.refresh(ctx, token)
	if err != nil {
		if clearErr := r.vault.Clear(); clearErr != nil {
			return "", fmt.Errorf("%w: %w (clearing vault: %w)", deskd.ErrRefreshDenied, err, clearErr)
		}
		return "", fmt.Errorf("%w: %w", deskd.ErrRefreshDenied, err)
	}

	// A response without a rotated refresh token retains the previous one;
	// either way the persisted pair is replaced atomically with respect to
	// other vault readers.
	if refresh != "" {
		err = r.vault.StoreTokens(deskd.TokenPair{Access: access, Refresh: refresh})
	} else {
		err = r.vault.StoreAccessToken(access)
	}
	if err != nil {
		return "", fmt.Errorf("persisting refreshed tokens: %w", err)
	}
	return access, nil
}
