// Package vault persists the authentication credentials of the current user:
// the access/refresh token pair, stored AES-GCM-encrypted under a key derived
// from a process-wide secret, and the cached user profile, stored as plain
// JSON. It is the single durable record of "who is logged in" — absence of
// any of its keys means no session.
//
// The encryption key is derived from a secret the embedding process ships
// with, so this is obfuscation of tokens at rest, not confidentiality against
// a user who controls the process. Corrupt or foreign blobs decrypt-fail and
// are treated as absent, never as a fatal error.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/deskd"
	"github.com/jmcleod/deskd/internal/util"
	"github.com/jmcleod/deskd/storage"
)

// Fixed storage keys. Two encrypted token blobs and one plaintext-JSON
// profile record.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyProfile      = "user"
)

const keyDerivationInfo = "deskd/vault/v1"

// Vault encrypts and persists the credential pair and cached profile.
// The derived encryption key lives in a memguard enclave and is only
// materialized transiently per crypto operation. All methods are safe for
// concurrent use; token-pair writes are serialized so no reader observes a
// partial pair.
type Vault struct {
	mu    sync.Mutex
	store storage.Store
	key   *memguard.Enclave
}

// New derives the vault encryption key from secret and returns a Vault
// persisting into store. The secret must be non-empty; it is wiped after
// derivation.
func New(secret []byte, store storage.Store) (*Vault, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("vault secret must not be empty")
	}
	defer util.WipeBytes(secret)

	key, err := util.DeriveKey(secret, nil, keyDerivationInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}
	return &Vault{
		store: store,
		key:   memguard.NewEnclave(key),
	}, nil
}

// StoreTokens encrypts each token independently and persists the pair,
// replacing any previous pair.
func (v *Vault) StoreTokens(pair deskd.TokenPair) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.sealTo(keyAccessToken, pair.Access); err != nil {
		return err
	}
	return v.sealTo(keyRefreshToken, pair.Refresh)
}

// StoreAccessToken replaces only the access token, retaining the persisted
// refresh token. Used when a refresh response does not rotate the refresh
// token.
func (v *Vault) StoreAccessToken(token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sealTo(keyAccessToken, token)
}

// LoadTokens decrypts and returns the persisted pair. ok is false when no
// pair is stored or either blob fails to decrypt; decryption failure is
// self-healing, never fatal.
func (v *Vault) LoadTokens() (pair deskd.TokenPair, ok bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	access, err := v.openFrom(keyAccessToken)
	if err != nil {
		return deskd.TokenPair{}, false, ignoreAbsent(err)
	}
	refresh, err := v.openFrom(keyRefreshToken)
	if err != nil {
		return deskd.TokenPair{}, false, ignoreAbsent(err)
	}
	return deskd.TokenPair{Access: access, Refresh: refresh}, true, nil
}

// AccessToken decrypts and returns only the access token.
func (v *Vault) AccessToken() (token string, ok bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	access, err := v.openFrom(keyAccessToken)
	if err != nil {
		return "", false, ignoreAbsent(err)
	}
	return access, true, nil
}

// RefreshToken decrypts and returns only the refresh token.
func (v *Vault) RefreshToken() (token string, ok bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	refresh, err := v.openFrom(keyRefreshToken)
	if err != nil {
		return "", false, ignoreAbsent(err)
	}
	return refresh, true, nil
}

// StoreProfile persists the cached user profile.
func (v *Vault) StoreProfile(profile deskd.UserProfile) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return v.store.Set(keyProfile, data)
}

// LoadProfile returns the cached user profile, or ok=false if none is stored
// or the record does not parse.
func (v *Vault) LoadProfile() (profile deskd.UserProfile, ok bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := v.store.Get(keyProfile)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return deskd.UserProfile{}, false, nil
		}
		return deskd.UserProfile{}, false, fmt.Errorf("loading profile: %w", err)
	}
	if err := json.Unmarshal(data, &profile); err != nil {
		return deskd.UserProfile{}, false, nil
	}
	return profile, true, nil
}

// Clear removes all persisted authentication material, including the cached
// profile.
func (v *Vault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var firstErr error
	for _, key := range []string{keyAccessToken, keyRefreshToken, keyProfile} {
		if err := v.store.Delete(key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("clearing %s: %w", key, err)
		}
	}
	return firstErr
}

func (v *Vault) sealTo(key, token string) error {
	buf, err := v.key.Open()
	if err != nil {
		return fmt.Errorf("opening vault key: %w", err)
	}
	defer buf.Destroy()

	// The storage key is bound into the ciphertext as AAD so a blob moved
	// between keys fails authentication instead of decrypting.
	blob, err := util.Seal([]byte(token), buf.Bytes(), []byte(key))
	if err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	return v.store.Set(key, blob)
}

func (v *Vault) openFrom(key string) (string, error) {
	blob, err := v.store.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", key, errAbsent)
		}
		return "", fmt.Errorf("loading %s: %w", key, err)
	}

	buf, err := v.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening vault key: %w", err)
	}
	defer buf.Destroy()

	plain, err := util.Open(blob, buf.Bytes(), []byte(key))
	if err != nil {
		// Foreign or corrupt blob: self-heal by treating it as absent.
		return "", fmt.Errorf("%s: %w: %w", key, deskd.ErrCorruptCredential, errAbsent)
	}
	return string(plain), nil
}

var errAbsent = errors.New("credential absent")

// ignoreAbsent converts an absent-credential error into a nil error; the
// ok=false return value already communicates absence.
func ignoreAbsent(err error) error {
	if errors.Is(err, errAbsent) {
		return nil
	}
	return err
}
