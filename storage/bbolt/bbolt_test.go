package bbolt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmcleod/deskd/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "deskd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("refresh_token", []byte("blob")))
	got, err := s.Get("refresh_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	require.NoError(t, s.Set("refresh_token", []byte("newer")))
	got, err = s.Get("refresh_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), got)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("user", []byte(`{"id":1}`)))
	require.NoError(t, s.Delete("user"))
	_, err := s.Get("user")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	// Deleting a missing key is a no-op, even before the bucket exists.
	assert.NoError(t, s.Delete("never-set"))
}
