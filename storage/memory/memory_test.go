package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/jmcleod/deskd/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s := New()

	require.NoError(t, s.Set("access_token", []byte("blob")))
	got, err := s.Get("access_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)
}

func TestStore_GetMissing(t *testing.T) {
	s := New()
	_, err := s.Get("missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	s := New()
	assert.NoError(t, s.Delete("missing"))
}

func TestStore_SetCopiesValue(t *testing.T) {
	s := New()
	value := []byte("blob")
	require.NoError(t, s.Set("k", value))
	value[0] = 'x'

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Set("k", []byte("v"))
			_, _ = s.Get("k")
			_ = s.Delete("k")
		}()
	}
	wg.Wait()
}
