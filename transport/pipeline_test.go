package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jmcleod/deskd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRT returns canned status codes in order and records each request
// it sees, including a snapshot of the body.
type scriptedRT struct {
	statuses []int
	requests []*http.Request
	bodies   []string
}

func (rt *scriptedRT) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(data)
	}
	rt.requests = append(rt.requests, req)
	rt.bodies = append(rt.bodies, body)

	status := http.StatusOK
	if len(rt.statuses) > 0 {
		status = rt.statuses[0]
		rt.statuses = rt.statuses[1:]
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("{}")),
		Request:    req,
	}, nil
}

func TestPipeline_AttachesBearerToken(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.StoreTokens(deskd.TokenPair{Access: "access-1", Refresh: "refresh-1"}))

	base := &scriptedRT{}
	p := New(v, NewRefresher(v, nil), WithBase(base))

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/auth/me/", nil)
	resp, err := p.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, base.requests, 1)
	assert.Equal(t, "Bearer access-1", base.requests[0].Header.Get("Authorization"))
	assert.NotEmpty(t, base.requests[0].Header.Get("X-Request-ID"))
}

func TestPipeline_NoCredentialsSendsUnauthenticated(t *testing.T) {
	v := newTestVault(t)
	base := &scriptedRT{}
	p := New(v, NewRefresher(v, nil), WithBase(base))

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/tickets/", nil)
	resp, err := p.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, base.requests, 1)
	assert.Empty(t, base.requests[0].Header.Get("Authorization"))
}

func TestPipeline_RetriesOnceAfterRefresh(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.StoreTokens(deskd.TokenPair{Access: "stale", Refresh: "refresh-1"}))

	refresher := NewRefresher(v, func(ctx context.Context, token string) (string, string, error) {
		return "fresh", "", nil
	})
	base := &scriptedRT{statuses: []int{http.StatusUnauthorized, http.StatusOK}}
	p := New(v, refresher, WithBase(base))

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/auth/me/", nil)
	resp, err := p.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, base.requests, 2)
	assert.Equal(t, "Bearer stale", base.requests[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer fresh", base.requests[1].Header.Get("Authorization"),
		"retry must carry the token produced by its refresh")
	assert.Equal(t, base.requests[0].Header.Get("X-Request-ID"), base.requests[1].Header.Get("X-Request-ID"),
		"request ID is stable across the retry")
}

func TestPipeline_SecondUnauthorizedStopsRetrying(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.StoreTokens(deskd.TokenPair{Access: "stale", Refresh: "refresh-1"}))

	refreshCalls := 0
	refresher := NewRefresher(v, func(ctx context.Context, token string) (string, string, error) {
		refreshCalls++
		return "fresh", "", nil
	})
	expired := false
	base := &scriptedRT{statuses: []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized}}
	p := New(v, refresher, WithBase(base), WithSessionExpiredFunc(func() { expired = true }))

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/auth/me/", nil)
	resp, err := p.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, base.requests, 2, "a retried request is never retried again")
	assert.Equal(t, 1, refreshCalls)
	assert.True(t, expired)

	_, ok, err := v.LoadTokens()
	require.NoError(t, err)
	assert.False(t, ok, "vault cleared after abandoning the session")
}

func TestPipeline_RefreshFailurePropagates(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.StoreTokens(deskd.TokenPair{Access: "stale", Refresh: "refresh-1"}))

	refresher := NewRefresher(v, func(ctx context.Context, token string) (string, string, error) {
		return "", "", errors.New("rejected")
	})
	expired := false
	base := &scriptedRT{statuses: []int{http.StatusUnauthorized}}
	p := New(v, refresher, WithBase(base), WithSessionExpiredFunc(func() { expired = true }))

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/auth/me/", nil)
	resp, err := p.RoundTrip(req) //nolint:bodyclose // resp is nil on error
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, deskd.ErrRefreshDenied))
	assert.True(t, expired)
}

func TestPipeline_ReplaysBodyOnRetry(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.StoreTokens(deskd.TokenPair{Access: "stale", Refresh: "refresh-1"}))

	refresher := NewRefresher(v, func(ctx context.Context, token string) (string, string, error) {
		return "fresh", "", nil
	})
	base := &scriptedRT{statuses: []int{http.StatusUnauthorized, http.StatusOK}}
	p := New(v, refresher, WithBase(base))

	req, _ := http.NewRequest(http.MethodPost, "http://api.test/tickets/", bytes.NewReader([]byte(`{"title":"t"}`)))
	resp, err := p.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, base.bodies, 2)
	assert.Equal(t, `{"title":"t"}`, base.bodies[0])
	assert.Equal(t, `{"title":"t"}`, base.bodies[1])
}

func TestPipeline_OtherStatusesPassThrough(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.StoreTokens(deskd.TokenPair{Access: "access-1", Refresh: "refresh-1"}))

	for _, status := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		base := &scriptedRT{statuses: []int{status}}
		refresher := NewRefresher(v, func(ctx context.Context, token string) (string, string, error) {
			t.Fatal("refresh must not run for non-401 responses")
			return "", "", nil
		})
		p := New(v, refresher, WithBase(base))

		req, _ := http.NewRequest(http.MethodGet, "http://api.test/tickets/", nil)
		resp, err := p.RoundTrip(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, status, resp.StatusCode)
		assert.Len(t, base.requests, 1)
	}
}

func TestPipeline_AnonymousUnauthorizedDoesNotExpireSession(t *testing.T) {
	v := newTestVault(t)

	expired := false
	base := &scriptedRT{statuses: []int{http.StatusUnauthorized, http.StatusUnauthorized}}
	refresher := NewRefresher(v, func(ctx context.Context, token string) (string, string, error) {
		return "", "", errors.New("rejected")
	})
	p := New(v, refresher, WithBase(base), WithSessionExpiredFunc(func() { expired = true }))

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/auth/me/", nil)
	_, err := p.RoundTrip(req) //nolint:bodyclose
	require.Error(t, err)
	assert.True(t, errors.Is(err, deskd.ErrNoRefreshToken))
	assert.False(t, expired, "no session to expire for an anonymous request")
}
