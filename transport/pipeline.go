// Package transport implements the authenticated request pipeline: every
// outbound API call gets the current access token attached, and a request
// rejected as unauthorized is retried exactly once after a token refresh.
// The single-retry bound is an explicit per-call attempt counter, so the
// pipeline stays reentrant under concurrent requests, and concurrent
// refreshes collapse into one shared exchange.
package transport

import (
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/jmcleod/deskd/vault"
)

const requestIDHeader = "X-Request-ID"

// maxAttempts bounds the retry loop: the original send plus one retry after
// a refresh. A server that keeps rejecting for reasons other than token
// expiry therefore cannot trap the pipeline in a refresh loop.
const maxAttempts = 2

// Pipeline is a http.RoundTripper wrapping every outbound API call.
type Pipeline struct {
	base      http.RoundTripper
	vault     *vault.Vault
	refresher *Refresher
	onExpired func()
}

var _ http.RoundTripper = (*Pipeline)(nil)

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithBase sets the underlying round tripper. Defaults to
// http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(p *Pipeline) {
		p.base = rt
	}
}

// WithSessionExpiredFunc registers the callback invoked when the pipeline
// abandons the session: refresh denied, or a retried request rejected again.
// The vault has already been cleared when it fires.
func WithSessionExpiredFunc(fn func()) Option {
	return func(p *Pipeline) {
		p.onExpired = fn
	}
}

// New creates a Pipeline reading credentials from v and refreshing through r.
func New(v *vault.Vault, r *Refresher, opts ...Option) *Pipeline {
	p := &Pipeline{
		base:      http.DefaultTransport,
		vault:     v,
		refresher: r,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RoundTrip sends the request with the current access token attached. On an
// unauthorized response it refreshes once and re-issues the same request
// with the token produced by that specific refresh; a second unauthorized
// response, or a failed refresh, tears the session down and propagates.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	// One ID per logical request, stable across the retry, for server-side
	// correlation and audit logs.
	requestID := uuid.NewString()

	token, hadToken, err := p.vault.AccessToken()
	if err != nil {
		// A broken storage backend degrades to an unauthenticated send.
		token, hadToken = "", false
	}

	for attempt := 0; ; attempt++ {
		out := req.Clone(req.Context())
		out.Header.Set(requestIDHeader, requestID)
		if hadToken {
			out.Header.Set("Authorization", "Bearer "+token)
		}
		if attempt > 0 {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replaying request body: %w", err)
			}
			out.Body = body
		}

		resp, err := p.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		if attempt >= maxAttempts-1 {
			// Already retried once; the refreshed token was rejected too.
			p.expire(hadToken)
			return resp, nil
		}
		if req.Body != nil && req.GetBody == nil {
			// Unreplayable body; surface the rejection as-is.
			return resp, nil
		}

		drainBody(resp)
		access, err := p.refresher.Refresh(req.Context())
		if err != nil {
			p.expire(hadToken)
			return nil, fmt.Errorf("refreshing session: %w", err)
		}
		// Use the token from this refresh, not a later re-read of the
		// vault, so the retry cannot pick up a token from another flight.
		token, hadToken = access, true
	}
}

// expire clears the vault and signals the session owner, but only when the
// request actually carried credentials; an anonymous request drawing a 401
// has no session to expire.
func (p *Pipeline) expire(hadToken bool) {
	if !hadToken {
		return
	}
	// Best effort; the session reset below is what matters.
	_ = p.vault.Clear()
	if p.onExpired != nil {
		p.onExpired()
	}
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}
