// Package session holds the process-wide authentication state machine. A
// Manager owns the credential vault and the API clients, and exposes the
// operation set the rest of the application calls: Initialize, Login,
// Logout, CheckAuth, CurrentUser, IsAuthorized.
//
// The manager is an explicitly constructed, injected object rather than a
// package-level singleton, so consumers and tests can run isolated session
// lifecycles side by side.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jmcleod/deskd"
	"github.com/jmcleod/deskd/client"
	"github.com/jmcleod/deskd/internal/util"
	"github.com/jmcleod/deskd/transport"
	"github.com/jmcleod/deskd/vault"
)

// State is the lifecycle state of the session.
type State int

const (
	// StateInitializing means the initial authentication check has not
	// resolved yet.
	StateInitializing State = iota
	// StateAnonymous means no user is authenticated.
	StateAnonymous
	// StateAuthenticated means a validated user is logged in.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the session, consumed by route guards.
type Snapshot struct {
	// User is the authenticated profile, or nil when anonymous.
	User *deskd.UserProfile
	// Loading is true until Initialize has resolved.
	Loading bool
}

// Manager is the session store. All methods are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	state   State
	user    *deskd.UserProfile
	loading bool

	vault  *vault.Vault
	bare   *client.Client // unauthenticated: login, refresh, logout
	authed *client.Client // pipelined: profile fetch, collaborator calls

	audit         *auditLogger
	notify        func(message string)
	baseTransport http.RoundTripper
	httpTimeout   time.Duration
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the structured logger for session audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.audit = newAuditLogger(logger)
	}
}

// WithNotifier registers the callback for the single user-visible notice
// emitted when an authenticated session is torn down behind the user's back
// (refresh denied, revalidation failed).
func WithNotifier(fn func(message string)) Option {
	return func(m *Manager) {
		m.notify = fn
	}
}

// WithBaseTransport sets the round tripper underneath the pipeline.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(m *Manager) {
		m.baseTransport = rt
	}
}

// WithHTTPTimeout sets the per-request timeout of both API clients.
func WithHTTPTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.httpTimeout = d
	}
}

// New wires a Manager against the API at baseURL, persisting credentials
// through v. The session starts in StateInitializing; call Initialize to
// resolve it.
func New(v *vault.Vault, baseURL string, opts ...Option) (*Manager, error) {
	m := &Manager{
		state:         StateInitializing,
		loading:       true,
		vault:         v,
		baseTransport: http.DefaultTransport,
		httpTimeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.audit == nil {
		m.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}

	bare, err := client.New(baseURL, client.WithHTTPClient(&http.Client{
		Transport: m.baseTransport,
		Timeout:   m.httpTimeout,
	}))
	if err != nil {
		return nil, err
	}
	m.bare = bare

	refresher := transport.NewRefresher(v, func(ctx context.Context, refreshToken string) (string, string, error) {
		resp, err := bare.RefreshTokens(ctx, refreshToken)
		return resp.Access, resp.Refresh, err
	})
	pipeline := transport.New(v, refresher,
		transport.WithBase(m.baseTransport),
		transport.WithSessionExpiredFunc(m.handleExpired),
	)
	authed, err := client.New(baseURL, client.WithHTTPClient(&http.Client{
		Transport: pipeline,
		Timeout:   m.httpTimeout,
	}))
	if err != nil {
		return nil, err
	}
	m.authed = authed

	return m, nil
}

// API returns the authenticated client collaborators should issue their
// calls through. Every request rides the pipeline: bearer injection, single
// refresh-retry, session teardown on abandonment.
func (m *Manager) API() *client.Client {
	return m.authed
}

// Initialize resolves the persisted session: if a credential pair exists it
// is validated against the profile endpoint, otherwise the session is
// anonymous. Always ends the loading state, including when ctx is cancelled
// mid-check.
func (m *Manager) Initialize(ctx context.Context) error {
	defer m.setLoading(false)

	_, ok, err := m.vault.LoadTokens()
	if err != nil {
		return err
	}
	if !ok {
		m.setAnonymous()
		m.audit.log(ctx, AuditInitialized, slog.String("state", "anonymous"))
		return nil
	}

	profile, err := m.authed.Me(ctx)
	if err != nil {
		// The caller going away mid-check is not a verdict on the
		// credentials; keep them for the next start.
		if ctx.Err() != nil {
			m.setAnonymous()
			return ctx.Err()
		}
		// Expired or foreign credentials: self-heal into a clean
		// anonymous session. The pipeline may already have cleared the
		// vault; clearing again is harmless.
		_ = m.vault.Clear()
		m.setAnonymous()
		m.audit.log(ctx, AuditInitialized,
			slog.String("state", "anonymous"),
			slog.String("reason", err.Error()))
		return nil
	}

	if err := m.vault.StoreProfile(profile); err != nil {
		return err
	}
	m.setAuthenticated(profile)
	m.audit.log(ctx, AuditInitialized,
		slog.String("state", "authenticated"),
		slog.String("email", profile.Email),
		slog.String("role", string(profile.Role)))
	return nil
}

// Login authenticates against the API and, on success, persists the issued
// credential pair and profile. The server is the source of truth for the
// profile role: if it disagrees with the requested role the login fails with
// ErrRoleMismatch and nothing is persisted. Failures are typed results for
// the caller to render; the session state is left unchanged by any failure.
func (m *Manager) Login(ctx context.Context, email, password string, role deskd.Role) (deskd.UserProfile, error) {
	email = util.NormalizeEmail(email)

	profile, pair, err := m.bare.Login(ctx, email, password, role)
	if err != nil {
		m.audit.log(ctx, AuditLoginFailure,
			slog.String("email", email),
			slog.String("error", err.Error()))
		return deskd.UserProfile{}, err
	}

	if profile.Role != role {
		m.audit.log(ctx, AuditRoleMismatch,
			slog.String("email", email),
			slog.String("requested", string(role)),
			slog.String("actual", string(profile.Role)))
		return deskd.UserProfile{}, deskd.ErrRoleMismatch
	}

	if err := m.vault.StoreTokens(pair); err != nil {
		return deskd.UserProfile{}, err
	}
	if err := m.vault.StoreProfile(profile); err != nil {
		return deskd.UserProfile{}, err
	}

	m.setAuthenticated(profile)
	m.audit.log(ctx, AuditLoginSuccess,
		slog.String("email", profile.Email),
		slog.String("role", string(profile.Role)))
	return profile, nil
}

// Logout revokes the refresh token server-side on a best-effort basis, then
// unconditionally clears the vault and resets the session to anonymous.
// Network failure of the revocation is swallowed: local teardown always
// proceeds.
func (m *Manager) Logout(ctx context.Context) error {
	if refreshToken, ok, err := m.vault.RefreshToken(); err == nil && ok {
		if err := m.bare.Logout(ctx, refreshToken); err != nil {
			m.audit.log(ctx, AuditLogout, slog.String("revoke_error", err.Error()))
		}
	}

	if err := m.vault.Clear(); err != nil {
		return err
	}
	m.setAnonymous()
	m.audit.log(ctx, AuditLogout)
	return nil
}

// CheckAuth re-validates the current credentials against the profile
// endpoint, replacing the cached profile wholesale if it changed. On failure
// the session is logged out.
func (m *Manager) CheckAuth(ctx context.Context) error {
	_, ok, err := m.vault.LoadTokens()
	if err != nil {
		return err
	}
	if !ok {
		m.setAnonymous()
		return nil
	}

	profile, err := m.authed.Me(ctx)
	if err != nil {
		m.audit.log(ctx, AuditAuthCheckFail, slog.String("error", err.Error()))
		return m.Logout(ctx)
	}

	if err := m.vault.StoreProfile(profile); err != nil {
		return err
	}
	m.setAuthenticated(profile)
	return nil
}

// CurrentUser returns the authenticated profile, if any.
func (m *Manager) CurrentUser() (deskd.UserProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return deskd.UserProfile{}, false
	}
	return *m.user, true
}

// IsAuthorized reports whether the current user holds the given role.
func (m *Manager) IsAuthorized(role deskd.Role) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil && m.user.Role == role
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the view route guards evaluate against.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{Loading: m.loading}
	if m.user != nil {
		u := *m.user
		snap.User = &u
	}
	return snap
}

// handleExpired is invoked by the pipeline after it has cleared the vault:
// either the refresh protocol was denied or a retried request was rejected
// again. The session resets to anonymous and the user gets a single
// session-expired notice.
func (m *Manager) handleExpired() {
	m.mu.Lock()
	wasAuthenticated := m.state == StateAuthenticated
	m.state = StateAnonymous
	m.user = nil
	m.mu.Unlock()

	m.audit.log(context.Background(), AuditSessionExpired)
	if wasAuthenticated && m.notify != nil {
		m.notify("Session expired. Please log in again.")
	}
}

func (m *Manager) setAuthenticated(profile deskd.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateAuthenticated
	m.user = &profile
}

func (m *Manager) setAnonymous() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateAnonymous
	m.user = nil
}

func (m *Manager) setLoading(loading bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = loading
	if !loading && m.state == StateInitializing {
		m.state = StateAnonymous
	}
}

// IsAuthFailure reports whether err represents a credential problem the UI
// should render on the login form, as opposed to an infrastructure failure.
func IsAuthFailure(err error) bool {
	return errors.Is(err, deskd.ErrInvalidCredentials) || errors.Is(err, deskd.ErrRoleMismatch)
}
