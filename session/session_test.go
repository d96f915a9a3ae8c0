package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmcleod/deskd"
	"github.com/jmcleod/deskd/client"
	"github.com/jmcleod/deskd/internal/apitest"
	"github.com/jmcleod/deskd/session"
	"github.com/jmcleod/deskd/storage/memory"
	"github.com/jmcleod/deskd/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	userProfile  = deskd.UserProfile{ID: 1, Email: "a@x.com", Role: deskd.RoleUser}
	adminProfile = deskd.UserProfile{ID: 2, Email: "admin@x.com", Role: deskd.RoleAdmin}
)

type fixture struct {
	srv     *apitest.Server
	vault   *vault.Vault
	manager *session.Manager
	notices []string
	mu      sync.Mutex
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	srv := apitest.NewServer(t)
	srv.AddAccount(apitest.Account{Password: "pw", Profile: userProfile})
	srv.AddAccount(apitest.Account{Password: "admin-pw", Profile: adminProfile})

	v, err := vault.New([]byte("test-secret"), memory.New())
	require.NoError(t, err)

	f := &fixture{srv: srv, vault: v}
	opts = append([]session.Option{
		session.WithNotifier(func(msg string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.notices = append(f.notices, msg)
		}),
	}, opts...)
	m, err := session.New(v, srv.URL, opts...)
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *fixture) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

func TestManager_InitializeWithoutCredentials(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, session.StateInitializing, f.manager.State())
	assert.True(t, f.manager.Snapshot().Loading)

	require.NoError(t, f.manager.Initialize(context.Background()))

	assert.Equal(t, session.StateAnonymous, f.manager.State())
	assert.False(t, f.manager.Snapshot().Loading)
	_, ok := f.manager.CurrentUser()
	assert.False(t, ok)
}

func TestManager_InitializeWithValidCredentials(t *testing.T) {
	f := newFixture(t)
	pair := f.srv.IssueTokens(userProfile)
	require.NoError(t, f.vault.StoreTokens(pair))
	require.NoError(t, f.vault.StoreProfile(userProfile))

	require.NoError(t, f.manager.Initialize(context.Background()))

	assert.Equal(t, session.StateAuthenticated, f.manager.State())
	user, ok := f.manager.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, userProfile, user)
	assert.Equal(t, int64(1), f.srv.MeCalls.Load(), "one profile fetch validates the stored pair")
}

func TestManager_InitializeWithExpiredCredentials(t *testing.T) {
	f := newFixture(t)
	pair := f.srv.IssueTokens(userProfile)
	require.NoError(t, f.vault.StoreTokens(pair))
	require.NoError(t, f.vault.StoreProfile(userProfile))
	f.srv.RevokeAll()

	require.NoError(t, f.manager.Initialize(context.Background()))

	assert.Equal(t, session.StateAnonymous, f.manager.State())
	assert.False(t, f.manager.Snapshot().Loading)
	_, ok, err := f.vault.LoadTokens()
	require.NoError(t, err)
	assert.False(t, ok, "vault cleared after failed revalidation")
}

func TestManager_InitializeRefreshesExpiredAccessToken(t *testing.T) {
	f := newFixture(t)
	pair := f.srv.IssueTokens(userProfile)
	require.NoError(t, f.vault.StoreTokens(pair))
	f.srv.ExpireAccessTokens()

	require.NoError(t, f.manager.Initialize(context.Background()))

	// The profile fetch hit a 401, refreshed once, and succeeded.
	assert.Equal(t, session.StateAuthenticated, f.manager.State())
	assert.Equal(t, int64(1), f.srv.RefreshCalls.Load())
}

func TestManager_LoginSuccess(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	user, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, userProfile, user)
	assert.Equal(t, session.StateAuthenticated, f.manager.State())
	assert.True(t, f.manager.IsAuthorized(deskd.RoleUser))
	assert.False(t, f.manager.IsAuthorized(deskd.RoleAdmin))
	assert.Equal(t, int64(1), f.srv.LoginCalls.Load())

	pair, ok, err := f.vault.LoadTokens()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, pair.Access)

	profile, ok, err := f.vault.LoadProfile()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, userProfile, profile)
}

func TestManager_LoginNormalizesEmail(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	_, err := f.manager.Login(context.Background(), "  A@X.com ", "pw", deskd.RoleUser)
	require.NoError(t, err)
}

func TestManager_LoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	_, err := f.manager.Login(context.Background(), "a@x.com", "wrong", deskd.RoleUser)
	assert.True(t, errors.Is(err, deskd.ErrInvalidCredentials))
	assert.True(t, session.IsAuthFailure(err))
	assert.Equal(t, session.StateAnonymous, f.manager.State())

	_, ok, err := f.vault.LoadTokens()
	require.NoError(t, err)
	assert.False(t, ok, "nothing persisted on failed login")
}

func TestManager_LoginRoleMismatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	// The account authenticates, but its server-side role is "user".
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleAdmin)
	assert.True(t, errors.Is(err, deskd.ErrRoleMismatch))
	assert.Equal(t, session.StateAnonymous, f.manager.State())

	_, ok, err := f.vault.LoadTokens()
	require.NoError(t, err)
	assert.False(t, ok, "role-mismatched login must not persist credentials")
}

func TestManager_LoginFailureLeavesExistingSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleUser)
	require.NoError(t, err)

	_, err = f.manager.Login(context.Background(), "admin@x.com", "wrong", deskd.RoleAdmin)
	require.Error(t, err)

	// The failed attempt leaves the current session untouched.
	assert.Equal(t, session.StateAuthenticated, f.manager.State())
	user, ok := f.manager.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, userProfile, user)
}

func TestManager_Logout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleUser)
	require.NoError(t, err)

	require.NoError(t, f.manager.Logout(context.Background()))

	assert.Equal(t, session.StateAnonymous, f.manager.State())
	assert.Equal(t, int64(1), f.srv.LogoutCalls.Load())
	_, ok, err := f.vault.LoadTokens()
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = f.vault.LoadProfile()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_LogoutProceedsWhenServerUnreachable(t *testing.T) {
	v, err := vault.New([]byte("test-secret"), memory.New())
	require.NoError(t, err)
	require.NoError(t, v.StoreTokens(deskd.TokenPair{Access: "a", Refresh: "r"}))
	require.NoError(t, v.StoreProfile(userProfile))

	m, err := session.New(v, "http://127.0.0.1:1")
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background()),
		"logout must succeed locally even when revocation cannot reach the server")
	assert.Equal(t, session.StateAnonymous, m.State())
	_, ok, err := v.LoadTokens()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_CheckAuthFailureForcesLogout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleUser)
	require.NoError(t, err)

	f.srv.RevokeAll()

	require.NoError(t, f.manager.CheckAuth(context.Background()))
	assert.Equal(t, session.StateAnonymous, f.manager.State())
	_, ok, err := f.vault.LoadTokens()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_SessionExpiredNotice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleUser)
	require.NoError(t, err)

	// All tokens die server-side; the next authenticated call fails its
	// refresh and tears the session down.
	f.srv.RevokeAll()
	_, err = f.manager.API().Me(context.Background())
	require.Error(t, err)

	assert.Equal(t, session.StateAnonymous, f.manager.State())
	assert.Equal(t, 1, f.noticeCount(), "exactly one session-expired notice")
}

func TestManager_RefreshDeniedExpiresSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleUser)
	require.NoError(t, err)

	// The access token dies but the refresh token stays nominally valid;
	// the server still turns the refresh away.
	f.srv.ExpireAccessTokens()
	f.srv.SetFailRefresh(true)

	_, err = f.manager.API().Me(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, deskd.ErrRefreshDenied))

	assert.Equal(t, session.StateAnonymous, f.manager.State())
	assert.Equal(t, 1, f.noticeCount(), "denied refresh raises one session-expired notice")
	_, ok, err := f.vault.LoadTokens()
	require.NoError(t, err)
	assert.False(t, ok, "vault cleared after denied refresh")
}

func TestManager_ConcurrentExpiredRequestsShareOneRefresh(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleUser)
	require.NoError(t, err)

	f.srv.ExpireAccessTokens()
	f.srv.SetRefreshDelay(100 * time.Millisecond)
	f.srv.RefreshCalls.Store(0)

	const n = 8
	var failures atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.API().Me(context.Background()); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), failures.Load(), "all requests succeed after the shared refresh")
	assert.Equal(t, int64(1), f.srv.RefreshCalls.Load(), "one refresh serves all waiters")
	assert.Equal(t, session.StateAuthenticated, f.manager.State())
}

func TestManager_AuthenticatedTicketFlow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.Login(context.Background(), "a@x.com", "pw", deskd.RoleUser)
	require.NoError(t, err)

	api := f.manager.API()
	created, err := api.CreateTicket(context.Background(), client.NewTicket{
		Title:       "VPN down",
		Description: "Cannot connect since this morning.",
		Priority:    client.PriorityMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, userProfile.ID, created.CreatedBy)

	tickets, err := api.ListTickets(context.Background())
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
}
