package guard

import (
	"testing"

	"github.com/jmcleod/deskd"
	"github.com/jmcleod/deskd/session"
	"github.com/stretchr/testify/assert"
)

func anonymous() session.Snapshot {
	return session.Snapshot{}
}

func loading() session.Snapshot {
	return session.Snapshot{Loading: true}
}

func authenticated(role deskd.Role) session.Snapshot {
	return session.Snapshot{
		User: &deskd.UserProfile{ID: 1, Email: "a@x.com", Role: role},
	}
}

func TestPublic(t *testing.T) {
	tests := []struct {
		name string
		snap session.Snapshot
		want Decision
	}{
		{"anonymous renders", anonymous(), Decision{Action: ActionRender}},
		{"user redirected to user landing", authenticated(deskd.RoleUser),
			Decision{Action: ActionRedirect, Target: "/user/dashboard"}},
		{"admin redirected to admin landing", authenticated(deskd.RoleAdmin),
			Decision{Action: ActionRedirect, Target: "/admin/dashboard"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Public{}.Evaluate(tt.snap, "/login"))
		})
	}
}

func TestPublic_CustomLanding(t *testing.T) {
	p := Public{Landing: map[deskd.Role]string{deskd.RoleUser: "/home"}}
	got := p.Evaluate(authenticated(deskd.RoleUser), "/login")
	assert.Equal(t, Decision{Action: ActionRedirect, Target: "/home"}, got)
}

func TestAuthenticated(t *testing.T) {
	tests := []struct {
		name string
		snap session.Snapshot
		want Decision
	}{
		{"loading shows transient state", loading(), Decision{Action: ActionLoading}},
		{"anonymous redirected to login preserving origin", anonymous(),
			Decision{Action: ActionRedirect, Target: "/login", ReturnTo: "/user/tickets"}},
		{"user renders", authenticated(deskd.RoleUser), Decision{Action: ActionRender}},
		{"admin renders", authenticated(deskd.RoleAdmin), Decision{Action: ActionRender}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authenticated{}.Evaluate(tt.snap, "/user/tickets"))
		})
	}
}

func TestRoleRestricted(t *testing.T) {
	adminOnly := RoleRestricted{Role: deskd.RoleAdmin}

	tests := []struct {
		name string
		snap session.Snapshot
		want Decision
	}{
		{"loading shows transient state", loading(), Decision{Action: ActionLoading}},
		{"anonymous redirected to login", anonymous(),
			Decision{Action: ActionRedirect, Target: "/login", ReturnTo: "/admin/users"}},
		{"wrong role sent to unauthorized view", authenticated(deskd.RoleUser),
			Decision{Action: ActionRedirect, Target: "/unauthorized"}},
		{"matching role renders", authenticated(deskd.RoleAdmin), Decision{Action: ActionRender}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adminOnly.Evaluate(tt.snap, "/admin/users"))
		})
	}
}

// A guard consulted while initialization is still pending must never leak a
// protected view: public views may render, everything else shows the
// transient loading state.
func TestGuard_TolerantOfUnresolvedSession(t *testing.T) {
	assert.Equal(t, ActionRender, Public{}.Evaluate(loading(), "/login").Action)
	assert.Equal(t, ActionLoading, Authenticated{}.Evaluate(loading(), "/user/tickets").Action)
	assert.Equal(t, ActionLoading, RoleRestricted{Role: deskd.RoleAdmin}.Evaluate(loading(), "/admin/users").Action)
}
