// Package guard decides whether a navigation target may be rendered for the
// current session. Policies are polymorphic over three access levels: public
// views, views requiring any authenticated user, and views restricted to a
// role. Evaluation is a pure function of a session snapshot, so a guard can
// be consulted (or discarded) at any point of the session lifecycle,
// including while the initial authentication check is still pending.
package guard

import (
	"github.com/jmcleod/deskd"
	"github.com/jmcleod/deskd/session"
)

// Default navigation targets, mirroring the application's route table.
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
)

// DefaultLanding maps a role to its post-login landing view.
var DefaultLanding = map[deskd.Role]string{
	deskd.RoleAdmin: "/admin/dashboard",
	deskd.RoleUser:  "/user/dashboard",
}

// Action is the kind of decision a policy produces.
type Action int

const (
	// ActionRender allows the requested view.
	ActionRender Action = iota
	// ActionLoading renders a transient loading state; the session has not
	// resolved yet.
	ActionLoading
	// ActionRedirect sends the navigation elsewhere.
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionRender:
		return "render"
	case ActionLoading:
		return "loading"
	case ActionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating a policy for a navigation.
type Decision struct {
	Action Action
	// Target is the redirect destination when Action is ActionRedirect.
	Target string
	// ReturnTo preserves the originally requested location across a
	// login redirect, so the user lands where they were headed.
	ReturnTo string
}

// Policy decides what to do with a navigation to the requested path given
// the session snapshot.
type Policy interface {
	Evaluate(snap session.Snapshot, requested string) Decision
}

// Public allows anonymous access; an already-authenticated user is sent to
// the landing view for their role instead.
type Public struct {
	// Landing overrides DefaultLanding when non-nil.
	Landing map[deskd.Role]string
}

var _ Policy = Public{}

func (p Public) Evaluate(snap session.Snapshot, requested string) Decision {
	if snap.User == nil {
		return Decision{Action: ActionRender}
	}
	landing := p.Landing
	if landing == nil {
		landing = DefaultLanding
	}
	target, ok := landing[snap.User.Role]
	if !ok {
		target = DefaultLanding[deskd.RoleUser]
	}
	return Decision{Action: ActionRedirect, Target: target}
}

// Authenticated requires any logged-in user. While the session is still
// loading it renders a transient loading state; an anonymous session is
// redirected to the login entry point with the requested location preserved.
type Authenticated struct {
	// Login overrides LoginPath when non-empty.
	Login string
}

var _ Policy = Authenticated{}

func (p Authenticated) Evaluate(snap session.Snapshot, requested string) Decision {
	if snap.Loading {
		return Decision{Action: ActionLoading}
	}
	if snap.User == nil {
		login := p.Login
		if login == "" {
			login = LoginPath
		}
		return Decision{Action: ActionRedirect, Target: login, ReturnTo: requested}
	}
	return Decision{Action: ActionRender}
}

// RoleRestricted requires an authenticated user holding a specific role;
// an authenticated user with a different role is sent to the unauthorized
// view rather than the protected one.
type RoleRestricted struct {
	Role deskd.Role
	// Login overrides LoginPath when non-empty.
	Login string
	// Unauthorized overrides UnauthorizedPath when non-empty.
	Unauthorized string
}

var _ Policy = RoleRestricted{}

func (p RoleRestricted) Evaluate(snap session.Snapshot, requested string) Decision {
	d := Authenticated{Login: p.Login}.Evaluate(snap, requested)
	if d.Action != ActionRender {
		return d
	}
	if snap.User.Role != p.Role {
		target := p.Unauthorized
		if target == "" {
			target = UnauthorizedPath
		}
		return Decision{Action: ActionRedirect, Target: target}
	}
	return Decision{Action: ActionRender}
}
