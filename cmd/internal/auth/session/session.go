package session

import (
	"strings"
	"time"
)

// RoleAdmin marks elevated accounts. Role claims may list several authorities
// ("ROLE_ADMIN,ROLE_STAFF"), so membership is a substring check.
const RoleAdmin = "ROLE_ADMIN"

// Session is the decoded, authenticated identity of the current user.
type Session struct {
	SubjectID   string
	Role        string
	DisplayName string
	ExpiresAt   time.Time
}

// IsElevated reports whether the session lands on the admin surface.
func (s Session) IsElevated() bool {
	return strings.Contains(s.Role, RoleAdmin)
}

// Same reports whether two sessions describe the same decoded credential.
func (s Session) Same(o Session) bool {
	return s.SubjectID == o.SubjectID &&
		s.Role == o.Role &&
		s.DisplayName == o.DisplayName &&
		s.ExpiresAt.Equal(o.ExpiresAt)
}

// Landing is a navigation target chosen by session transitions.
type Landing string

const (
	// LandingLogin is shown when no session exists.
	LandingLogin Landing = "/login"
	// LandingMain is the standard-role landing.
	LandingMain Landing = "/main"
	// LandingAdmin is the elevated-role landing.
	LandingAdmin Landing = "/admin"
)

// LandingFor returns the role-based landing of s.
func LandingFor(s Session) Landing {
	if s.IsElevated() {
		return LandingAdmin
	}
	return LandingMain
}

// Navigator receives redirects issued by Login and Logout.
type Navigator interface {
	Navigate(to Landing)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(Landing)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(to Landing) { f(to) }

// Transition describes one change of the current session.
// Prev is nil on login from an unauthenticated state; Next is nil on logout.
type Transition struct {
	Prev *Session
	Next *Session
}
