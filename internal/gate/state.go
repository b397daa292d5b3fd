package gate

import (
	"github.com/cantierecloud/backoffice/internal/identity"
	"github.com/cantierecloud/backoffice/internal/profiles"
)

// State is the session lifecycle position. The machine runs for the lifetime
// of the process; there is no terminal state.
type State int

const (
	// StateUnauthenticated means no principal is present.
	StateUnauthenticated State = iota
	// StateResolving means the provider reported a principal and the
	// matching profile load is in flight.
	StateResolving
	// StateAuthenticated means a principal and its profile are both held.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Session is the current identity/profile pair. Valid only while the gate is
// in StateAuthenticated.
type Session struct {
	Identity identity.Identity
	Profile  profiles.Profile
}
