// Package ac implements the PPPoE access concentrator: the discovery
// state machine, the session table and session-id allocator, and the
// epoll-driven event loop that ties them to a pair of raw Ethernet
// sockets (spec §4.3). It depends on services only through the Service
// interface below — the "polymorphism over Service" design note — so it
// never knows what backs a session (a serial modem, or anything else
// implementing the interface).
package ac

import "github.com/sde1000/pppoe-serial-bridge/internal/wire"

// ServiceState is the lifecycle state of a Service.
type ServiceState int

const (
	StateIdle ServiceState = iota
	StateDialing
	StateConnected
)

func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Service is a named PPP endpoint that terminates at most one session at
// a time. A binding (AC, peer, session id) is present iff State() is not
// StateIdle; Peer and SessionID return the zero value otherwise.
type Service interface {
	Name() string
	State() ServiceState
	Peer() wire.MAC
	SessionID() uint16

	// Connect binds the service to a newly allocated session and brings
	// up whatever transport backs it (e.g. dialing a modem, possibly
	// running a chat script). It may block the AC's event loop for the
	// duration (spec §5, "Chat script phase"). An error means the
	// service could not be brought up; the AC will not create a session
	// and reports the failure to the peer.
	Connect(ac *AC, peer wire.MAC, sessionID uint16) error

	// Disconnect releases whatever Connect acquired and returns the
	// service to StateIdle. It is called both for peer-initiated
	// teardown (PADT received, takeover) and service-initiated closure.
	Disconnect()

	// ProcessSessionPayload delivers one PPP payload received for this
	// service's current session, in wire order.
	ProcessSessionPayload(payload []byte)
}
