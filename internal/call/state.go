// Package call implements the call-level state machine coordinating one
// PeerLink per remote participant over the signaling transport.
package call

// State is the lifecycle position of the local call session.
type State int

const (
	// Idle: no call pending or active.
	Idle State = iota
	// Requesting: we sent call-requests and are waiting for an accept.
	Requesting
	// Ringing: a remote call-request is waiting for the local user's decision.
	Ringing
	// Connecting: accepts exchanged, per-peer negotiation in flight.
	Connecting
	// Active: at least one peer link is connected.
	Active
	// Ending: hangup received or issued, cleanup in progress.
	Ending
	// Failed: unrecoverable error; waits for a user acknowledgement.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Ringing:
		return "ringing"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Ending:
		return "ending"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// inCall reports whether media toggles are valid in this state.
func (s State) inCall() bool {
	return s == Connecting || s == Active
}
