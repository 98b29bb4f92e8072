package call

import "github.com/inkwire/inkwire/internal/envelope"

// EventKind classifies session events delivered to the UI layer.
type EventKind string

const (
	EventIncomingCall       EventKind = "incoming-call"
	EventCallConnecting     EventKind = "call-connecting"
	EventCallActive         EventKind = "call-active"
	EventCallEnded          EventKind = "call-ended"
	EventCallTimedOut       EventKind = "call-timed-out"
	EventParticipantJoined  EventKind = "participant-joined"
	EventParticipantLeft    EventKind = "participant-left"
	EventVideoToggled       EventKind = "video-toggled"
	EventAudioToggled       EventKind = "audio-toggled"
	EventScreenShareToggled EventKind = "screen-share-toggled"
	EventSignalingError     EventKind = "signaling-error"
	EventDeviceError        EventKind = "device-error"
)

// Event is a single user-visible occurrence in the call session.
// UserID names the remote participant the event concerns, or is empty
// for events about the session as a whole. For toggle events Enabled
// carries the new on/off value.
type Event struct {
	Kind    EventKind
	CallID  string
	UserID  string
	Name    string
	Enabled bool
	State   envelope.ParticipantState
	Err     error
}
