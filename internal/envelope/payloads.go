package envelope

// SDPPayload carries an SDP offer or answer.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload carries one trickled ICE candidate as a JSON-encoded
// ICECandidateInit, kept opaque so the wire format does not depend on the
// WebRTC library version.
type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

// CallRequestPayload announces an incoming call to each invited peer.
type CallRequestPayload struct {
	FromName     string   `json:"fromName,omitempty"`
	Participants []string `json:"participants"` // full invite list, caller included
}

// ParticipantState is the media state a participant announces about itself,
// carried by participant-update envelopes and roster resyncs.
type ParticipantState struct {
	VideoEnabled  bool `json:"videoEnabled"`
	AudioEnabled  bool `json:"audioEnabled"`
	ScreenSharing bool `json:"screenSharing"`
}

// RosterPayload lists the members of a document room. Sent by the relay on
// join/leave so clients can resync participant state.
type RosterPayload struct {
	Users []string `json:"users"`
}
