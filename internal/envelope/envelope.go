// Package envelope defines the signaling wire format exchanged between peers.
//
// An Envelope is the only bit-exact contract of the realtime layer: everything
// that crosses the relay — call signaling, annotation ops, presence — travels
// inside one. Envelopes are addressed point-to-point via ToUserID except the
// broadcast types, which fan out to the whole document room.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of signaling envelope.
type Type string

// Call signaling types, addressed point-to-point.
const (
	TypeOffer             Type = "offer"
	TypeAnswer            Type = "answer"
	TypeICECandidate      Type = "ice-candidate"
	TypeCallRequest       Type = "call-request"
	TypeCallAccept        Type = "call-accept"
	TypeCallReject        Type = "call-reject"
	TypeCallEnd           Type = "call-end"
	TypeParticipantUpdate Type = "participant-update" // broadcast to the room
)

// Document-room types, broadcast unless noted.
const (
	TypeAnnotationOp Type = "annotation-op"
	TypePresence     Type = "presence"
	TypeTyping       Type = "typing"
	TypeJoinRoom     Type = "join-room"
	TypeLeaveRoom    Type = "leave-room"
	TypeRoster       Type = "roster" // relay → clients, lists room members
)

// Envelope is the JSON frame carried by the signaling transport.
type Envelope struct {
	Type       Type            `json:"type"`
	CallID     string          `json:"callId,omitempty"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Broadcast reports whether the envelope should fan out to the whole room
// rather than being delivered to a single named peer.
func (e *Envelope) Broadcast() bool {
	return e.ToUserID == ""
}

// Encode serializes an envelope for transmission.
func Encode(e *Envelope) ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("envelope has no type")
	}
	return json.Marshal(e)
}

// Decode parses a received frame. Payload contents are left opaque; consumers
// unmarshal Data themselves and drop what they cannot parse.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("envelope has no type")
	}
	return &e, nil
}

// New builds an envelope, marshalling payload into Data. Payloads are the
// fixed structs of this package and always marshal; a nil payload leaves
// Data empty.
func New(t Type, callID, from, to string, payload any) *Envelope {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return &Envelope{
		Type:       t,
		CallID:     callID,
		FromUserID: from,
		ToUserID:   to,
		Data:       raw,
	}
}
