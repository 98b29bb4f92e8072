// Package transport carries envelopes between a client and its document
// room. The production implementation speaks WebSocket to the relay; an
// in-memory pair exists for tests.
package transport

import "github.com/inkwire/inkwire/internal/envelope"

// Handler consumes one inbound envelope. Handlers for a single transport
// are invoked sequentially, preserving per-sender arrival order.
type Handler func(*envelope.Envelope)

// Transport is a connected signaling channel.
type Transport interface {
	// Send delivers an envelope to the room (broadcast) or to the peer
	// named by ToUserID. Delivery is at-most-once.
	Send(env *envelope.Envelope) error
	// Close tears the channel down. Safe to call more than once.
	Close() error
}
