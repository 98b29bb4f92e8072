package transport

import (
	"errors"
	"sync"

	"github.com/inkwire/inkwire/internal/envelope"
)

// memoryTransport is one end of an in-process envelope channel.
type memoryTransport struct {
	out chan []byte

	mu     sync.Mutex
	closed bool
}

// Pair wires two transports back to back: what one sends, the other's
// handler receives, in order, after a real encode/decode round trip.
// Both ends must be closed by the caller.
func Pair(a, b Handler) (Transport, Transport) {
	left := &memoryTransport{out: make(chan []byte, 256)}
	right := &memoryTransport{out: make(chan []byte, 256)}
	go pump(left.out, b)
	go pump(right.out, a)
	return left, right
}

// pump delivers frames one at a time so arrival order matches send order.
func pump(ch <-chan []byte, h Handler) {
	for frame := range ch {
		env, err := envelope.Decode(frame)
		if err != nil {
			continue
		}
		h(env)
	}
}

func (m *memoryTransport) Send(env *envelope.Envelope) error {
	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("transport closed")
	}
	m.out <- frame
	return nil
}

func (m *memoryTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.out)
	}
	return nil
}
