// Package media mediates access to the local capture devices. The camera/mic
// pair is a single exclusive resource: one capture session at a time, screen
// capture swapped in and out rather than held alongside, and a synchronous
// release so no device handle dangles after hangup.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrCaptureBusy is returned when a second capture session is requested while
// one is already held.
var ErrCaptureBusy = errors.New("media: capture already in progress")

// Stream is one acquired capture session. Closing it stops every track.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// Provider acquires capture sessions from the platform. Both calls are
// fallible — permission denial and busy devices are normal outcomes the
// caller degrades around, not reasons to abort a call.
type Provider interface {
	Acquire(ctx context.Context, video, audio bool) (Stream, error)
	AcquireDisplay(ctx context.Context) (Stream, error)
}

// Controller enforces the exclusive-capture policy on top of a Provider.
type Controller struct {
	provider Provider

	mu      sync.Mutex
	capture Stream // camera/mic session
	display Stream // screen session, mutually exclusive with capture video
}

// NewController creates a controller over the given provider.
func NewController(p Provider) *Controller {
	return &Controller{provider: p}
}

// Acquire opens the camera/mic session. A second acquire while one is held
// fails fast instead of racing the device.
func (c *Controller) Acquire(ctx context.Context, video, audio bool) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil, ErrCaptureBusy
	}
	s, err := c.provider.Acquire(ctx, video, audio)
	if err != nil {
		return nil, fmt.Errorf("acquire devices: %w", err)
	}
	c.capture = s
	return s, nil
}

// StartScreenShare swaps the camera session for a display capture. The camera
// is released first — the two are never held together.
func (c *Controller) StartScreenShare(ctx context.Context) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.display != nil {
		return c.display, nil
	}
	if c.capture != nil {
		_ = c.capture.Close()
		c.capture = nil
	}
	s, err := c.provider.AcquireDisplay(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire display: %w", err)
	}
	c.display = s
	return s, nil
}

// StopScreenShare releases the display capture and reopens the camera/mic
// session with the given constraints.
func (c *Controller) StopScreenShare(ctx context.Context, video, audio bool) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.display != nil {
		_ = c.display.Close()
		c.display = nil
	}
	if c.capture != nil {
		return c.capture, nil
	}
	s, err := c.provider.Acquire(ctx, video, audio)
	if err != nil {
		return nil, fmt.Errorf("reacquire devices: %w", err)
	}
	c.capture = s
	return s, nil
}

// Sharing reports whether a display capture is currently held.
func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display != nil
}

// Release stops every held capture session synchronously.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		_ = c.capture.Close()
		c.capture = nil
	}
	if c.display != nil {
		_ = c.display.Close()
		c.display = nil
	}
}
