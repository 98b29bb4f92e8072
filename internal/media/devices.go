package media

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// DeviceProvider backs the Provider contract with pion/mediadevices. Drivers
// are registered by the embedding application (blank imports of the platform
// driver packages); without them every acquire fails with a device-unavailable
// error, which callers already treat as a degraded-mode signal.
type DeviceProvider struct{}

// NewDeviceProvider returns the platform-backed provider.
func NewDeviceProvider() *DeviceProvider { return &DeviceProvider{} }

// Acquire opens the camera and/or microphone.
func (p *DeviceProvider) Acquire(_ context.Context, video, audio bool) (Stream, error) {
	if !video && !audio {
		return nil, fmt.Errorf("acquire with neither video nor audio")
	}

	constraints := mediadevices.MediaStreamConstraints{}
	if video {
		constraints.Video = func(_ *mediadevices.MediaTrackConstraints) {}
	}
	if audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("GetUserMedia: %w", err)
	}
	return &deviceStream{ms: ms}, nil
}

// AcquireDisplay opens a screen capture.
func (p *DeviceProvider) AcquireDisplay(_ context.Context) (Stream, error) {
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("GetDisplayMedia: %w", err)
	}
	return &deviceStream{ms: ms}, nil
}

type deviceStream struct {
	ms mediadevices.MediaStream
}

func (s *deviceStream) Tracks() []webrtc.TrackLocal {
	tracks := s.ms.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

func (s *deviceStream) Close() error {
	var first error
	for _, t := range s.ms.GetTracks() {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
