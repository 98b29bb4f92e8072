// Package notify turns session events into terminal toasts. It carries no
// state of its own; dropping it changes nothing about call behavior.
package notify

import (
	"context"

	"github.com/pterm/pterm"

	"github.com/inkwire/inkwire/internal/call"
)

// Bridge renders call/session events as pterm notifications.
type Bridge struct {
	events <-chan call.Event
}

// NewBridge wires the bridge to an event stream, normally
// Controller.Events().
func NewBridge(events <-chan call.Event) *Bridge {
	return &Bridge{events: events}
}

// Run consumes events until the context is cancelled or the stream closes.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			b.show(ev)
		}
	}
}

func (b *Bridge) show(ev call.Event) {
	switch ev.Kind {
	case call.EventIncomingCall:
		name := ev.Name
		if name == "" {
			name = ev.UserID
		}
		pterm.Info.Printfln("Incoming call from %s", name)
	case call.EventCallConnecting:
		pterm.Info.Printfln("Call connecting...")
	case call.EventCallActive:
		pterm.Success.Printfln("Call active")
	case call.EventCallEnded:
		pterm.Info.Printfln("Call ended")
	case call.EventCallTimedOut:
		pterm.Warning.Printfln("Call request timed out")
	case call.EventParticipantJoined:
		pterm.Info.Printfln("%s joined the call", ev.UserID)
	case call.EventParticipantLeft:
		pterm.Info.Printfln("%s left the call", ev.UserID)
	case call.EventVideoToggled:
		pterm.Info.Printfln("%s turned camera %s", ev.UserID, onOff(ev.Enabled))
	case call.EventAudioToggled:
		pterm.Info.Printfln("%s turned microphone %s", ev.UserID, onOff(ev.Enabled))
	case call.EventScreenShareToggled:
		if ev.Enabled {
			pterm.Info.Printfln("%s started sharing their screen", ev.UserID)
		} else {
			pterm.Info.Printfln("%s stopped sharing their screen", ev.UserID)
		}
	case call.EventDeviceError:
		pterm.Warning.Printfln("Media devices unavailable: %v", ev.Err)
	case call.EventSignalingError:
		pterm.Error.Printfln("Call error: %v", ev.Err)
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
