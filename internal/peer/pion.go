package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/inkwire/inkwire/internal/envelope"
	"github.com/inkwire/inkwire/internal/util"
)

// Options configures the native connection behind a Link.
type Options struct {
	STUNServers   []string
	GatherTimeout time.Duration // cap on ICE gathering; the set collected so far is used as-is

	// OnTrack receives inbound remote media; nil means media is ignored
	// (signaling-only link, still useful in tests and headless runs).
	OnTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// Connect creates a pion-backed Link to the given remote participant and
// wires trickle ICE and connection-state callbacks. The link sends candidates
// as they are gathered; ICE gathering is additionally bounded by
// GatherTimeout so a stuck gatherer never blocks the call silently.
func Connect(ctx context.Context, localID, remoteID, callID string, send SendFunc, hooks Hooks, opts Options) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: opts.STUNServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	// Always negotiate audio+video m-lines, even with no local capture, so
	// the SDP carries valid ICE credentials and remote media can flow.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	link := NewLink(localID, remoteID, callID, pc, send, hooks)

	// Trickle ICE: forward each gathered candidate through signaling. A nil
	// candidate marks the end of gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		env := envelope.New(envelope.TypeICECandidate, callID, localID, remoteID,
			envelope.CandidatePayload{Candidate: string(data)})
		// Error intentionally ignored: candidate delivery is best-effort.
		_ = send(env)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.Debugf("link %s→%s state: %s", localID, remoteID, state)
		link.HandleConnectionState(state)
	})

	if opts.OnTrack != nil {
		pc.OnTrack(opts.OnTrack)
	}

	// Bound ICE gathering: once the timeout passes, whatever was gathered is
	// what the negotiation runs with.
	if opts.GatherTimeout > 0 {
		gathered := webrtc.GatheringCompletePromise(pc)
		go func() {
			select {
			case <-gathered:
			case <-time.After(opts.GatherTimeout):
				util.Warnf("link %s→%s: ICE gathering timed out, using partial candidate set", localID, remoteID)
			case <-ctx.Done():
			}
		}()
	}

	return link, nil
}
