// Package peer owns the per-remote-participant media connection: the SDP
// offer/answer exchange, early ICE candidate buffering, glare resolution, and
// the single automatic recovery attempt on negotiation failure.
package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/inkwire/inkwire/internal/envelope"
	"github.com/inkwire/inkwire/internal/util"
)

// Conn is the slice of the native connection the negotiation logic needs.
// *webrtc.PeerConnection satisfies it; tests substitute a recorder.
type Conn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	Close() error
}

// SendFunc delivers a signaling envelope to the remote peer, best-effort.
type SendFunc func(*envelope.Envelope) error

// Hooks are the callbacks a Link surfaces to its owner.
type Hooks struct {
	OnConnected func()          // fired once when the link reaches connected
	OnFatal     func(err error) // negotiation failed beyond recovery
}

// Link wraps one negotiated media connection to a single remote participant.
//
// Candidates that arrive before the remote description is set are buffered and
// flushed immediately after SetRemoteDescription succeeds — dropping early
// candidates is a classic negotiation bug, so the buffer is not optional.
//
// Glare: when both sides offer at once, the offer from the lexicographically
// smaller userId wins. The side with the larger id rolls back its own offer
// and answers the remote one; the smaller side ignores the competing offer
// while its own is outstanding.
type Link struct {
	localID  string
	remoteID string
	callID   string

	pc   Conn
	send SendFunc

	mu               sync.Mutex
	remoteSet        bool
	pending          []webrtc.ICECandidateInit
	offerOutstanding bool
	renegotiated     bool
	connectedFired   bool
	closed           bool

	hooks Hooks
}

// NewLink wires a Link over an already-created connection. Use Connect for
// the production path backed by pion.
func NewLink(localID, remoteID, callID string, pc Conn, send SendFunc, hooks Hooks) *Link {
	return &Link{
		localID:  localID,
		remoteID: remoteID,
		callID:   callID,
		pc:       pc,
		send:     send,
		hooks:    hooks,
	}
}

// RemoteID returns the remote participant this link negotiates with.
func (l *Link) RemoteID() string { return l.remoteID }

// Offer starts (or restarts) negotiation: create an offer, set it locally,
// and send it to the remote peer.
func (l *Link) Offer() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offerLocked()
}

func (l *Link) offerLocked() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	l.offerOutstanding = true
	l.remoteSet = false

	return l.send(envelope.New(envelope.TypeOffer, l.callID, l.localID, l.remoteID,
		envelope.SDPPayload{SDP: offer.SDP}))
}

// HandleOffer processes a remote offer, resolving glare first when the link
// has its own offer outstanding.
func (l *Link) HandleOffer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.offerOutstanding {
		if l.remoteID > l.localID {
			// Our offer wins; the remote side rolls back. Ignore theirs.
			util.Debugf("[%s] ignoring competing offer from %s", l.localID, l.remoteID)
			return nil
		}
		// Their offer wins. Roll back ours and answer theirs.
		if err := l.pc.SetLocalDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeRollback,
		}); err != nil {
			return fmt.Errorf("rollback local offer: %w", err)
		}
		l.offerOutstanding = false
	}

	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	l.remoteSet = true
	l.flushPendingLocked()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}

	return l.send(envelope.New(envelope.TypeAnswer, l.callID, l.localID, l.remoteID,
		envelope.SDPPayload{SDP: answer.SDP}))
}

// HandleAnswer completes a negotiation this side started. Answers with no
// outstanding offer are stale (e.g. after a glare rollback) and dropped.
func (l *Link) HandleAnswer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.offerOutstanding {
		util.Debugf("[%s] dropping stale answer from %s", l.localID, l.remoteID)
		return nil
	}
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: sdp,
	}); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	l.offerOutstanding = false
	l.remoteSet = true
	l.flushPendingLocked()
	return nil
}

// AddRemoteCandidate feeds one trickled candidate, buffering it when the
// remote description is not set yet.
func (l *Link) AddRemoteCandidate(raw string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		return fmt.Errorf("malformed ICE candidate: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.remoteSet {
		l.pending = append(l.pending, init)
		return nil
	}
	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}
	return nil
}

// flushPendingLocked applies buffered candidates in arrival order. Individual
// failures are logged, not fatal — losing one candidate degrades the path, it
// does not invalidate the negotiation.
func (l *Link) flushPendingLocked() {
	for _, init := range l.pending {
		if err := l.pc.AddICECandidate(init); err != nil {
			util.Warnf("[%s] buffered candidate rejected: %v", l.localID, err)
		}
	}
	l.pending = nil
}

// HandleConnectionState reacts to the native connection-state callback:
// connected fires the owner hook once; failed triggers one automatic re-offer
// before the failure is surfaced as fatal for this peer only.
func (l *Link) HandleConnectionState(state webrtc.PeerConnectionState) {
	l.mu.Lock()

	switch state {
	case webrtc.PeerConnectionStateConnected:
		fire := !l.connectedFired
		l.connectedFired = true
		l.mu.Unlock()
		if fire && l.hooks.OnConnected != nil {
			l.hooks.OnConnected()
		}

	case webrtc.PeerConnectionStateFailed:
		if l.closed {
			l.mu.Unlock()
			return
		}
		if !l.renegotiated {
			l.renegotiated = true
			util.Warnf("[%s] link to %s failed, attempting one re-negotiation", l.localID, l.remoteID)
			err := l.offerLocked()
			l.mu.Unlock()
			if err != nil && l.hooks.OnFatal != nil {
				l.hooks.OnFatal(fmt.Errorf("re-negotiation with %s: %w", l.remoteID, err))
			}
			return
		}
		l.mu.Unlock()
		if l.hooks.OnFatal != nil {
			l.hooks.OnFatal(fmt.Errorf("connection to %s failed", l.remoteID))
		}

	default:
		l.mu.Unlock()
	}
}

// AddLocalTrack attaches an outbound media track, returning the sender so the
// owner can swap tracks (camera ↔ screen) without re-negotiating.
func (l *Link) AddLocalTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return l.pc.AddTrack(t)
}

// Close tears the link down. Idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.pending = nil
	l.mu.Unlock()
	return l.pc.Close()
}
