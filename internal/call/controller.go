package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/inkwire/inkwire/internal/envelope"
	"github.com/inkwire/inkwire/internal/media"
	"github.com/inkwire/inkwire/internal/util"
)

var (
	// ErrAlreadyInCall is returned when InitiateCall is invoked while a
	// session is pending or active.
	ErrAlreadyInCall = errors.New("call: already in a call")
	// ErrNotInCall is returned for operations that require an in-progress
	// session, such as media toggles.
	ErrNotInCall = errors.New("call: no call in progress")
	// ErrNotRinging is returned when Accept or Reject is invoked without a
	// pending incoming call.
	ErrNotRinging = errors.New("call: no incoming call pending")
)

// Sender delivers an envelope to the signaling transport.
type Sender func(*envelope.Envelope) error

// Link is the per-peer negotiation surface the controller drives.
// *peer.Link satisfies it; tests substitute fakes.
type Link interface {
	RemoteID() string
	Offer() error
	HandleOffer(sdp string) error
	HandleAnswer(sdp string) error
	AddRemoteCandidate(raw string) error
	AddLocalTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error)
	Close() error
}

// LinkFactory builds a negotiation link for one remote participant.
// onConnected fires once when the link reaches the connected state;
// onFatal fires at most once when the link is beyond recovery.
type LinkFactory func(remoteID, callID string, onConnected func(), onFatal func(error)) (Link, error)

// Media is the slice of the capture controller the session uses.
// *media.Controller satisfies it. A nil Media runs the session without
// local capture, which keeps degraded (device-less) operation working.
type Media interface {
	Acquire(ctx context.Context, video, audio bool) (media.Stream, error)
	StartScreenShare(ctx context.Context) (media.Stream, error)
	StopScreenShare(ctx context.Context, video, audio bool) (media.Stream, error)
	Sharing() bool
	Release()
}

// Options configures a Controller.
type Options struct {
	LocalID        string
	LocalName      string
	Send           Sender
	NewLink        LinkFactory
	Media          Media
	RequestTimeout time.Duration
}

// Controller owns the call session lifecycle: one state machine for the
// session as a whole and one Link per remote participant. All methods
// are safe for concurrent use.
type Controller struct {
	localID   string
	localName string
	send      Sender
	newLink   LinkFactory
	media     Media
	timeout   time.Duration

	events chan Event

	mu           sync.Mutex
	state        State
	callID       string
	incomingFrom string
	invited      map[string]bool
	participants map[string]envelope.ParticipantState
	links        map[string]Link
	connected    map[string]bool
	local        envelope.ParticipantState
	stream       media.Stream
	timer        *time.Timer
	startedAt    time.Time
}

// NewController builds an idle call controller.
func NewController(opts Options) *Controller {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Controller{
		localID:      opts.LocalID,
		localName:    opts.LocalName,
		send:         opts.Send,
		newLink:      opts.NewLink,
		media:        opts.Media,
		timeout:      opts.RequestTimeout,
		events:       make(chan Event, 64),
		state:        Idle,
		invited:      map[string]bool{},
		participants: map[string]envelope.ParticipantState{},
		links:        map[string]Link{},
		connected:    map[string]bool{},
	}
}

// Events exposes the session event stream. The channel is buffered;
// events are dropped with a warning if the consumer falls behind.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LocalState returns the advertised local media state.
func (c *Controller) LocalState() envelope.ParticipantState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Participants returns a copy of the known remote participant states.
func (c *Controller) Participants() map[string]envelope.ParticipantState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]envelope.ParticipantState, len(c.participants))
	for id, st := range c.participants {
		out[id] = st
	}
	return out
}

// InitiateCall invites peerIDs into a new call. Exactly one session may
// exist at a time; a second initiation fails fast with ErrAlreadyInCall
// and leaves the first session untouched.
func (c *Controller) InitiateCall(ctx context.Context, peerIDs []string) (string, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return "", ErrAlreadyInCall
	}
	if len(peerIDs) == 0 {
		c.mu.Unlock()
		return "", errors.New("call: no peers to invite")
	}
	callID := uuid.NewString()
	c.state = Requesting
	c.callID = callID
	c.local = envelope.ParticipantState{VideoEnabled: true, AudioEnabled: true}
	for _, id := range peerIDs {
		c.invited[id] = true
	}
	c.timer = time.AfterFunc(c.timeout, func() { c.onRequestTimeout(callID) })
	c.mu.Unlock()

	c.acquireCapture(ctx, callID, true, true)

	// The session may have been torn down while Acquire was blocked on a
	// slow device; inviting peers into a dead call helps nobody.
	c.mu.Lock()
	if c.callID != callID || c.state != Requesting {
		c.mu.Unlock()
		return callID, nil
	}
	c.mu.Unlock()

	payload := envelope.CallRequestPayload{FromName: c.localName, Participants: append([]string{c.localID}, peerIDs...)}
	for _, id := range peerIDs {
		c.sendEnvelope(envelope.New(envelope.TypeCallRequest, callID, c.localID, id, payload))
	}
	util.Infof("call %s: requesting %d peer(s)", callID, len(peerIDs))
	return callID, nil
}

// Accept answers the pending incoming call.
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Ringing {
		c.mu.Unlock()
		return ErrNotRinging
	}
	c.state = Connecting
	c.local = envelope.ParticipantState{VideoEnabled: true, AudioEnabled: true}
	callID, from := c.callID, c.incomingFrom
	c.mu.Unlock()

	c.acquireCapture(ctx, callID, true, true)

	c.mu.Lock()
	if c.callID != callID || c.state != Connecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.sendEnvelope(envelope.New(envelope.TypeCallAccept, callID, c.localID, from, nil))
	c.emit(Event{Kind: EventCallConnecting, CallID: callID})
	return nil
}

// Reject declines the pending incoming call and returns to idle.
func (c *Controller) Reject() error {
	c.mu.Lock()
	if c.state != Ringing {
		c.mu.Unlock()
		return ErrNotRinging
	}
	callID, from := c.callID, c.incomingFrom
	c.resetLocked()
	c.mu.Unlock()

	c.sendEnvelope(envelope.New(envelope.TypeCallReject, callID, c.localID, from, nil))
	return nil
}

// HangUp tears the session down. Peer links are closed and capture
// devices released before it returns, so a caller observing HangUp's
// return sees no camera or microphone still held.
func (c *Controller) HangUp() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.state = Ending
	callID := c.callID
	targets := c.peerSetLocked()
	links := c.drainLinksLocked()
	c.mu.Unlock()

	for _, id := range targets {
		c.sendEnvelope(envelope.New(envelope.TypeCallEnd, callID, c.localID, id, nil))
	}
	for _, l := range links {
		if err := l.Close(); err != nil {
			util.Debugf("call %s: close link %s: %v", callID, l.RemoteID(), err)
		}
	}
	c.releaseCapture()

	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	c.emit(Event{Kind: EventCallEnded, CallID: callID})
}

// TransportLost marks the session failed after the signaling transport
// stayed down past its grace period. Links are closed and devices
// released; the Failed state persists until Acknowledge.
func (c *Controller) TransportLost(err error) {
	c.mu.Lock()
	if c.state == Idle || c.state == Failed {
		c.mu.Unlock()
		return
	}
	c.state = Failed
	callID := c.callID
	links := c.drainLinksLocked()
	c.stopTimerLocked()
	c.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
	c.releaseCapture()
	c.emit(Event{Kind: EventSignalingError, CallID: callID, Err: fmt.Errorf("signaling transport lost: %w", err)})
}

// Acknowledge clears a Failed session back to idle.
func (c *Controller) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Failed {
		c.resetLocked()
	}
}

// ToggleVideo flips the local camera announcement. Toggles are
// optimistic: the local state and event land even if the broadcast
// cannot be delivered right now.
func (c *Controller) ToggleVideo() (bool, error) {
	return c.toggle(func(st *envelope.ParticipantState) bool {
		st.VideoEnabled = !st.VideoEnabled
		return st.VideoEnabled
	}, EventVideoToggled)
}

// ToggleAudio flips the local microphone announcement.
func (c *Controller) ToggleAudio() (bool, error) {
	return c.toggle(func(st *envelope.ParticipantState) bool {
		st.AudioEnabled = !st.AudioEnabled
		return st.AudioEnabled
	}, EventAudioToggled)
}

func (c *Controller) toggle(flip func(*envelope.ParticipantState) bool, kind EventKind) (bool, error) {
	c.mu.Lock()
	if !c.state.inCall() {
		c.mu.Unlock()
		return false, ErrNotInCall
	}
	enabled := flip(&c.local)
	callID, st := c.callID, c.local
	c.mu.Unlock()

	c.broadcastState(callID, st)
	c.emit(Event{Kind: kind, CallID: callID, UserID: c.localID, Enabled: enabled})
	return enabled, nil
}

// ToggleScreenShare swaps camera capture for display capture and back.
// Camera capture is stopped before the display is acquired so the two
// never run at once.
func (c *Controller) ToggleScreenShare(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.state.inCall() {
		c.mu.Unlock()
		return false, ErrNotInCall
	}
	callID := c.callID
	sharing := c.local.ScreenSharing
	c.mu.Unlock()

	if c.media != nil {
		var s media.Stream
		var err error
		if sharing {
			s, err = c.media.StopScreenShare(ctx, true, true)
		} else {
			s, err = c.media.StartScreenShare(ctx)
		}
		if err != nil {
			c.emit(Event{Kind: EventDeviceError, CallID: callID, Err: err})
			return sharing, err
		}
		c.swapStream(callID, s)
	}

	c.mu.Lock()
	c.local.ScreenSharing = !sharing
	st := c.local
	c.mu.Unlock()

	c.broadcastState(callID, st)
	c.emit(Event{Kind: EventScreenShareToggled, CallID: callID, UserID: c.localID, Enabled: !sharing})
	return !sharing, nil
}

// AnnounceState re-broadcasts the local media state. The session layer
// calls it on roster resync so participants that missed an update
// converge.
func (c *Controller) AnnounceState() {
	c.mu.Lock()
	if !c.state.inCall() {
		c.mu.Unlock()
		return
	}
	callID, st := c.callID, c.local
	c.mu.Unlock()
	c.broadcastState(callID, st)
}

// HandleEnvelope routes one inbound call-family envelope. Malformed or
// out-of-session messages are logged and dropped.
func (c *Controller) HandleEnvelope(env *envelope.Envelope) {
	switch env.Type {
	case envelope.TypeCallRequest:
		c.handleCallRequest(env)
	case envelope.TypeCallAccept:
		c.handleCallAccept(env)
	case envelope.TypeCallReject:
		c.handleCallReject(env)
	case envelope.TypeCallEnd:
		c.handleCallEnd(env)
	case envelope.TypeOffer:
		c.handleOffer(env)
	case envelope.TypeAnswer:
		c.handleAnswer(env)
	case envelope.TypeICECandidate:
		c.handleCandidate(env)
	case envelope.TypeParticipantUpdate:
		c.handleParticipantUpdate(env)
	default:
		util.Warnf("call: unexpected envelope type %q from %s", env.Type, env.FromUserID)
	}
}

func (c *Controller) handleCallRequest(env *envelope.Envelope) {
	var req envelope.CallRequestPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		util.Warnf("call: bad call-request from %s: %v", env.FromUserID, err)
		return
	}

	c.mu.Lock()
	if c.state != Idle {
		callID := env.CallID
		c.mu.Unlock()
		// Busy: decline automatically so the caller is not left waiting.
		c.sendEnvelope(envelope.New(envelope.TypeCallReject, callID, c.localID, env.FromUserID, nil))
		util.Infof("call: auto-rejected request from %s while busy", env.FromUserID)
		return
	}
	c.state = Ringing
	c.callID = env.CallID
	c.incomingFrom = env.FromUserID
	for _, id := range req.Participants {
		if id != c.localID && id != env.FromUserID {
			c.invited[id] = true
		}
	}
	c.participants[env.FromUserID] = envelope.ParticipantState{VideoEnabled: true, AudioEnabled: true}
	c.mu.Unlock()

	c.emit(Event{Kind: EventIncomingCall, CallID: env.CallID, UserID: env.FromUserID, Name: req.FromName})
}

func (c *Controller) handleCallAccept(env *envelope.Envelope) {
	c.mu.Lock()
	if env.CallID != c.callID || (c.state != Requesting && c.state != Connecting && c.state != Active) {
		c.mu.Unlock()
		util.Warnf("call: dropping accept from %s (state %s)", env.FromUserID, c.state)
		return
	}
	delete(c.invited, env.FromUserID)
	c.participants[env.FromUserID] = envelope.ParticipantState{VideoEnabled: true, AudioEnabled: true}
	first := c.state == Requesting
	if first {
		c.state = Connecting
		c.stopTimerLocked()
	}
	callID := c.callID
	c.mu.Unlock()

	if first {
		c.emit(Event{Kind: EventCallConnecting, CallID: callID})
	}
	c.emit(Event{Kind: EventParticipantJoined, CallID: callID, UserID: env.FromUserID})

	// The initiator offers; the acceptor waits for the offer.
	l, err := c.ensureLink(env.FromUserID)
	if err != nil {
		c.emit(Event{Kind: EventSignalingError, CallID: callID, UserID: env.FromUserID, Err: err})
		return
	}
	if err := l.Offer(); err != nil {
		util.Errorf("call %s: offer to %s: %v", callID, env.FromUserID, err)
		c.dropPeer(env.FromUserID)
	}
}

func (c *Controller) handleCallReject(env *envelope.Envelope) {
	c.mu.Lock()
	if env.CallID != c.callID || c.state == Idle {
		c.mu.Unlock()
		return
	}
	delete(c.invited, env.FromUserID)
	delete(c.participants, env.FromUserID)
	callID := c.callID
	// A session with nobody left to wait for or talk to goes back to idle.
	empty := len(c.invited) == 0 && len(c.links) == 0 && len(c.participants) == 0
	if empty {
		c.stopTimerLocked()
		c.resetLocked()
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventParticipantLeft, CallID: callID, UserID: env.FromUserID})
	if empty {
		c.releaseCapture()
		c.emit(Event{Kind: EventCallEnded, CallID: callID})
	}
}

func (c *Controller) handleCallEnd(env *envelope.Envelope) {
	c.mu.Lock()
	if env.CallID != c.callID || c.state == Idle {
		c.mu.Unlock()
		return
	}
	l := c.links[env.FromUserID]
	delete(c.links, env.FromUserID)
	delete(c.connected, env.FromUserID)
	delete(c.participants, env.FromUserID)
	delete(c.invited, env.FromUserID)
	callID := c.callID
	ringingFromCaller := c.state == Ringing && env.FromUserID == c.incomingFrom
	over := ringingFromCaller || (len(c.links) == 0 && len(c.invited) == 0)
	if over {
		c.state = Ending
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	if l != nil {
		l.Close()
	}
	c.emit(Event{Kind: EventParticipantLeft, CallID: callID, UserID: env.FromUserID})
	if over {
		c.releaseCapture()
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
		c.emit(Event{Kind: EventCallEnded, CallID: callID})
	}
}

func (c *Controller) handleOffer(env *envelope.Envelope) {
	var p envelope.SDPPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		util.Warnf("call: bad offer from %s: %v", env.FromUserID, err)
		return
	}
	l, ok := c.sessionLink(env)
	if !ok {
		return
	}
	if err := l.HandleOffer(p.SDP); err != nil {
		util.Errorf("call: offer from %s: %v", env.FromUserID, err)
	}
}

func (c *Controller) handleAnswer(env *envelope.Envelope) {
	var p envelope.SDPPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		util.Warnf("call: bad answer from %s: %v", env.FromUserID, err)
		return
	}
	l, ok := c.sessionLink(env)
	if !ok {
		return
	}
	if err := l.HandleAnswer(p.SDP); err != nil {
		util.Errorf("call: answer from %s: %v", env.FromUserID, err)
	}
}

func (c *Controller) handleCandidate(env *envelope.Envelope) {
	var p envelope.CandidatePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		util.Warnf("call: bad candidate from %s: %v", env.FromUserID, err)
		return
	}
	l, ok := c.sessionLink(env)
	if !ok {
		return
	}
	if err := l.AddRemoteCandidate(p.Candidate); err != nil {
		util.Warnf("call: candidate from %s: %v", env.FromUserID, err)
	}
}

func (c *Controller) handleParticipantUpdate(env *envelope.Envelope) {
	var st envelope.ParticipantState
	if err := json.Unmarshal(env.Data, &st); err != nil {
		util.Warnf("call: bad participant-update from %s: %v", env.FromUserID, err)
		return
	}
	c.mu.Lock()
	if env.CallID != c.callID || c.state == Idle {
		c.mu.Unlock()
		return
	}
	prev, known := c.participants[env.FromUserID]
	c.participants[env.FromUserID] = st
	callID := c.callID
	c.mu.Unlock()

	if !known {
		c.emit(Event{Kind: EventParticipantJoined, CallID: callID, UserID: env.FromUserID, State: st})
		return
	}
	if prev.VideoEnabled != st.VideoEnabled {
		c.emit(Event{Kind: EventVideoToggled, CallID: callID, UserID: env.FromUserID, Enabled: st.VideoEnabled})
	}
	if prev.AudioEnabled != st.AudioEnabled {
		c.emit(Event{Kind: EventAudioToggled, CallID: callID, UserID: env.FromUserID, Enabled: st.AudioEnabled})
	}
	if prev.ScreenSharing != st.ScreenSharing {
		c.emit(Event{Kind: EventScreenShareToggled, CallID: callID, UserID: env.FromUserID, Enabled: st.ScreenSharing})
	}
}

// sessionLink validates an SDP/candidate envelope against the current
// session and returns (creating if needed) the link for its sender.
func (c *Controller) sessionLink(env *envelope.Envelope) (Link, bool) {
	c.mu.Lock()
	if env.CallID != c.callID || !c.state.inCall() {
		state := c.state
		c.mu.Unlock()
		util.Warnf("call: dropping %s from %s (state %s)", env.Type, env.FromUserID, state)
		return nil, false
	}
	c.mu.Unlock()
	l, err := c.ensureLink(env.FromUserID)
	if err != nil {
		c.emit(Event{Kind: EventSignalingError, CallID: env.CallID, UserID: env.FromUserID, Err: err})
		return nil, false
	}
	return l, true
}

// ensureLink returns the link for remoteID, constructing one and
// attaching the local capture tracks on first use.
func (c *Controller) ensureLink(remoteID string) (Link, error) {
	c.mu.Lock()
	if l, ok := c.links[remoteID]; ok {
		c.mu.Unlock()
		return l, nil
	}
	callID := c.callID
	stream := c.stream
	c.mu.Unlock()

	l, err := c.newLink(remoteID, callID,
		func() { c.onLinkConnected(callID, remoteID) },
		func(err error) { c.onLinkFatal(callID, remoteID, err) })
	if err != nil {
		return nil, fmt.Errorf("create link for %s: %w", remoteID, err)
	}
	if stream != nil {
		for _, t := range stream.Tracks() {
			if _, err := l.AddLocalTrack(t); err != nil {
				util.Warnf("call %s: add track for %s: %v", callID, remoteID, err)
			}
		}
	}

	c.mu.Lock()
	if c.callID != callID {
		c.mu.Unlock()
		l.Close()
		return nil, errors.New("call: session ended during link setup")
	}
	if existing, ok := c.links[remoteID]; ok {
		c.mu.Unlock()
		l.Close()
		return existing, nil
	}
	c.links[remoteID] = l
	c.mu.Unlock()
	return l, nil
}

func (c *Controller) onLinkConnected(callID, remoteID string) {
	c.mu.Lock()
	if c.callID != callID {
		c.mu.Unlock()
		return
	}
	c.connected[remoteID] = true
	becameActive := c.state == Connecting
	if becameActive {
		c.state = Active
		c.startedAt = time.Now()
	}
	c.mu.Unlock()

	util.Infof("call %s: peer %s connected", callID, remoteID)
	if becameActive {
		c.emit(Event{Kind: EventCallActive, CallID: callID})
	}
}

func (c *Controller) onLinkFatal(callID, remoteID string, err error) {
	c.mu.Lock()
	if c.callID != callID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	util.Errorf("call %s: peer %s failed: %v", callID, remoteID, err)
	c.emit(Event{Kind: EventSignalingError, CallID: callID, UserID: remoteID, Err: err})
	c.dropPeer(remoteID)
}

// dropPeer removes one participant's link and ends the session when it
// was the last. Other participants stay connected.
func (c *Controller) dropPeer(remoteID string) {
	c.mu.Lock()
	l := c.links[remoteID]
	delete(c.links, remoteID)
	delete(c.connected, remoteID)
	delete(c.participants, remoteID)
	callID := c.callID
	over := c.state.inCall() && len(c.links) == 0 && len(c.invited) == 0
	if over {
		c.state = Ending
	}
	c.mu.Unlock()

	if l != nil {
		l.Close()
	}
	c.emit(Event{Kind: EventParticipantLeft, CallID: callID, UserID: remoteID})
	if over {
		c.releaseCapture()
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
		c.emit(Event{Kind: EventCallEnded, CallID: callID})
	}
}

func (c *Controller) onRequestTimeout(callID string) {
	c.mu.Lock()
	if c.callID != callID || c.state != Requesting {
		c.mu.Unlock()
		return
	}
	targets := c.peerSetLocked()
	c.resetLocked()
	c.mu.Unlock()

	for _, id := range targets {
		c.sendEnvelope(envelope.New(envelope.TypeCallEnd, callID, c.localID, id, nil))
	}
	c.releaseCapture()
	util.Warnf("call %s: request timed out", callID)
	c.emit(Event{Kind: EventCallTimedOut, CallID: callID})
}

func (c *Controller) acquireCapture(ctx context.Context, callID string, video, audio bool) {
	if c.media == nil {
		return
	}
	s, err := c.media.Acquire(ctx, video, audio)
	if err != nil {
		// Capture failure degrades the session, it does not end it.
		util.Warnf("call: capture unavailable: %v", err)
		c.mu.Lock()
		if c.callID != callID {
			c.mu.Unlock()
			return
		}
		c.local.VideoEnabled = false
		c.local.AudioEnabled = false
		c.mu.Unlock()
		c.emit(Event{Kind: EventDeviceError, CallID: callID, Err: err})
		return
	}
	c.swapStream(callID, s)
}

// swapStream installs a freshly acquired stream on the session's links. A
// session that ended while the acquire was blocked releases the stream
// instead of installing it, so no device handle outlives the hangup.
func (c *Controller) swapStream(callID string, s media.Stream) {
	c.mu.Lock()
	if c.callID != callID || c.state == Idle || c.state == Ending || c.state == Failed {
		c.mu.Unlock()
		if c.media != nil {
			c.media.Release()
		}
		return
	}
	c.stream = s
	links := make([]Link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()
	for _, l := range links {
		for _, t := range s.Tracks() {
			if _, err := l.AddLocalTrack(t); err != nil {
				util.Warnf("call %s: swap track for %s: %v", callID, l.RemoteID(), err)
			}
		}
	}
}

func (c *Controller) releaseCapture() {
	if c.media != nil {
		c.media.Release()
	}
	c.mu.Lock()
	c.stream = nil
	c.mu.Unlock()
}

func (c *Controller) broadcastState(callID string, st envelope.ParticipantState) {
	c.sendEnvelope(envelope.New(envelope.TypeParticipantUpdate, callID, c.localID, "", st))
}

func (c *Controller) sendEnvelope(env *envelope.Envelope) {
	if err := c.send(env); err != nil {
		util.Warnf("call: send %s: %v", env.Type, err)
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		util.Warnf("call: event consumer lagging, dropped %s", ev.Kind)
	}
}

// peerSetLocked lists everyone the session knows about, invited or joined.
func (c *Controller) peerSetLocked() []string {
	seen := map[string]bool{}
	for id := range c.invited {
		seen[id] = true
	}
	for id := range c.participants {
		seen[id] = true
	}
	if c.incomingFrom != "" {
		seen[c.incomingFrom] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func (c *Controller) drainLinksLocked() []Link {
	out := make([]Link, 0, len(c.links))
	for _, l := range c.links {
		out = append(out, l)
	}
	c.links = map[string]Link{}
	c.connected = map[string]bool{}
	return out
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) resetLocked() {
	c.stopTimerLocked()
	c.state = Idle
	c.callID = ""
	c.incomingFrom = ""
	c.invited = map[string]bool{}
	c.participants = map[string]envelope.ParticipantState{}
	c.links = map[string]Link{}
	c.connected = map[string]bool{}
	c.local = envelope.ParticipantState{}
	c.startedAt = time.Time{}
}
