// Package session glues one document's realtime state together: it routes
// inbound envelopes to the annotation, presence, and call layers, and turns
// local edits into broadcasts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/inkwire/inkwire/internal/annotation"
	"github.com/inkwire/inkwire/internal/call"
	"github.com/inkwire/inkwire/internal/config"
	"github.com/inkwire/inkwire/internal/envelope"
	"github.com/inkwire/inkwire/internal/peer"
	"github.com/inkwire/inkwire/internal/presence"
	"github.com/inkwire/inkwire/internal/render"
	"github.com/inkwire/inkwire/internal/transport"
	"github.com/inkwire/inkwire/internal/util"
)

var errNoTransport = errors.New("session: no transport attached")

// Options configures a document session.
type Options struct {
	UserID      string
	DisplayName string
	DocumentID  string
	Config      config.Config
	Media       call.Media
	// NewLink overrides the pion link factory; tests inject fakes here.
	NewLink call.LinkFactory
	// OnTrack receives remote media from every peer link.
	OnTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	// Now overrides the op clock; nil uses wall time.
	Now func() int64
}

// Session is the per-document coordinator. One session exists per open
// document and owns its stores, its call controller, and its transport.
type Session struct {
	userID string
	docID  string
	cfg    config.Config

	ann   *annotation.Store
	pres  *presence.Store
	calls *call.Controller
	ids   *annotation.IDGen
	now   func() int64

	mu sync.Mutex
	tr transport.Transport
}

// New assembles a session. The transport is attached separately with
// Attach so tests can wire an in-process pair.
func New(opts Options) *Session {
	cfg := opts.Config
	if cfg.CallRequestTimeout == 0 {
		cfg = config.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}

	s := &Session{
		userID: opts.UserID,
		docID:  opts.DocumentID,
		cfg:    cfg,
		ann:    annotation.NewStore(),
		pres:   presence.NewStore(opts.UserID, cfg.PresenceStaleAfter, cfg.PresenceRateLimit),
		ids:    annotation.NewIDGen(opts.UserID),
		now:    now,
	}

	newLink := opts.NewLink
	if newLink == nil {
		newLink = func(remoteID, callID string, onConnected func(), onFatal func(error)) (call.Link, error) {
			l, err := peer.Connect(context.Background(), opts.UserID, remoteID, callID,
				s.send, peer.Hooks{OnConnected: onConnected, OnFatal: onFatal},
				peer.Options{
					STUNServers:   cfg.STUNServers,
					GatherTimeout: cfg.ICEGatherTimeout,
					OnTrack:       opts.OnTrack,
				})
			if err != nil {
				return nil, err
			}
			return l, nil
		}
	}
	s.calls = call.NewController(call.Options{
		LocalID:        opts.UserID,
		LocalName:      opts.DisplayName,
		Send:           s.send,
		NewLink:        newLink,
		Media:          opts.Media,
		RequestTimeout: cfg.CallRequestTimeout,
	})
	return s
}

// Attach installs the transport. HandleEnvelope is safe to call before
// Attach; sends simply fail until a transport exists.
func (s *Session) Attach(tr transport.Transport) {
	s.mu.Lock()
	s.tr = tr
	s.mu.Unlock()
}

// Calls exposes the call controller for UI commands.
func (s *Session) Calls() *call.Controller { return s.calls }

// Events exposes the session event stream for the notification bridge.
func (s *Session) Events() <-chan call.Event { return s.calls.Events() }

// Annotations exposes the annotation store for read paths.
func (s *Session) Annotations() *annotation.Store { return s.ann }

// Presence exposes the presence store for read paths.
func (s *Session) Presence() *presence.Store { return s.pres }

// Frame builds the current draw list for a page.
func (s *Session) Frame(page int) render.Frame {
	return render.BuildFrame(s.ann, s.pres, page)
}

func (s *Session) send(env *envelope.Envelope) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return errNoTransport
	}
	return tr.Send(env)
}

// Run drives the periodic work: presence purge and tombstone compaction.
// It blocks until the context is cancelled.
func (s *Session) Run(ctx context.Context) {
	purge := time.NewTicker(s.cfg.PresenceStaleAfter / 2)
	defer purge.Stop()
	compact := time.NewTicker(s.cfg.TombstoneHorizon)
	defer compact.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			for _, id := range s.pres.Purge() {
				util.Debugf("presence: purged stale user %s", id)
			}
		case <-compact.C:
			if n := s.ann.Compact(time.Now(), s.cfg.TombstoneHorizon); n > 0 {
				util.Debugf("annotations: compacted %d tombstone(s)", n)
			}
		}
	}
}

// TransportUp is called on every (re)connection. State that peers may
// have missed during the outage is re-announced.
func (s *Session) TransportUp() {
	s.calls.AnnounceState()
	if e, ok := s.pres.Self(); ok {
		s.broadcastPresence(e)
	}
}

// TransportDown is called after the reconnect grace period expires.
func (s *Session) TransportDown(err error) {
	s.calls.TransportLost(err)
}

// HandleEnvelope routes one inbound envelope. Unknown types are logged
// and dropped so protocol growth never crashes an old client.
func (s *Session) HandleEnvelope(env *envelope.Envelope) {
	switch env.Type {
	case envelope.TypeAnnotationOp:
		s.handleAnnotationOp(env)
	case envelope.TypePresence, envelope.TypeTyping:
		s.handlePresence(env)
	case envelope.TypeRoster:
		s.handleRoster(env)
	case envelope.TypeOffer, envelope.TypeAnswer, envelope.TypeICECandidate,
		envelope.TypeCallRequest, envelope.TypeCallAccept, envelope.TypeCallReject,
		envelope.TypeCallEnd, envelope.TypeParticipantUpdate:
		s.calls.HandleEnvelope(env)
	case envelope.TypeJoinRoom, envelope.TypeLeaveRoom:
		// Membership is relay-managed; the roster that follows carries
		// the authoritative list.
	default:
		util.Warnf("session: dropping unknown envelope type %q from %s", env.Type, env.FromUserID)
	}
}

func (s *Session) handleAnnotationOp(env *envelope.Envelope) {
	op, err := annotation.DecodeOp(env.Data)
	if err != nil {
		util.Warnf("session: bad annotation op from %s: %v", env.FromUserID, err)
		return
	}
	// Authorship comes from the transport-verified sender, never from
	// the payload.
	if op.Kind == annotation.OpCreate && op.Annotation.AuthorID != env.FromUserID {
		util.Warnf("session: dropping create with forged author %q from %s",
			op.Annotation.AuthorID, env.FromUserID)
		return
	}
	s.ann.Apply(op)
}

func (s *Session) handlePresence(env *envelope.Envelope) {
	e, err := presence.DecodeEntry(env.Data)
	if err != nil {
		util.Warnf("session: bad presence from %s: %v", env.FromUserID, err)
		return
	}
	e.UserID = env.FromUserID
	s.pres.ApplyRemote(e)
}

func (s *Session) handleRoster(env *envelope.Envelope) {
	var roster envelope.RosterPayload
	if err := json.Unmarshal(env.Data, &roster); err != nil {
		util.Warnf("session: bad roster: %v", err)
		return
	}
	present := map[string]bool{}
	for _, id := range roster.Users {
		present[id] = true
	}
	for _, e := range s.pres.Snapshot() {
		if !present[e.UserID] {
			s.pres.Remove(e.UserID)
		}
	}
	// A roster means membership changed; peers that just joined or
	// reconnected need the current media state again.
	s.calls.AnnounceState()
}

// CreateAnnotation commits a local annotation and broadcasts it.
func (s *Session) CreateAnnotation(a annotation.Annotation) (string, error) {
	a.ID = s.ids.Next()
	a.AuthorID = s.userID
	a.CreatedAt = s.now()
	a.Replies = nil
	op := &annotation.Op{Kind: annotation.OpCreate, ID: a.ID, Annotation: &a}
	// A locally rejected op never goes out; every replica would drop it too.
	if !s.ann.Apply(op) {
		return "", fmt.Errorf("session: annotation rejected, kind %q", a.Kind)
	}
	return a.ID, s.broadcastOp(op)
}

// UpdateAnnotation applies a local field patch and broadcasts it.
func (s *Session) UpdateAnnotation(id string, patch annotation.FieldPatch) error {
	op := &annotation.Op{Kind: annotation.OpUpdate, ID: id, Patch: &patch, TS: s.now()}
	s.ann.Apply(op)
	return s.broadcastOp(op)
}

// DeleteAnnotation tombstones an annotation locally and broadcasts it.
func (s *Session) DeleteAnnotation(id string) error {
	op := &annotation.Op{Kind: annotation.OpDelete, ID: id, TS: s.now()}
	s.ann.Apply(op)
	return s.broadcastOp(op)
}

// AddReply appends a reply to a live annotation and broadcasts it.
func (s *Session) AddReply(annID, content string) error {
	r := &annotation.Reply{
		ID:        s.ids.Next(),
		AuthorID:  s.userID,
		Content:   content,
		CreatedAt: s.now(),
	}
	op := &annotation.Op{Kind: annotation.OpReply, ID: annID, Reply: r}
	if !s.ann.Apply(op) {
		return fmt.Errorf("session: no live annotation %s to reply to", annID)
	}
	return s.broadcastOp(op)
}

func (s *Session) broadcastOp(op *annotation.Op) error {
	return s.send(envelope.New(envelope.TypeAnnotationOp, "", s.userID, "", op))
}

// MoveCursor records the local pointer and broadcasts it, rate limited.
// Screen coordinates are divided by scale so peers at other zoom levels
// see the same document position.
func (s *Session) MoveCursor(page int, x, y, scale float64) {
	e, broadcast := s.pres.UpdateLocal(page, x, y, scale)
	if broadcast {
		s.broadcastPresence(e)
	}
}

// SetTyping flags the local user as typing; the change is always sent.
func (s *Session) SetTyping(typing bool) {
	e := s.pres.SetTypingLocal(typing)
	if err := s.send(envelope.New(envelope.TypeTyping, "", s.userID, "", e)); err != nil {
		util.Debugf("session: typing broadcast: %v", err)
	}
}

func (s *Session) broadcastPresence(e presence.Entry) {
	if err := s.send(envelope.New(envelope.TypePresence, "", s.userID, "", e)); err != nil {
		util.Debugf("session: presence broadcast: %v", err)
	}
}
