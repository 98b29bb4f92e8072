package peer

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/inkwire/inkwire/internal/envelope"
)

// fakeConn records the operations the negotiation logic performs.
type fakeConn struct {
	ops        []string
	candidates []webrtc.ICECandidateInit
	failOffer  bool
}

func (f *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if f.failOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("no offer for you")
	}
	f.ops = append(f.ops, "createOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (f *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.ops = append(f.ops, "createAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (f *fakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	f.ops = append(f.ops, "setLocal:"+d.Type.String())
	return nil
}

func (f *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.ops = append(f.ops, "setRemote:"+d.Type.String())
	return nil
}

func (f *fakeConn) AddICECandidate(init webrtc.ICECandidateInit) error {
	f.ops = append(f.ops, "addCandidate")
	f.candidates = append(f.candidates, init)
	return nil
}

func (f *fakeConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (f *fakeConn) Close() error {
	f.ops = append(f.ops, "close")
	return nil
}

func candidateJSON(t *testing.T, c string) string {
	t.Helper()
	data, err := json.Marshal(webrtc.ICECandidateInit{Candidate: c})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newTestLink(localID, remoteID string) (*Link, *fakeConn, *[]*envelope.Envelope) {
	pc := &fakeConn{}
	var sent []*envelope.Envelope
	l := NewLink(localID, remoteID, "call-1", pc, func(env *envelope.Envelope) error {
		sent = append(sent, env)
		return nil
	}, Hooks{})
	return l, pc, &sent
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	l, pc, sent := newTestLink("alice", "bob")

	if err := l.Offer(); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if len(*sent) != 1 || (*sent)[0].Type != envelope.TypeOffer || (*sent)[0].ToUserID != "bob" {
		t.Fatalf("sent = %+v, want one offer to bob", *sent)
	}
	if err := l.HandleAnswer("remote-answer"); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}

	want := []string{"createOffer", "setLocal:offer", "setRemote:answer"}
	if fmt.Sprint(pc.ops) != fmt.Sprint(want) {
		t.Errorf("ops = %v, want %v", pc.ops, want)
	}
}

func TestEarlyCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	l, pc, _ := newTestLink("alice", "bob")

	for i := 0; i < 3; i++ {
		if err := l.AddRemoteCandidate(candidateJSON(t, fmt.Sprintf("cand-%d", i))); err != nil {
			t.Fatalf("AddRemoteCandidate: %v", err)
		}
	}
	if len(pc.candidates) != 0 {
		t.Fatalf("%d candidates applied before the remote description", len(pc.candidates))
	}

	if err := l.HandleOffer("remote-offer"); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	if len(pc.candidates) != 3 {
		t.Fatalf("flushed %d candidates, want 3", len(pc.candidates))
	}
	for i, c := range pc.candidates {
		if want := fmt.Sprintf("cand-%d", i); c.Candidate != want {
			t.Errorf("candidate %d = %q, want %q (order must be preserved)", i, c.Candidate, want)
		}
	}

	// Later candidates apply immediately.
	if err := l.AddRemoteCandidate(candidateJSON(t, "late")); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if len(pc.candidates) != 4 {
		t.Error("candidate after remote description was not applied directly")
	}
}

func TestMalformedCandidateRejected(t *testing.T) {
	l, _, _ := newTestLink("alice", "bob")
	if err := l.AddRemoteCandidate("{broken"); err == nil {
		t.Error("malformed candidate accepted")
	}
}

// Glare: both sides have an offer outstanding. The lexicographically
// smaller user id wins; the larger side rolls back and answers.
func TestGlareResolution(t *testing.T) {
	t.Run("smaller id ignores the competing offer", func(t *testing.T) {
		l, pc, sent := newTestLink("alice", "bob")
		if err := l.Offer(); err != nil {
			t.Fatal(err)
		}
		if err := l.HandleOffer("bob-offer"); err != nil {
			t.Fatalf("HandleOffer during glare: %v", err)
		}
		for _, op := range pc.ops {
			if op == "setLocal:rollback" || op == "setRemote:offer" {
				t.Errorf("winning side performed %s", op)
			}
		}
		for _, env := range (*sent)[1:] {
			if env.Type == envelope.TypeAnswer {
				t.Error("winning side answered the losing offer")
			}
		}
	})

	t.Run("larger id rolls back and answers", func(t *testing.T) {
		l, pc, sent := newTestLink("bob", "alice")
		if err := l.Offer(); err != nil {
			t.Fatal(err)
		}
		if err := l.HandleOffer("alice-offer"); err != nil {
			t.Fatalf("HandleOffer during glare: %v", err)
		}

		want := []string{
			"createOffer", "setLocal:offer",
			"setLocal:rollback", "setRemote:offer",
			"createAnswer", "setLocal:answer",
		}
		if fmt.Sprint(pc.ops) != fmt.Sprint(want) {
			t.Errorf("ops = %v, want %v", pc.ops, want)
		}
		last := (*sent)[len(*sent)-1]
		if last.Type != envelope.TypeAnswer {
			t.Errorf("last sent = %s, want answer", last.Type)
		}
	})

	t.Run("stale answer after rollback is dropped", func(t *testing.T) {
		l, pc, _ := newTestLink("bob", "alice")
		l.Offer()
		l.HandleOffer("alice-offer") // rolls back, offerOutstanding cleared
		before := len(pc.ops)
		if err := l.HandleAnswer("stale"); err != nil {
			t.Fatalf("stale answer returned error: %v", err)
		}
		if len(pc.ops) != before {
			t.Error("stale answer touched the connection")
		}
	})
}

func TestConnectedHookFiresOnce(t *testing.T) {
	pc := &fakeConn{}
	fired := 0
	l := NewLink("alice", "bob", "call-1", pc,
		func(*envelope.Envelope) error { return nil },
		Hooks{OnConnected: func() { fired++ }})

	l.HandleConnectionState(webrtc.PeerConnectionStateConnected)
	l.HandleConnectionState(webrtc.PeerConnectionStateConnected)
	if fired != 1 {
		t.Errorf("OnConnected fired %d times, want 1", fired)
	}
}

func TestFailedStateRetriesOnceThenFatal(t *testing.T) {
	pc := &fakeConn{}
	var fatal []error
	l := NewLink("alice", "bob", "call-1", pc,
		func(*envelope.Envelope) error { return nil },
		Hooks{OnFatal: func(err error) { fatal = append(fatal, err) }})

	// First failure: one automatic re-offer, no fatal yet.
	l.HandleConnectionState(webrtc.PeerConnectionStateFailed)
	if len(fatal) != 0 {
		t.Fatalf("fatal after first failure: %v", fatal)
	}
	offers := 0
	for _, op := range pc.ops {
		if op == "createOffer" {
			offers++
		}
	}
	if offers != 1 {
		t.Fatalf("re-negotiation offers = %d, want 1", offers)
	}

	// Second failure is fatal for this peer.
	l.HandleConnectionState(webrtc.PeerConnectionStateFailed)
	if len(fatal) != 1 {
		t.Fatalf("fatal callbacks = %d, want 1", len(fatal))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l, pc, _ := newTestLink("alice", "bob")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	closes := 0
	for _, op := range pc.ops {
		if op == "close" {
			closes++
		}
	}
	if closes != 1 {
		t.Errorf("native close called %d times, want 1", closes)
	}

	// A failure callback after close must stay silent.
	l.HandleConnectionState(webrtc.PeerConnectionStateFailed)
}
