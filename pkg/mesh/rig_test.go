/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/signaling"
)

// rig wires the mesh parts of one participant without a dispatcher, so
// tests drive the orchestrator directly and inspect what it sends.
type rig struct {
	api      *webrtc.API
	dev      *media.SyntheticDevice
	ctrl     *media.Controller
	tracker  *Tracker
	registry *Registry
	orch     *Orchestrator
	engine   *Engine
	tasks    *taskGroup

	mu     sync.Mutex
	sent   []signaling.Message
	closed []string
}

func newRig(t *testing.T, localID string, cfg Config) *rig {
	t.Helper()

	api, err := NewAPI(nil, nil)
	if err != nil {
		t.Fatalf("NewAPI failed: %v", err)
	}

	r := &rig{
		api:   api,
		dev:   media.NewSyntheticDevice(),
		tasks: &taskGroup{},
	}
	r.ctrl = media.NewController(r.dev, media.DefaultConstraints())

	relay := signaling.NewFuncRelay(func(m signaling.Message) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.sent = append(r.sent, m)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cfg = cfg.withDefaults()
	r.tracker = NewTracker(localID)
	r.registry = newRegistry(api, webrtc.Configuration{}, r.ctrl.Session(), linkHooks{
		onClosed: func(l *PeerLink) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closed = append(r.closed, l.ParticipantID())
		},
	})
	r.orch = newOrchestrator(ctx, cfg, "room-1", localID, relay, r.tracker, r.registry, r.ctrl.Ready, r.tasks)
	r.engine = newEngine(r.registry, r.orch)
	r.ctrl.SetOnTrackChanged(r.engine.OnTrackChanged)

	t.Cleanup(func() {
		cancel()
		r.tasks.Close()
		r.registry.CloseAll()
		r.ctrl.Close()
		r.tasks.Wait()
		relay.Close()
	})
	return r
}

func (r *rig) startMedia(t *testing.T) {
	t.Helper()
	if _, err := r.ctrl.Start(context.Background(), true, true); err != nil {
		t.Fatalf("Start media failed: %v", err)
	}
}

func (r *rig) count(typ signaling.MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if m.MessageType() == typ {
			n++
		}
	}
	return n
}

func (r *rig) lastOffer(t *testing.T) signaling.Offer {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if o, ok := r.sent[i].(signaling.Offer); ok {
			return o
		}
	}
	t.Fatal("No offer was sent")
	return signaling.Offer{}
}

// remotePeer is a bare pion connection standing in for another participant
func remotePeer(t *testing.T, api *webrtc.API) *webrtc.PeerConnection {
	t.Helper()
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	return pc
}

func answerWith(t *testing.T, pc *webrtc.PeerConnection, offer webrtc.SessionDescription) webrtc.SessionDescription {
	t.Helper()
	if err := pc.SetRemoteDescription(offer); err != nil {
		t.Fatalf("remote SetRemoteDescription failed: %v", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("remote CreateAnswer failed: %v", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		t.Fatalf("remote SetLocalDescription failed: %v", err)
	}
	return answer
}

func offerFrom(t *testing.T, pc *webrtc.PeerConnection) webrtc.SessionDescription {
	t.Helper()
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind failed: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("remote CreateOffer failed: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("remote SetLocalDescription failed: %v", err)
	}
	return offer
}

// mediaOfferFrom offers both kinds so the answering side needs no
// follow-up offer
func mediaOfferFrom(t *testing.T, pc *webrtc.PeerConnection) webrtc.SessionDescription {
	t.Helper()
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			t.Fatalf("AddTransceiverFromKind failed: %v", err)
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("remote CreateOffer failed: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("remote SetLocalDescription failed: %v", err)
	}
	return offer
}

// negotiate runs one offer/answer exchange with a bare remote connection
func (r *rig) negotiate(t *testing.T, participantID, sessionID string) *webrtc.PeerConnection {
	t.Helper()
	if err := r.orch.CreateOffer(participantID); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	pc := remotePeer(t, r.api)
	answer := answerWith(t, pc, r.lastOffer(t).Offer)
	if err := r.orch.HandleAnswer(signaling.Answer{RoomID: "room-1", From: sessionID, Answer: answer}); err != nil {
		t.Fatalf("HandleAnswer failed: %v", err)
	}
	return pc
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
