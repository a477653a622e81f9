/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/signaling"
)

func testCandidate() webrtc.ICECandidateInit {
	mid := "0"
	index := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
}

func TestEarlyCandidatesBufferedAndFlushed(t *testing.T) {
	r := newRig(t, "alice", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-b"})

	// 连接还不存在
	if err := r.orch.HandleCandidate(signaling.Candidate{From: "s-b", Candidate: testCandidate()}); err != nil {
		t.Fatalf("HandleCandidate failed: %v", err)
	}
	if n := r.orch.EarlyCandidates("s-b"); n != 1 {
		t.Fatalf("Expected 1 early candidate, got %d", n)
	}

	if err := r.orch.CreateOffer("bob"); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	link, _ := r.registry.Get("bob")
	if n := link.PendingCandidates(); n != 1 {
		t.Fatalf("Early candidate should move to the link, got %d pending", n)
	}
	if n := r.orch.EarlyCandidates("s-b"); n != 0 {
		t.Errorf("Early buffer should be empty, got %d", n)
	}

	// 有本地 offer 但没有远端描述
	r.orch.HandleCandidate(signaling.Candidate{From: "s-b", Candidate: testCandidate()})
	if n := link.PendingCandidates(); n != 2 {
		t.Fatalf("Expected 2 pending, got %d", n)
	}

	pc := remotePeer(t, r.api)
	answer := answerWith(t, pc, r.lastOffer(t).Offer)
	if err := r.orch.HandleAnswer(signaling.Answer{From: "s-b", Answer: answer}); err != nil {
		t.Fatalf("HandleAnswer failed: %v", err)
	}
	if n := link.PendingCandidates(); n != 0 {
		t.Errorf("Pending candidates should be flushed, got %d", n)
	}

	if err := r.orch.HandleCandidate(signaling.Candidate{From: "s-b", Candidate: testCandidate()}); err != nil {
		t.Errorf("Candidate after remote description should apply, got %v", err)
	}
	if n := link.PendingCandidates(); n != 0 {
		t.Errorf("Expected nothing pending, got %d", n)
	}
}

func TestEarlyCandidatesDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferEarlyCandidates = false
	r := newRig(t, "alice", cfg)
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-b"})

	r.orch.HandleCandidate(signaling.Candidate{From: "s-b", Candidate: testCandidate()})
	if n := r.orch.EarlyCandidates("s-b"); n != 0 {
		t.Errorf("Candidate should be dropped, got %d held", n)
	}

	r.orch.CreateOffer("bob")
	link, _ := r.registry.Get("bob")
	r.orch.HandleCandidate(signaling.Candidate{From: "s-b", Candidate: testCandidate()})
	if n := link.PendingCandidates(); n != 0 {
		t.Errorf("Candidate should be dropped, got %d pending", n)
	}
}

func TestEarlyCandidatesBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPendingCandidates = 2
	r := newRig(t, "alice", cfg)

	for i := 0; i < 5; i++ {
		r.orch.HandleCandidate(signaling.Candidate{From: "s-unknown", Candidate: testCandidate()})
	}
	if n := r.orch.EarlyCandidates("s-unknown"); n != 2 {
		t.Errorf("Expected 2 held, got %d", n)
	}

	r.orch.Forget("s-unknown")
	if n := r.orch.EarlyCandidates("s-unknown"); n != 0 {
		t.Errorf("Forget should drop held candidates, got %d", n)
	}
}

func TestHandleOfferUnknownSession(t *testing.T) {
	r := newRig(t, "alice", DefaultConfig())

	pc := remotePeer(t, r.api)
	err := r.orch.HandleOffer(signaling.Offer{From: "s-ghost", Offer: offerFrom(t, pc)})
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Expected ErrUnknownSession, got %v", err)
	}
	if r.registry.Len() != 0 {
		t.Error("No link should be created for an unknown session")
	}
}

func TestHandleOfferAnswers(t *testing.T) {
	r := newRig(t, "alice", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-b"})

	pc := remotePeer(t, r.api)
	if err := r.orch.HandleOffer(signaling.Offer{From: "s-b", Offer: offerFrom(t, pc)}); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}

	link, ok := r.registry.Get("bob")
	if !ok {
		t.Fatal("Offer should create the link")
	}
	if link.Role() != RoleAnswerer {
		t.Errorf("Expected answerer, got %s", link.Role())
	}
	if r.count(signaling.MessageTypeAnswer) != 1 {
		t.Errorf("Expected 1 answer, got %d", r.count(signaling.MessageTypeAnswer))
	}

	// 远端只提供了视频 m-line，音频发送器需要补一次 offer
	if r.count(signaling.MessageTypeOffer) != 1 {
		t.Errorf("Expected a follow-up offer, got %d", r.count(signaling.MessageTypeOffer))
	}
	if link.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Errorf("Expected have-local-offer, got %s", link.SignalingState())
	}
}

func TestAnswerInWrongStateReportsError(t *testing.T) {
	r := newRig(t, "alice", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-b"})
	r.negotiate(t, "bob", "s-b")

	pc := remotePeer(t, r.api)
	stray := answerWith(t, pc, r.lastOffer(t).Offer)
	err := r.orch.HandleAnswer(signaling.Answer{From: "s-b", Answer: stray})

	var negErr *NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("Expected NegotiationError, got %v", err)
	}
	link, _ := r.registry.Get("bob")
	if link.SignalingState() != webrtc.SignalingStateStable {
		t.Errorf("Link should stay stable, got %s", link.SignalingState())
	}
}

func TestCreateOfferSkippedWhileOutstanding(t *testing.T) {
	r := newRig(t, "alice", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-b"})

	r.orch.CreateOffer("bob")
	r.orch.CreateOffer("bob")
	if n := r.count(signaling.MessageTypeOffer); n != 1 {
		t.Errorf("Only one offer may be in flight, got %d", n)
	}
}

func TestGlarePoliteHigherIDKeepsOffer(t *testing.T) {
	r := newRig(t, "zed", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "amy", TransportSessionID: "s-a"})

	r.orch.CreateOffer("amy")
	link, _ := r.registry.Get("amy")

	pc := remotePeer(t, r.api)
	if err := r.orch.HandleOffer(signaling.Offer{From: "s-a", Offer: offerFrom(t, pc)}); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}

	if cur, _ := r.registry.Get("amy"); cur != link {
		t.Error("Impolite side should keep its link")
	}
	if link.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Errorf("Expected have-local-offer, got %s", link.SignalingState())
	}
	if r.count(signaling.MessageTypeAnswer) != 0 {
		t.Error("Colliding offer should be ignored")
	}
}

func TestGlarePoliteLowerIDYields(t *testing.T) {
	r := newRig(t, "amy", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "zed", TransportSessionID: "s-z"})

	r.orch.CreateOffer("zed")
	old, _ := r.registry.Get("zed")

	pc := remotePeer(t, r.api)
	if err := r.orch.HandleOffer(signaling.Offer{From: "s-z", Offer: offerFrom(t, pc)}); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}

	link, ok := r.registry.Get("zed")
	if !ok || link == old {
		t.Fatal("Polite side should answer on a fresh link")
	}
	if !old.IsClosed() {
		t.Error("Abandoned link should be closed")
	}
	if link.Role() != RoleAnswerer {
		t.Errorf("Expected answerer, got %s", link.Role())
	}
	if r.count(signaling.MessageTypeAnswer) != 1 {
		t.Errorf("Expected 1 answer, got %d", r.count(signaling.MessageTypeAnswer))
	}
}

// permissiveGlare drives r into a permissive glare with peer: r offers,
// the peer's colliding offer arrives, r yields and answers. It returns the
// offer r abandoned and the link it answered on.
func permissiveGlare(t *testing.T, r *rig, peer, session string) (webrtc.SessionDescription, *PeerLink) {
	t.Helper()
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: peer, TransportSessionID: session})

	if err := r.orch.CreateOffer(peer); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	abandoned := r.lastOffer(t).Offer
	old, _ := r.registry.Get(peer)

	pc := remotePeer(t, r.api)
	if err := r.orch.HandleOffer(signaling.Offer{From: session, Offer: mediaOfferFrom(t, pc)}); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}

	link, ok := r.registry.Get(peer)
	if !ok || link == old {
		t.Fatal("Permissive policy should answer on a fresh link")
	}
	if !old.IsClosed() {
		t.Error("Abandoned link should be closed")
	}
	if r.count(signaling.MessageTypeAnswer) != 1 {
		t.Fatalf("Expected 1 answer, got %d", r.count(signaling.MessageTypeAnswer))
	}
	if link.Role() != RoleAnswerer || link.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("Expected stable answerer, got %s in %s", link.Role(), link.SignalingState())
	}
	return abandoned, link
}

func TestGlarePermissiveAlwaysYields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlarePolicy = GlarePermissive
	r := newRig(t, "zed", cfg)

	abandoned, link := permissiveGlare(t, r, "amy", "s-a")

	// amy 也让步了，她对我们旧 offer 的 answer 落在新连接上
	stray := answerWith(t, remotePeer(t, r.api), abandoned)
	if err := r.orch.HandleAnswer(signaling.Answer{From: "s-a", Answer: stray}); err != nil {
		t.Fatalf("Stray answer should be dropped quietly, got %v", err)
	}
	if cur, _ := r.registry.Get("amy"); cur != link {
		t.Error("Higher id should keep its link and wait for an offer")
	}
	if n := r.count(signaling.MessageTypeOffer); n != 1 {
		t.Errorf("Higher id should not offer again, got %d offers", n)
	}
}

func TestGlarePermissiveLowerIDOffersAgain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlarePolicy = GlarePermissive
	r := newRig(t, "amy", cfg)

	abandoned, yielded := permissiveGlare(t, r, "zed", "s-z")

	stray := answerWith(t, remotePeer(t, r.api), abandoned)
	if err := r.orch.HandleAnswer(signaling.Answer{From: "s-z", Answer: stray}); err != nil {
		t.Fatalf("HandleAnswer failed: %v", err)
	}

	link, _ := r.registry.Get("zed")
	if link == yielded || !yielded.IsClosed() {
		t.Fatal("Lower id should start over on a fresh link")
	}
	if n := r.count(signaling.MessageTypeOffer); n != 2 {
		t.Fatalf("Expected a new offer, got %d offers", n)
	}
	if link.Role() != RoleOfferer || link.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("Expected outstanding offer, got %s in %s", link.Role(), link.SignalingState())
	}

	// zed 把新 offer 当作重建的连接来回答
	answer := answerWith(t, remotePeer(t, r.api), r.lastOffer(t).Offer)
	if err := r.orch.HandleAnswer(signaling.Answer{From: "s-z", Answer: answer}); err != nil {
		t.Fatalf("HandleAnswer failed: %v", err)
	}
	if link.SignalingState() != webrtc.SignalingStateStable {
		t.Errorf("Expected stable, got %s", link.SignalingState())
	}
}

func TestRestartedPeerReplacesLink(t *testing.T) {
	r := newRig(t, "alice", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-b"})
	r.negotiate(t, "bob", "s-b")
	old, _ := r.registry.Get("bob")

	// bob 换了一条新的 PeerConnection
	pc := remotePeer(t, r.api)
	if err := r.orch.HandleOffer(signaling.Offer{From: "s-b", Offer: offerFrom(t, pc)}); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}

	link, _ := r.registry.Get("bob")
	if link == old || !old.IsClosed() {
		t.Error("Offer from a new connection should replace the link")
	}
}

func TestReconnectedSessionReplacesLink(t *testing.T) {
	r := newRig(t, "alice", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-old"})
	r.negotiate(t, "bob", "s-old")
	old, _ := r.registry.Get("bob")

	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-new"})
	pc := remotePeer(t, r.api)
	if err := r.orch.HandleOffer(signaling.Offer{From: "s-new", Offer: offerFrom(t, pc)}); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}

	link, _ := r.registry.Get("bob")
	if link == old || link.TransportSessionID() != "s-new" {
		t.Error("Link should be bound to the new session")
	}
}

func TestScheduleOfferWaitsForMedia(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MediaReadyTimeout = 150 * time.Millisecond
	r := newRig(t, "alice", cfg)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-b"})

	r.orch.ScheduleOffer("bob")
	waitFor(t, 2*time.Second, "media wait to give up", func() bool { return r.tasks.Pending() == 0 })
	if r.count(signaling.MessageTypeOffer) != 0 {
		t.Error("No offer should be sent without local media")
	}
	if r.registry.Len() != 0 {
		t.Error("No link should be created without local media")
	}

	r.orch.ScheduleOffer("bob")
	r.orch.ScheduleOffer("bob")
	if _, err := r.ctrl.Start(context.Background(), true, true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, "offer", func() bool { return r.count(signaling.MessageTypeOffer) > 0 })

	waitFor(t, 2*time.Second, "tasks", func() bool { return r.tasks.Pending() == 0 })
	if n := r.count(signaling.MessageTypeOffer); n != 1 {
		t.Errorf("Expected exactly 1 offer, got %d", n)
	}
}

func TestRelayUnavailableIsNoOp(t *testing.T) {
	r := newRig(t, "alice", DefaultConfig())
	r.startMedia(t)
	r.tracker.OnJoin(signaling.Participant{ParticipantID: "bob", TransportSessionID: "s-b"})

	r.orch.relay = signaling.NewFuncRelay(func(signaling.Message) error {
		return signaling.ErrRelayUnavailable
	})
	if err := r.orch.CreateOffer("bob"); err != nil {
		t.Errorf("Send to an unavailable relay should be a no-op, got %v", err)
	}
}
