/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Signaling Orchestrator - 每条 PeerLink 的 offer/answer/ICE 状态机
 * stable -> have-local-offer -> stable 或 stable -> have-remote-offer -> stable
 * 所有 SDP 步骤都在 link.mu 下执行并在锁内发出，保证同一对端的消息顺序
 */
package mesh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/signaling"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// Orchestrator drives SDP and ICE exchange for every link of a session
type Orchestrator struct {
	mu sync.Mutex

	cfg      Config
	roomID   string
	localID  string
	relay    signaling.Relay
	tracker  *Tracker
	registry *Registry
	ready    func() <-chan struct{}
	tasks    *taskGroup
	ctx      context.Context

	// 已排队等待媒体就绪的 offer
	scheduled map[string]bool
	// 还没有连接的对端发来的候选，按 transport session 保存
	early map[string][]webrtc.ICECandidateInit
}

func newOrchestrator(ctx context.Context, cfg Config, roomID, localID string, relay signaling.Relay,
	tracker *Tracker, registry *Registry, ready func() <-chan struct{}, tasks *taskGroup) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		roomID:    roomID,
		localID:   localID,
		relay:     relay,
		tracker:   tracker,
		registry:  registry,
		ready:     ready,
		tasks:     tasks,
		ctx:       ctx,
		scheduled: make(map[string]bool),
		early:     make(map[string][]webrtc.ICECandidateInit),
	}
}

// ScheduleOffer offers to a participant once local media is ready.
// The wait is bounded by MediaReadyTimeout; on timeout nothing is sent.
// A participant already waiting is not scheduled twice.
func (o *Orchestrator) ScheduleOffer(participantID string) {
	o.mu.Lock()
	if o.scheduled[participantID] {
		o.mu.Unlock()
		return
	}
	o.scheduled[participantID] = true
	o.mu.Unlock()

	started := o.tasks.Go(func() {
		defer func() {
			o.mu.Lock()
			delete(o.scheduled, participantID)
			o.mu.Unlock()
		}()

		if !o.waitForMedia() {
			utils.Debug("[Orchestrator] no local media for offer to %s", participantID)
			return
		}
		if err := o.initialOffer(participantID); err != nil {
			utils.Warn("[Orchestrator] offer to %s: %v", participantID, err)
		}
	})
	if !started {
		o.mu.Lock()
		delete(o.scheduled, participantID)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) waitForMedia() bool {
	ready := o.ready()
	select {
	case <-ready:
		return true
	default:
	}

	timer := time.NewTimer(o.cfg.MediaReadyTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		return true
	case <-timer.C:
		return false
	case <-o.ctx.Done():
		return false
	}
}

func (o *Orchestrator) initialOffer(participantID string) error {
	sid, ok := o.tracker.TransportSession(participantID)
	if !ok {
		return ErrPeerNotFound
	}
	link, err := o.link(participantID, sid)
	if err != nil {
		return err
	}

	link.mu.Lock()
	defer link.mu.Unlock()

	if link.closed {
		return ErrPeerClosed
	}
	// 对端的 offer 已经建立了连接
	if link.negotiatedLocked() && !link.hasUnnegotiatedSendersLocked() {
		return nil
	}
	return o.offerLocked(link)
}

// link returns the link to a participant, moving candidates that arrived
// before it existed into its pending buffer.
func (o *Orchestrator) link(participantID, transportSessionID string) (*PeerLink, error) {
	link, created, err := o.registry.GetOrCreate(participantID, transportSessionID)
	if err != nil {
		return nil, err
	}
	if created {
		o.mu.Lock()
		early := o.early[transportSessionID]
		delete(o.early, transportSessionID)
		o.mu.Unlock()

		if len(early) > 0 {
			link.mu.Lock()
			link.pending = append(link.pending, early...)
			link.mu.Unlock()
		}
	}
	return link, nil
}

// CreateOffer sends an offer to a participant. It is a no-op while
// another offer/answer exchange is in progress on the link.
func (o *Orchestrator) CreateOffer(participantID string) error {
	sid, ok := o.tracker.TransportSession(participantID)
	if !ok {
		return ErrPeerNotFound
	}
	link, err := o.link(participantID, sid)
	if err != nil {
		return err
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	return o.offerLocked(link)
}

// offerLocked creates, applies and sends an offer. Caller holds link.mu.
func (o *Orchestrator) offerLocked(link *PeerLink) error {
	if link.closed {
		return ErrPeerClosed
	}
	state := link.pc.SignalingState()
	if state != webrtc.SignalingStateStable {
		utils.Debug("[Orchestrator] skip offer to %s in state %s", link.participantID, state)
		return nil
	}

	o.registry.attachLocked(link)

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		return &NegotiationError{Op: "create offer", ParticipantID: link.participantID, State: state, Err: err}
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		return &NegotiationError{Op: "set local offer", ParticipantID: link.participantID, State: state, Err: err}
	}
	link.role = RoleOfferer

	utils.Info("[Orchestrator] offer -> %s", link.participantID)
	return o.send(signaling.Offer{
		RoomID: o.roomID,
		To:     link.transportSessionID,
		Offer:  offer,
	})
}

// HandleOffer answers a remote offer
func (o *Orchestrator) HandleOffer(m signaling.Offer) error {
	participantID, ok := o.tracker.ResolveParticipant(m.From)
	if !ok {
		utils.Warn("[Orchestrator] offer from unknown session %s", m.From)
		return ErrUnknownSession
	}

	// 对端换了 transport session，旧连接已经失效
	if link, ok := o.registry.Get(participantID); ok && link.transportSessionID != m.From {
		utils.Info("[Orchestrator] %s reconnected, replacing link", participantID)
		o.registry.CloseLink(link)
	}

	link, err := o.link(participantID, m.From)
	if err != nil {
		return err
	}

	link.mu.Lock()
	if link.closed {
		link.mu.Unlock()
		return ErrPeerClosed
	}

	switch {
	case link.restartedLocked(m.Offer):
		// 对端重建了连接（ICE 凭据变了），旧连接无法继续协商
		link.mu.Unlock()
		utils.Info("[Orchestrator] %s restarted its connection, replacing link", participantID)
		if link, err = o.replace(link, nil); err != nil {
			return err
		}
		link.mu.Lock()

	case link.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer:
		if o.cfg.GlarePolicy == GlarePolite && o.localID > participantID {
			// 对端 id 更小，由对端让步
			link.ignoreOffer = true
			link.mu.Unlock()
			utils.Info("[Orchestrator] glare with %s, keeping our offer", participantID)
			return nil
		}

		// pion 不支持从 have-local-offer 回滚，让步方换一条新连接
		live := link.negotiatedLocked()
		var pending []webrtc.ICECandidateInit
		if !live {
			pending = link.pending
			link.pending = nil
		}
		link.mu.Unlock()

		if link, err = o.replace(link, pending); err != nil {
			return err
		}
		link.mu.Lock()

		if live {
			// 对端的 offer 属于旧连接，新连接重新发起
			utils.Info("[Orchestrator] glare with %s on a live link, restarting it", participantID)
			defer link.mu.Unlock()
			return o.offerLocked(link)
		}
		utils.Info("[Orchestrator] glare with %s, yielding", participantID)
	}
	defer link.mu.Unlock()

	state := link.pc.SignalingState()
	link.ignoreOffer = false

	if err := link.pc.SetRemoteDescription(m.Offer); err != nil {
		return &NegotiationError{Op: "set remote offer", ParticipantID: participantID, State: state, Err: err}
	}
	o.flushLocked(link)

	o.registry.attachLocked(link)

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return &NegotiationError{Op: "create answer", ParticipantID: participantID, State: link.pc.SignalingState(), Err: err}
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return &NegotiationError{Op: "set local answer", ParticipantID: participantID, State: link.pc.SignalingState(), Err: err}
	}
	link.role = RoleAnswerer

	utils.Info("[Orchestrator] answer -> %s", participantID)
	if err := o.send(signaling.Answer{
		RoomID: o.roomID,
		To:     m.From,
		Answer: answer,
	}); err != nil {
		return err
	}

	// 对端 offer 的 m-line 少于我们的发送器时补一次 offer
	if link.hasUnnegotiatedSendersLocked() {
		utils.Info("[Orchestrator] follow-up offer -> %s", participantID)
		return o.offerLocked(link)
	}
	return nil
}

// replace closes old and opens a fresh link to the same transport session.
// pending carries remote candidates over to the new link.
func (o *Orchestrator) replace(old *PeerLink, pending []webrtc.ICECandidateInit) (*PeerLink, error) {
	o.registry.CloseLink(old)

	link, err := o.link(old.participantID, old.transportSessionID)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		link.mu.Lock()
		link.pending = append(pending, link.pending...)
		link.mu.Unlock()
	}
	return link, nil
}

// HandleAnswer applies a remote answer. An answer outside have-local-offer
// is attempted anyway and its failure reported, except on a link that only
// answered and never connected: there both sides abandoned their offers, and
// the lower participant id starts over with a fresh offer.
func (o *Orchestrator) HandleAnswer(m signaling.Answer) error {
	participantID, ok := o.tracker.ResolveParticipant(m.From)
	if !ok {
		utils.Warn("[Orchestrator] answer from unknown session %s", m.From)
		return ErrUnknownSession
	}
	link, ok := o.registry.Get(participantID)
	if !ok || link.transportSessionID != m.From {
		utils.Warn("[Orchestrator] answer from %s without a link", participantID)
		return ErrPeerNotFound
	}

	link.mu.Lock()
	if link.closed {
		link.mu.Unlock()
		return ErrPeerClosed
	}

	state := link.pc.SignalingState()
	if link.strayAnswerLocked() {
		// 双方都让步后，各自的 answer 都落在了已作废的 offer 上
		link.mu.Unlock()
		if o.localID > participantID {
			utils.Info("[Orchestrator] stray answer from %s, waiting for its offer", participantID)
			return nil
		}
		utils.Info("[Orchestrator] stray answer from %s, offering on a fresh link", participantID)
		fresh, err := o.replace(link, nil)
		if err != nil {
			return err
		}
		fresh.mu.Lock()
		defer fresh.mu.Unlock()
		return o.offerLocked(fresh)
	}
	defer link.mu.Unlock()

	if state != webrtc.SignalingStateHaveLocalOffer {
		utils.Warn("[Orchestrator] answer from %s in state %s", participantID, state)
	}
	if err := link.pc.SetRemoteDescription(m.Answer); err != nil {
		return &NegotiationError{Op: "set remote answer", ParticipantID: participantID, State: state, Err: err}
	}
	o.flushLocked(link)
	link.ignoreOffer = false

	if link.hasUnnegotiatedSendersLocked() {
		utils.Info("[Orchestrator] follow-up offer -> %s", participantID)
		return o.offerLocked(link)
	}
	return nil
}

// HandleCandidate applies or buffers a remote ICE candidate
func (o *Orchestrator) HandleCandidate(m signaling.Candidate) error {
	participantID, known := o.tracker.ResolveParticipant(m.From)

	var link *PeerLink
	if known {
		if l, ok := o.registry.Get(participantID); ok && l.transportSessionID == m.From {
			link = l
		}
	}
	if link == nil {
		o.holdEarly(m.From, m.Candidate)
		return nil
	}

	link.mu.Lock()
	defer link.mu.Unlock()

	if link.closed {
		return ErrPeerClosed
	}

	if link.pc.RemoteDescription() == nil {
		if !o.cfg.BufferEarlyCandidates {
			utils.Debug("[Orchestrator] dropping candidate from %s: no remote description", participantID)
			return nil
		}
		if len(link.pending) >= o.cfg.MaxPendingCandidates {
			utils.Warn("[Orchestrator] pending candidates from %s full, dropping", participantID)
			return nil
		}
		link.pending = append(link.pending, m.Candidate)
		return nil
	}

	if err := link.pc.AddICECandidate(m.Candidate); err != nil {
		if link.ignoreOffer {
			return nil
		}
		return &NegotiationError{Op: "add candidate", ParticipantID: participantID, State: link.pc.SignalingState(), Err: err}
	}
	return nil
}

func (o *Orchestrator) holdEarly(transportSessionID string, c webrtc.ICECandidateInit) {
	if !o.cfg.BufferEarlyCandidates {
		utils.Debug("[Orchestrator] dropping candidate from %s: no link", transportSessionID)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.early[transportSessionID]) >= o.cfg.MaxPendingCandidates {
		utils.Warn("[Orchestrator] early candidates from %s full, dropping", transportSessionID)
		return
	}
	o.early[transportSessionID] = append(o.early[transportSessionID], c)
}

// EarlyCandidates returns how many candidates are held for a transport
// session that has no link yet
func (o *Orchestrator) EarlyCandidates(transportSessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.early[transportSessionID])
}

// flushLocked applies candidates buffered before the remote description
func (o *Orchestrator) flushLocked(link *PeerLink) {
	applied, errs := link.flushPendingLocked()
	if applied > 0 {
		utils.Debug("[Orchestrator] applied %d buffered candidates from %s", applied, link.participantID)
	}
	for _, err := range errs {
		if !link.ignoreOffer {
			utils.Warn("[Orchestrator] buffered candidate from %s: %v", link.participantID, err)
		}
	}
}

// Forget drops held state for a departed transport session
func (o *Orchestrator) Forget(transportSessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.early, transportSessionID)
}

func (o *Orchestrator) sendCandidate(link *PeerLink, c *webrtc.ICECandidate) {
	if err := o.send(signaling.Candidate{
		RoomID:    o.roomID,
		To:        link.transportSessionID,
		Candidate: c.ToJSON(),
	}); err != nil {
		utils.Debug("[Orchestrator] candidate -> %s: %v", link.participantID, err)
	}
}

// send hands a message to the relay. An unavailable relay makes it a
// logged no-op.
func (o *Orchestrator) send(msg signaling.Message) error {
	err := o.relay.Send(o.ctx, msg)
	if errors.Is(err, signaling.ErrRelayUnavailable) || errors.Is(err, signaling.ErrRelayClosed) {
		utils.Warn("[Orchestrator] relay unavailable, %s dropped", msg.MessageType())
		return nil
	}
	return err
}
