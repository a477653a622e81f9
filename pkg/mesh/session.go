/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Room Session - 一个参与者在一个房间内的全部状态
 * 持有成员表、连接表、信令编排、重协商引擎、远端流表和本地媒体控制器
 * 一个 dispatcher goroutine 顺序处理 relay 送来的消息
 */
package mesh

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/signaling"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// RoomSession is the local participant's presence in one room
type RoomSession struct {
	mu sync.RWMutex

	cfg        Config
	relay      signaling.Relay
	controller *media.Controller

	api    *webrtc.API
	codecs *media.CodecRegistry
	pool   *BufferPool
	table  *Table
	tasks  taskGroup

	roomID   string
	local    signaling.Participant
	tracker  *Tracker
	registry *Registry
	orch     *Orchestrator
	engine   *Engine

	ctx          context.Context
	cancel       context.CancelFunc
	dispatchDone chan struct{}

	onPeerStateChange func(participantID string, state webrtc.PeerConnectionState)
	onRosterChanged   func([]signaling.Participant)

	joined bool
	closed bool
}

// NewRoomSession creates a session that talks through relay and sends the
// tracks of controller
func NewRoomSession(relay signaling.Relay, controller *media.Controller, cfg Config, opts ...Option) (*RoomSession, error) {
	s := &RoomSession{
		cfg:        cfg.withDefaults(),
		relay:      relay,
		controller: controller,
		pool:       NewBufferPool(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.api == nil {
		api, err := NewAPI(s.codecs, nil)
		if err != nil {
			return nil, err
		}
		s.api = api
	}
	s.table = NewTable(s.cfg.MuteTimeout, s.pool)

	return s, nil
}

// SetOnPeerStateChange 设置连接状态回调
func (s *RoomSession) SetOnPeerStateChange(fn func(participantID string, state webrtc.PeerConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPeerStateChange = fn
}

// SetOnRosterChanged 设置成员变化回调
func (s *RoomSession) SetOnRosterChanged(fn func([]signaling.Participant)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRosterChanged = fn
}

// SetOnStreamAdded 设置远端流新增回调
func (s *RoomSession) SetOnStreamAdded(fn func(participantID string)) {
	s.table.SetOnStreamAdded(fn)
}

// SetOnStreamRemoved 设置远端流移除回调
func (s *RoomSession) SetOnStreamRemoved(fn func(participantID string)) {
	s.table.SetOnStreamRemoved(fn)
}

// SetOnTrackEvent 设置远端轨道事件回调
func (s *RoomSession) SetOnTrackEvent(fn func(TrackEvent)) {
	s.table.SetOnTrackEvent(fn)
}

// SetOnRTP 设置远端 RTP 回调
func (s *RoomSession) SetOnRTP(fn func(participantID string, t *RemoteTrack, pkt *rtp.Packet)) {
	s.table.SetOnRTP(fn)
}

func (s *RoomSession) emitPeerStateChange(participantID string, state webrtc.PeerConnectionState) {
	s.mu.RLock()
	fn := s.onPeerStateChange
	s.mu.RUnlock()
	if fn != nil {
		fn(participantID, state)
	}
}

func (s *RoomSession) emitRosterChanged() {
	s.mu.RLock()
	fn := s.onRosterChanged
	tracker := s.tracker
	s.mu.RUnlock()
	if fn != nil && tracker != nil {
		fn(tracker.Roster())
	}
}

// Join enters a room. The relay answers with the roster, after which links
// to every other participant are negotiated.
func (s *RoomSession) Join(ctx context.Context, roomID string, local signaling.Participant) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.joined {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}

	s.roomID = roomID
	s.local = local
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.tracker = NewTracker(local.ParticipantID)
	s.registry = newRegistry(s.api, webrtc.Configuration{ICEServers: s.cfg.ICEServers}, s.controller.Session(), linkHooks{
		onICECandidate:    s.handleICECandidate,
		onTrack:           s.handleTrack,
		onConnectionState: s.handleConnectionState,
		onSender:          s.handleSender,
		onClosed:          s.handleLinkClosed,
	})
	s.orch = newOrchestrator(s.ctx, s.cfg, roomID, local.ParticipantID, s.relay, s.tracker, s.registry, s.controller.Ready, &s.tasks)
	s.engine = newEngine(s.registry, s.orch)
	s.dispatchDone = make(chan struct{})
	s.joined = true
	s.mu.Unlock()

	s.controller.SetOnTrackChanged(s.engine.OnTrackChanged)
	go s.dispatch(s.ctx)

	utils.Info("[Session] %s joining room %s", local.ParticipantID, roomID)
	if err := s.relay.Send(ctx, signaling.JoinRoom{RoomID: roomID, Participant: local}); err != nil {
		utils.Error("[Session] join %s failed: %v", roomID, err)
		return err
	}
	return nil
}

func (s *RoomSession) dispatch(ctx context.Context) {
	defer close(s.dispatchDone)

	msgs := s.relay.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				utils.Warn("[Session] relay closed")
				return
			}
			s.handleMessage(msg)
		}
	}
}

func (s *RoomSession) handleMessage(msg signaling.Message) {
	if room := msg.Room(); room != "" && room != s.roomID {
		utils.Debug("[Session] ignoring %s for room %s", msg.MessageType(), room)
		return
	}

	switch m := msg.(type) {
	case signaling.RoomRoster:
		for _, ev := range s.tracker.OnRoster(m.Participants) {
			s.peerNeeded(ev)
		}
		s.emitRosterChanged()

	case signaling.UserJoined:
		if ev, ok := s.tracker.OnJoin(m.Participant); ok {
			s.peerNeeded(ev)
		}
		s.emitRosterChanged()

	case signaling.UserLeft:
		if participantID, ok := s.tracker.OnLeave(m.ParticipantID, m.TransportSessionID); ok {
			utils.Info("[Session] %s left", participantID)
			s.registry.Close(participantID)
		}
		s.orch.Forget(m.TransportSessionID)
		s.emitRosterChanged()

	case signaling.Offer:
		if err := s.orch.HandleOffer(m); err != nil {
			utils.Warn("[Session] offer from %s: %v", m.From, err)
		}

	case signaling.Answer:
		if err := s.orch.HandleAnswer(m); err != nil {
			utils.Warn("[Session] answer from %s: %v", m.From, err)
		}

	case signaling.Candidate:
		if err := s.orch.HandleCandidate(m); err != nil {
			utils.Debug("[Session] candidate from %s: %v", m.From, err)
		}

	case signaling.ErrorMessage:
		utils.Warn("[Session] relay error %d: %s", m.Code, m.Message)

	default:
		utils.Debug("[Session] ignoring %s", msg.MessageType())
	}
}

// peerNeeded reacts to a participant that needs a link
func (s *RoomSession) peerNeeded(ev PeerEvent) {
	if ev.Reconnected {
		utils.Info("[Session] %s reconnected on %s", ev.ParticipantID, ev.TransportSessionID)
		s.registry.Close(ev.ParticipantID)
	} else if link, ok := s.registry.Get(ev.ParticipantID); ok && link.transportSessionID != ev.TransportSessionID {
		s.registry.CloseLink(link)
	}
	s.orch.ScheduleOffer(ev.ParticipantID)
}

func (s *RoomSession) handleICECandidate(link *PeerLink, c *webrtc.ICECandidate) {
	s.orch.sendCandidate(link, c)
}

func (s *RoomSession) handleTrack(link *PeerLink, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if cur, ok := s.registry.Get(link.participantID); !ok || cur != link {
		return
	}
	rt := s.table.AddTrack(link.participantID, track)
	if rt == nil {
		return
	}
	s.tasks.Go(func() {
		s.table.Run(s.ctx, link.participantID, rt)
	})
}

func (s *RoomSession) handleConnectionState(link *PeerLink, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateFailed:
		utils.Warn("[Session] link to %s failed", link.participantID)
		s.tasks.Go(func() {
			s.registry.CloseLink(link)
		})
	case webrtc.PeerConnectionStateDisconnected:
		if cur, ok := s.registry.Get(link.participantID); ok && cur == link {
			s.table.Remove(link.participantID)
		}
	}
	s.emitPeerStateChange(link.participantID, state)
}

// handleSender drains RTCP of a new sender so interceptors keep working
func (s *RoomSession) handleSender(link *PeerLink, sender *webrtc.RTPSender) {
	s.tasks.Go(func() {
		buf := s.pool.GetBuffer()
		defer s.pool.PutBuffer(buf)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
			link.stats.AddRTCPIn()
		}
	})
}

func (s *RoomSession) handleLinkClosed(link *PeerLink) {
	s.table.Remove(link.participantID)
}

// StartLocalMedia acquires camera and/or microphone
func (s *RoomSession) StartLocalMedia(ctx context.Context, video, audio bool) (media.Flags, error) {
	if _, err := s.controller.Start(ctx, video, audio); err != nil {
		return s.controller.Flags(), err
	}
	return s.controller.Flags(), nil
}

// StopLocalMedia stops every local track. Links keep their transceivers.
func (s *RoomSession) StopLocalMedia() {
	s.controller.Stop()
}

// ToggleVideo flips the camera, acquiring it if there is none
func (s *RoomSession) ToggleVideo(ctx context.Context) (media.Flags, error) {
	return s.controller.ToggleVideo(ctx)
}

// ToggleAudio flips the microphone, acquiring it if there is none
func (s *RoomSession) ToggleAudio(ctx context.Context) (media.Flags, error) {
	return s.controller.ToggleAudio(ctx)
}

// StartScreenShare sends the screen in place of the camera
func (s *RoomSession) StartScreenShare(ctx context.Context) error {
	return s.controller.StartScreenShare(ctx)
}

// StopScreenShare restores the camera
func (s *RoomSession) StopScreenShare() error {
	return s.controller.StopScreenShare()
}

// LeaveRoom tells the room, closes every link, stops local media and waits
// for all background work to finish. The session cannot be reused.
func (s *RoomSession) LeaveRoom(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	joined := s.joined
	s.mu.Unlock()

	if !joined {
		s.controller.Stop()
		return nil
	}

	var err error
	if err = s.relay.Send(ctx, signaling.LeaveRoom{RoomID: s.roomID, ParticipantID: s.local.ParticipantID}); err != nil {
		utils.Warn("[Session] leave %s: %v", s.roomID, err)
	}

	s.cancel()
	s.tasks.Close()
	s.registry.CloseAll()
	s.controller.SetOnTrackChanged(nil)
	s.controller.Stop()
	s.table.Clear()

	<-s.dispatchDone
	s.tasks.Wait()
	s.tracker.Reset()

	utils.Info("[Session] %s left room %s", s.local.ParticipantID, s.roomID)
	return err
}

// LocalState returns the local media flags
func (s *RoomSession) LocalState() media.Flags {
	return s.controller.Flags()
}

// RemoteStreams returns the remote stream table
func (s *RoomSession) RemoteStreams() []RemoteStreamInfo {
	return s.table.Snapshot()
}

// Roster returns every known participant
func (s *RoomSession) Roster() []signaling.Participant {
	s.mu.RLock()
	tracker := s.tracker
	s.mu.RUnlock()
	if tracker == nil {
		return nil
	}
	return tracker.Roster()
}

// Link returns the link to a participant
func (s *RoomSession) Link(participantID string) (*PeerLink, bool) {
	s.mu.RLock()
	registry := s.registry
	s.mu.RUnlock()
	if registry == nil {
		return nil, false
	}
	return registry.Get(participantID)
}

// LinkIDs returns the participants with a link
func (s *RoomSession) LinkIDs() []string {
	s.mu.RLock()
	registry := s.registry
	s.mu.RUnlock()
	if registry == nil {
		return nil
	}
	return registry.IDs()
}

// StreamIDs returns the participants with a remote stream entry
func (s *RoomSession) StreamIDs() []string {
	return s.table.IDs()
}

// PendingTasks returns the number of running background tasks
func (s *RoomSession) PendingTasks() int {
	return s.tasks.Pending()
}

// SessionStatus 会话状态
type SessionStatus struct {
	RoomID        string             `json:"room_id"`
	ParticipantID string             `json:"participant_id"`
	Joined        bool               `json:"joined"`
	Closed        bool               `json:"closed"`
	Local         media.Flags        `json:"local"`
	Participants  int                `json:"participants"`
	Links         []LinkInfo         `json:"links"`
	Streams       []RemoteStreamInfo `json:"streams"`
	PendingTasks  int                `json:"pending_tasks"`
	BufferPool    BufferPoolStats    `json:"buffer_pool"`
}

// GetStatus 获取会话状态
func (s *RoomSession) GetStatus() SessionStatus {
	s.mu.RLock()
	status := SessionStatus{
		RoomID:        s.roomID,
		ParticipantID: s.local.ParticipantID,
		Joined:        s.joined,
		Closed:        s.closed,
	}
	tracker := s.tracker
	registry := s.registry
	s.mu.RUnlock()

	status.Local = s.controller.Flags()
	status.Links = make([]LinkInfo, 0)
	if tracker != nil {
		status.Participants = tracker.Len()
	}
	if registry != nil {
		for _, id := range registry.IDs() {
			if link, ok := registry.Get(id); ok {
				status.Links = append(status.Links, link.Info())
			}
		}
	}
	status.Streams = s.table.Snapshot()
	status.PendingTasks = s.tasks.Pending()
	status.BufferPool = s.pool.GetStats()
	return status
}

// ToJSON 序列化为 JSON
func (s SessionStatus) ToJSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}
