/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * PeerLink - 与一个远端参与者的点对点连接
 * 每种媒体类型最多一个发送器，换轨只 ReplaceTrack，不新增 transceiver
 */
package mesh

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
)

// NegotiationRole is the side this link took in its last negotiation
type NegotiationRole string

const (
	RoleNone     NegotiationRole = ""
	RoleOfferer  NegotiationRole = "offerer"
	RoleAnswerer NegotiationRole = "answerer"
)

// PeerLink is the connection to one remote participant.
type PeerLink struct {
	// mu serializes negotiation steps on pc
	mu sync.Mutex

	participantID      string
	transportSessionID string
	pc                 *webrtc.PeerConnection

	role    NegotiationRole
	senders map[media.Kind]*webrtc.RTPSender

	// 远端描述设置前到达的候选
	pending []webrtc.ICECandidateInit
	// glare 中被忽略的 offer 之后的候选失败是预期的
	ignoreOffer bool

	stats     *TrafficStats
	createdAt time.Time

	closed bool
}

func newPeerLink(participantID, transportSessionID string, pc *webrtc.PeerConnection) *PeerLink {
	return &PeerLink{
		participantID:      participantID,
		transportSessionID: transportSessionID,
		pc:                 pc,
		senders:            make(map[media.Kind]*webrtc.RTPSender),
		stats:              NewTrafficStats(),
		createdAt:          time.Now(),
	}
}

// ParticipantID returns the remote participant id
func (l *PeerLink) ParticipantID() string {
	return l.participantID
}

// TransportSessionID returns the remote transport session this link talks to
func (l *PeerLink) TransportSessionID() string {
	return l.transportSessionID
}

// SignalingState returns the connection's signaling state
func (l *PeerLink) SignalingState() webrtc.SignalingState {
	return l.pc.SignalingState()
}

// ConnectionState returns the connection state
func (l *PeerLink) ConnectionState() webrtc.PeerConnectionState {
	return l.pc.ConnectionState()
}

// Role returns the role of the last negotiation
func (l *PeerLink) Role() NegotiationRole {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.role
}

// Transceivers returns the number of transceivers on the connection
func (l *PeerLink) Transceivers() int {
	return len(l.pc.GetTransceivers())
}

// SenderTrackID returns the id of the local track a kind's sender carries
func (l *PeerLink) SenderTrackID(kind media.Kind) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	sender := l.senders[kind]
	if sender == nil || sender.Track() == nil {
		return ""
	}
	return sender.Track().ID()
}

// SendingKinds returns the kinds whose sender currently carries a track
func (l *PeerLink) SendingKinds() []media.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]media.Kind, 0, len(l.senders))
	for _, k := range []media.Kind{media.KindAudio, media.KindVideo} {
		if s := l.senders[k]; s != nil && s.Track() != nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// PendingCandidates returns how many remote candidates are buffered
func (l *PeerLink) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// IsClosed returns whether the link is closed
func (l *PeerLink) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// setTrackLocked puts track on the sender of kind. A nil track clears the
// sender but keeps its transceiver. added is true when a new transceiver
// was needed. Caller holds l.mu.
func (l *PeerLink) setTrackLocked(kind media.Kind, track *media.Track) (sender *webrtc.RTPSender, added bool, err error) {
	if l.closed {
		return nil, false, ErrPeerClosed
	}

	if s := l.senders[kind]; s != nil {
		var local webrtc.TrackLocal
		if track != nil {
			local = track.Local()
		}
		if cur := s.Track(); cur == local || (cur != nil && local != nil && cur.ID() == local.ID()) {
			return s, false, nil
		}
		return s, false, s.ReplaceTrack(local)
	}

	if track == nil {
		return nil, false, nil
	}

	// AddTrack 会复用远端 offer 创建的同类型 recvonly transceiver
	s, err := l.pc.AddTrack(track.Local())
	if err != nil {
		return nil, false, err
	}
	l.senders[kind] = s
	return s, true, nil
}

// hasUnnegotiatedSendersLocked reports whether a sender carries a track on
// a transceiver the current remote description does not cover. A mid is
// assigned by CreateOffer even if that offer is never answered, so an empty
// mid alone is not enough. Caller holds l.mu.
func (l *PeerLink) hasUnnegotiatedSendersLocked() bool {
	mids := l.remoteMidsLocked()
	for _, t := range l.pc.GetTransceivers() {
		if t.Sender() == nil || t.Sender().Track() == nil {
			continue
		}
		if t.Mid() == "" || !mids[t.Mid()] {
			return true
		}
	}
	return false
}

func (l *PeerLink) remoteMidsLocked() map[string]bool {
	mids := make(map[string]bool)
	desc := l.pc.CurrentRemoteDescription()
	if desc == nil {
		return mids
	}
	d := *desc
	parsed, err := d.Unmarshal()
	if err != nil {
		return mids
	}
	for _, m := range parsed.MediaDescriptions {
		if mid, ok := m.Attribute("mid"); ok {
			mids[mid] = true
		}
	}
	return mids
}

// negotiatedLocked reports whether an offer/answer exchange has completed
func (l *PeerLink) negotiatedLocked() bool {
	return l.pc.CurrentRemoteDescription() != nil
}

// strayAnswerLocked reports whether an answer arriving now can only belong
// to an offer this link never made: the link answered, is stable and has
// not connected. Caller holds l.mu.
func (l *PeerLink) strayAnswerLocked() bool {
	return l.role == RoleAnswerer &&
		l.pc.SignalingState() == webrtc.SignalingStateStable &&
		l.pc.ConnectionState() != webrtc.PeerConnectionStateConnected
}

// restartedLocked reports whether offer comes from a different connection
// than the one already negotiated, detected by a changed ICE ufrag
func (l *PeerLink) restartedLocked(offer webrtc.SessionDescription) bool {
	cur := l.pc.CurrentRemoteDescription()
	if cur == nil {
		return false
	}
	was, now := iceUfrag(*cur), iceUfrag(offer)
	return was != "" && now != "" && was != now
}

func iceUfrag(desc webrtc.SessionDescription) string {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return ""
	}
	if v, ok := parsed.Attribute("ice-ufrag"); ok {
		return v
	}
	for _, m := range parsed.MediaDescriptions {
		if v, ok := m.Attribute("ice-ufrag"); ok {
			return v
		}
	}
	return ""
}

// flushPendingLocked applies buffered candidates. Caller holds l.mu.
func (l *PeerLink) flushPendingLocked() (applied int, errs []error) {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			errs = append(errs, err)
			continue
		}
		applied++
	}
	return applied, errs
}

// Close closes the peer connection
func (l *PeerLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	pc := l.pc
	l.senders = nil
	l.pending = nil
	l.mu.Unlock()

	return pc.Close()
}

// LinkInfo 连接信息
type LinkInfo struct {
	ParticipantID      string               `json:"participant_id"`
	TransportSessionID string               `json:"transport_session_id"`
	ConnectionState    string               `json:"connection_state"`
	SignalingState     string               `json:"signaling_state"`
	Role               string               `json:"role,omitempty"`
	Transceivers       int                  `json:"transceivers"`
	PendingCandidates  int                  `json:"pending_candidates"`
	Uptime             float64              `json:"uptime_seconds"`
	Stats              TrafficStatsSnapshot `json:"stats"`
}

// Info returns a snapshot of the link
func (l *PeerLink) Info() LinkInfo {
	l.mu.Lock()
	role := l.role
	pending := len(l.pending)
	l.mu.Unlock()

	return LinkInfo{
		ParticipantID:      l.participantID,
		TransportSessionID: l.transportSessionID,
		ConnectionState:    l.pc.ConnectionState().String(),
		SignalingState:     l.pc.SignalingState().String(),
		Role:               string(role),
		Transceivers:       len(l.pc.GetTransceivers()),
		PendingCandidates:  pending,
		Uptime:             time.Since(l.createdAt).Seconds(),
		Stats:              l.stats.Snapshot(),
	}
}
