/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Memory Hub - 进程内信令中继
 * 用于示例程序和测试：按房间维护成员，按 transportSessionId 路由
 */
package signaling

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/maiguangyang/classroom_core/pkg/utils"
)

type member struct {
	relay       *MemoryRelay
	participant Participant
}

type pendingDelivery struct {
	to  *MemoryRelay
	msg Message
}

// Hub is an in-process relay server. Every MemoryRelay obtained from Connect
// behaves like a client socket of the same room bus.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*member // roomID -> transportSessionID -> member

	held    bool
	pending []pendingDelivery
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*member),
	}
}

// Connect opens a new transport session on the hub.
func (h *Hub) Connect() *MemoryRelay {
	return &MemoryRelay{
		hub:       h,
		sessionID: uuid.NewString(),
		inbox:     make(chan Message, defaultInboxSize),
	}
}

// Hold queues every delivery until Release is called, which makes
// simultaneous sends observable (both sides act before either receives).
func (h *Hub) Hold() {
	h.mu.Lock()
	h.held = true
	h.mu.Unlock()
}

// Release flushes queued deliveries in order and resumes direct delivery.
func (h *Hub) Release() {
	h.mu.Lock()
	h.held = false
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, p := range pending {
		p.to.deliver(p.msg)
	}
}

// Members returns the participants currently in a room.
func (h *Hub) Members(roomID string) []Participant {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[roomID]
	out := make([]Participant, 0, len(room))
	for _, m := range room {
		out = append(out, m.participant)
	}
	return out
}

// deliverLocked sends or queues a message. Caller holds h.mu.
func (h *Hub) deliverLocked(to *MemoryRelay, msg Message) {
	if h.held {
		h.pending = append(h.pending, pendingDelivery{to: to, msg: msg})
		return
	}
	to.deliver(msg)
}

func (h *Hub) join(r *MemoryRelay, m JoinRoom) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[m.RoomID]
	if !ok {
		room = make(map[string]*member)
		h.rooms[m.RoomID] = room
	}

	p := m.Participant
	p.TransportSessionID = r.sessionID
	room[r.sessionID] = &member{relay: r, participant: p}

	r.mu.Lock()
	r.roomID = m.RoomID
	r.participantID = p.ParticipantID
	r.mu.Unlock()

	roster := make([]Participant, 0, len(room))
	for _, other := range room {
		roster = append(roster, other.participant)
	}
	h.deliverLocked(r, RoomRoster{RoomID: m.RoomID, Participants: roster})

	for sid, other := range room {
		if sid == r.sessionID {
			continue
		}
		h.deliverLocked(other.relay, UserJoined{RoomID: m.RoomID, Participant: p})
	}
}

func (h *Hub) leave(r *MemoryRelay) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r.mu.Lock()
	roomID := r.roomID
	r.roomID = ""
	r.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	me, ok := room[r.sessionID]
	if !ok {
		return
	}
	delete(room, r.sessionID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}

	for _, other := range room {
		h.deliverLocked(other.relay, UserLeft{
			RoomID:             roomID,
			ParticipantID:      me.participant.ParticipantID,
			TransportSessionID: r.sessionID,
		})
	}
}

func (h *Hub) route(r *MemoryRelay, msg Message) error {
	to, _ := Destination(msg)

	h.mu.Lock()
	defer h.mu.Unlock()

	r.mu.Lock()
	roomID := r.roomID
	r.mu.Unlock()

	room := h.rooms[roomID]
	target, ok := room[to]
	if !ok {
		utils.Debug("[MemoryHub] drop %s to unknown session %s", msg.MessageType(), to)
		return nil
	}
	h.deliverLocked(target.relay, WithSender(msg, r.sessionID))
	return nil
}

// MemoryRelay is one client connection on a Hub.
type MemoryRelay struct {
	mu sync.Mutex

	hub           *Hub
	sessionID     string
	roomID        string
	participantID string
	inbox         chan Message

	closed bool
}

// SessionID returns the transport session id the hub assigned.
func (r *MemoryRelay) SessionID() string {
	return r.sessionID
}

// Send implements Relay
func (r *MemoryRelay) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRelayUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch m := msg.(type) {
	case JoinRoom:
		r.hub.join(r, m)
		return nil
	case LeaveRoom:
		r.hub.leave(r)
		return nil
	case Offer, Answer, Candidate:
		return r.hub.route(r, msg)
	default:
		return ErrUnknownMessageType
	}
}

// Messages implements Relay
func (r *MemoryRelay) Messages() <-chan Message {
	return r.inbox
}

// Close implements Relay. The hub announces the departure to the room.
func (r *MemoryRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.hub.leave(r)

	r.mu.Lock()
	r.closed = true
	close(r.inbox)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRelay) deliver(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.inbox <- msg:
	default:
		utils.Warn("[MemoryHub] inbox full for session %s, dropping %s", r.sessionID, msg.MessageType())
	}
}
