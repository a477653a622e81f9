/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Membership - 房间成员表
 * participantId 是唯一主键，transportSessionId 只是当前连接的路由地址
 */
package mesh

import (
	"sort"
	"sync"

	"github.com/maiguangyang/classroom_core/pkg/signaling"
)

// PeerEvent is returned when a remote participant needs a connection.
type PeerEvent struct {
	ParticipantID      string
	TransportSessionID string
	// Reconnected is set when a known participant arrived on a new
	// transport session; its old connection is dead.
	Reconnected bool
}

// Tracker maps transport sessions to participants and back.
type Tracker struct {
	mu sync.RWMutex

	localID       string
	byParticipant map[string]signaling.Participant
	bySession     map[string]string
}

// NewTracker creates a tracker for the local participant
func NewTracker(localID string) *Tracker {
	return &Tracker{
		localID:       localID,
		byParticipant: make(map[string]signaling.Participant),
		bySession:     make(map[string]string),
	}
}

// LocalID returns the local participant id
func (t *Tracker) LocalID() string {
	return t.localID
}

// OnRoster records every entry and returns an event for each remote one.
func (t *Tracker) OnRoster(entries []signaling.Participant) []PeerEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := make([]PeerEvent, 0, len(entries))
	for _, p := range entries {
		if ev, ok := t.upsertLocked(p); ok {
			events = append(events, ev)
		}
	}
	return events
}

// OnJoin records a participant. ok is false for the local participant.
func (t *Tracker) OnJoin(p signaling.Participant) (PeerEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.upsertLocked(p)
}

func (t *Tracker) upsertLocked(p signaling.Participant) (PeerEvent, bool) {
	if p.ParticipantID == "" {
		return PeerEvent{}, false
	}

	reconnected := false
	if old, ok := t.byParticipant[p.ParticipantID]; ok && old.TransportSessionID != p.TransportSessionID {
		if old.TransportSessionID != "" {
			delete(t.bySession, old.TransportSessionID)
			reconnected = true
		}
	}

	t.byParticipant[p.ParticipantID] = p
	if p.TransportSessionID != "" {
		t.bySession[p.TransportSessionID] = p.ParticipantID
	}

	if p.ParticipantID == t.localID {
		return PeerEvent{}, false
	}
	return PeerEvent{
		ParticipantID:      p.ParticipantID,
		TransportSessionID: p.TransportSessionID,
		Reconnected:        reconnected,
	}, true
}

// OnLeave removes a participant and returns the id whose connection must go.
// Either argument may be empty. A leave for a transport session the
// participant no longer uses only drops that stale mapping.
func (t *Tracker) OnLeave(participantID, transportSessionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if participantID == "" {
		participantID = t.bySession[transportSessionID]
	}
	p, ok := t.byParticipant[participantID]
	if !ok {
		if transportSessionID != "" {
			delete(t.bySession, transportSessionID)
		}
		return "", false
	}

	if transportSessionID != "" && p.TransportSessionID != transportSessionID {
		delete(t.bySession, transportSessionID)
		return "", false
	}

	delete(t.byParticipant, participantID)
	if p.TransportSessionID != "" {
		delete(t.bySession, p.TransportSessionID)
	}
	if participantID == t.localID {
		return "", false
	}
	return participantID, true
}

// ResolveParticipant maps a transport session to its participant
func (t *Tracker) ResolveParticipant(transportSessionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.bySession[transportSessionID]
	return id, ok
}

// TransportSession returns the current transport session of a participant
func (t *Tracker) TransportSession(participantID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byParticipant[participantID]
	if !ok || p.TransportSessionID == "" {
		return "", false
	}
	return p.TransportSessionID, true
}

// Participant returns the record of a participant
func (t *Tracker) Participant(participantID string) (signaling.Participant, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byParticipant[participantID]
	return p, ok
}

// Roster returns every known participant ordered by id
func (t *Tracker) Roster() []signaling.Participant {
	t.mu.RLock()
	out := make([]signaling.Participant, 0, len(t.byParticipant))
	for _, p := range t.byParticipant {
		out = append(out, p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

// Len returns the number of known participants, local included
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byParticipant)
}

// Reset forgets everyone
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byParticipant = make(map[string]signaling.Participant)
	t.bySession = make(map[string]string)
}
