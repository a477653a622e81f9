/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Remote Stream Table - 按远端参与者聚合收到的轨道
 * 每个远端轨道一个读取任务：统计流量、判断静音、可选 RTP 回调
 */
package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// TrackEventType is a remote track lifecycle event
type TrackEventType string

const (
	TrackAdded   TrackEventType = "added"
	TrackEnded   TrackEventType = "ended"
	TrackMuted   TrackEventType = "muted"
	TrackUnmuted TrackEventType = "unmuted"
)

// TrackEvent 远端轨道事件
type TrackEvent struct {
	ParticipantID string         `json:"participant_id"`
	TrackID       string         `json:"track_id"`
	Kind          media.Kind     `json:"kind"`
	Type          TrackEventType `json:"type"`
}

// RemoteTrack is one inbound track of a remote participant
type RemoteTrack struct {
	id       string
	streamID string
	kind     media.Kind
	codec    string
	track    *webrtc.TrackRemote

	muted atomic.Bool
	seq   seqTracker
}

func newRemoteTrack(track *webrtc.TrackRemote) *RemoteTrack {
	return &RemoteTrack{
		id:       track.ID(),
		streamID: track.StreamID(),
		kind:     media.KindOf(track.Kind()),
		codec:    track.Codec().MimeType,
		track:    track,
	}
}

func (t *RemoteTrack) ID() string                  { return t.id }
func (t *RemoteTrack) StreamID() string            { return t.streamID }
func (t *RemoteTrack) Kind() media.Kind            { return t.kind }
func (t *RemoteTrack) Codec() string               { return t.codec }
func (t *RemoteTrack) Muted() bool                 { return t.muted.Load() }
func (t *RemoteTrack) Remote() *webrtc.TrackRemote { return t.track }

// RemoteStream aggregates the tracks of one remote participant
type RemoteStream struct {
	participantID string
	tracks        map[string]*RemoteTrack
	stats         *TrafficStats
}

// RemoteTrackInfo 远端轨道信息
type RemoteTrackInfo struct {
	ID       string     `json:"id"`
	StreamID string     `json:"stream_id"`
	Kind     media.Kind `json:"kind"`
	Codec    string     `json:"codec"`
	Muted    bool       `json:"muted"`
}

// RemoteStreamInfo 远端流信息
type RemoteStreamInfo struct {
	ParticipantID string               `json:"participant_id"`
	Tracks        []RemoteTrackInfo    `json:"tracks"`
	Stats         TrafficStatsSnapshot `json:"stats"`
}

// Table is the remote stream table
type Table struct {
	mu sync.RWMutex

	streams     map[string]*RemoteStream
	pool        *BufferPool
	muteTimeout time.Duration

	onStreamAdded   func(participantID string)
	onStreamRemoved func(participantID string)
	onTrackEvent    func(TrackEvent)
	onRTP           func(participantID string, t *RemoteTrack, pkt *rtp.Packet)
}

// NewTable creates an empty table
func NewTable(muteTimeout time.Duration, pool *BufferPool) *Table {
	if muteTimeout <= 0 {
		muteTimeout = DefaultConfig().MuteTimeout
	}
	if pool == nil {
		pool = NewBufferPool()
	}
	return &Table{
		streams:     make(map[string]*RemoteStream),
		pool:        pool,
		muteTimeout: muteTimeout,
	}
}

// SetOnStreamAdded is called when a participant's first track arrives
func (t *Table) SetOnStreamAdded(fn func(participantID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStreamAdded = fn
}

// SetOnStreamRemoved is called when a participant's entry is deleted
func (t *Table) SetOnStreamRemoved(fn func(participantID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStreamRemoved = fn
}

// SetOnTrackEvent 设置轨道事件回调
func (t *Table) SetOnTrackEvent(fn func(TrackEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrackEvent = fn
}

// SetOnRTP sets the sink for every inbound RTP packet. Called on the
// reader goroutine of the track; the packet is only valid during the call.
func (t *Table) SetOnRTP(fn func(participantID string, rt *RemoteTrack, pkt *rtp.Packet)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRTP = fn
}

func (t *Table) emitStreamAdded(participantID string) {
	t.mu.RLock()
	fn := t.onStreamAdded
	t.mu.RUnlock()
	if fn != nil {
		fn(participantID)
	}
}

func (t *Table) emitStreamRemoved(participantID string) {
	t.mu.RLock()
	fn := t.onStreamRemoved
	t.mu.RUnlock()
	if fn != nil {
		fn(participantID)
	}
}

func (t *Table) emitTrackEvent(participantID string, rt *RemoteTrack, typ TrackEventType) {
	t.mu.RLock()
	fn := t.onTrackEvent
	t.mu.RUnlock()
	if fn != nil {
		fn(TrackEvent{ParticipantID: participantID, TrackID: rt.id, Kind: rt.kind, Type: typ})
	}
}

// AddTrack records an inbound track. It returns nil if a track with the
// same id is already recorded for the participant.
func (t *Table) AddTrack(participantID string, track *webrtc.TrackRemote) *RemoteTrack {
	rt := newRemoteTrack(track)
	if t.add(participantID, rt) {
		return rt
	}
	return nil
}

func (t *Table) add(participantID string, rt *RemoteTrack) bool {
	t.mu.Lock()
	stream, ok := t.streams[participantID]
	created := false
	if !ok {
		stream = &RemoteStream{
			participantID: participantID,
			tracks:        make(map[string]*RemoteTrack),
			stats:         NewTrafficStats(),
		}
		t.streams[participantID] = stream
		created = true
	}
	if _, dup := stream.tracks[rt.id]; dup {
		t.mu.Unlock()
		return false
	}
	stream.tracks[rt.id] = rt
	t.mu.Unlock()

	utils.Info("[Streams] %s track %s from %s", rt.kind, rt.id, participantID)
	if created {
		t.emitStreamAdded(participantID)
	}
	t.emitTrackEvent(participantID, rt, TrackAdded)
	return true
}

// RemoveTrack drops a track and reports it ended. The participant's entry
// stays until its link goes away.
func (t *Table) RemoveTrack(participantID string, rt *RemoteTrack) {
	t.mu.Lock()
	stream, ok := t.streams[participantID]
	if !ok || stream.tracks[rt.id] != rt {
		t.mu.Unlock()
		return
	}
	delete(stream.tracks, rt.id)
	t.mu.Unlock()

	t.emitTrackEvent(participantID, rt, TrackEnded)
}

// Remove deletes a participant's entry
func (t *Table) Remove(participantID string) {
	t.mu.Lock()
	_, ok := t.streams[participantID]
	delete(t.streams, participantID)
	t.mu.Unlock()

	if ok {
		utils.Info("[Streams] removed %s", participantID)
		t.emitStreamRemoved(participantID)
	}
}

// Clear deletes every entry
func (t *Table) Clear() {
	for _, id := range t.IDs() {
		t.Remove(id)
	}
}

// Run reads rt until the track ends or ctx is done. A read that times out
// after the mute timeout marks the track muted; the next packet unmutes it.
func (t *Table) Run(ctx context.Context, participantID string, rt *RemoteTrack) {
	defer t.RemoveTrack(participantID, rt)

	buf := t.pool.GetBuffer()
	defer t.pool.PutBuffer(buf)

	pkt := &rtp.Packet{}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := rt.track.SetReadDeadline(time.Now().Add(t.muteTimeout)); err != nil {
			return
		}

		n, _, err := rt.track.Read(buf)
		if err != nil {
			if isTimeout(err) {
				if rt.muted.CompareAndSwap(false, true) {
					t.emitTrackEvent(participantID, rt, TrackMuted)
				}
				continue
			}
			utils.Debug("[Streams] track %s from %s ended: %v", rt.id, participantID, err)
			return
		}

		if rt.muted.CompareAndSwap(true, false) {
			t.emitTrackEvent(participantID, rt, TrackUnmuted)
		}
		t.record(participantID, rt, buf[:n], pkt)
	}
}

func (t *Table) record(participantID string, rt *RemoteTrack, data []byte, pkt *rtp.Packet) {
	t.mu.RLock()
	stream := t.streams[participantID]
	fn := t.onRTP
	t.mu.RUnlock()

	if err := pkt.Unmarshal(data); err != nil {
		return
	}
	if stream != nil {
		stream.stats.AddPacketIn(len(data))
		if lost := rt.seq.update(pkt.SequenceNumber); lost > 0 {
			stream.stats.AddPacketsLost(lost)
		}
	}
	if fn != nil {
		fn(participantID, rt, pkt)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Get returns the tracks of a participant
func (t *Table) Get(participantID string) ([]*RemoteTrack, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stream, ok := t.streams[participantID]
	if !ok {
		return nil, false
	}
	tracks := make([]*RemoteTrack, 0, len(stream.tracks))
	for _, rt := range stream.tracks {
		tracks = append(tracks, rt)
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].kind < tracks[j].kind })
	return tracks, true
}

// IDs returns the participants with an entry, sorted
func (t *Table) IDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.streams))
	for id := range t.streams {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of entries
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.streams)
}

// Snapshot returns every entry ordered by participant id
func (t *Table) Snapshot() []RemoteStreamInfo {
	t.mu.RLock()
	streams := make([]*RemoteStream, 0, len(t.streams))
	for _, s := range t.streams {
		streams = append(streams, s)
	}
	t.mu.RUnlock()

	out := make([]RemoteStreamInfo, 0, len(streams))
	for _, s := range streams {
		tracks, _ := t.Get(s.participantID)
		info := RemoteStreamInfo{
			ParticipantID: s.participantID,
			Tracks:        make([]RemoteTrackInfo, 0, len(tracks)),
			Stats:         s.stats.Snapshot(),
		}
		for _, rt := range tracks {
			info.Tracks = append(info.Tracks, RemoteTrackInfo{
				ID:       rt.id,
				StreamID: rt.streamID,
				Kind:     rt.kind,
				Codec:    rt.codec,
				Muted:    rt.Muted(),
			})
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// RemoteStreamsJSON 序列化远端流列表
func RemoteStreamsJSON(streams []RemoteStreamInfo) string {
	data, _ := json.Marshal(streams)
	return string(data)
}
