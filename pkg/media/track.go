/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Track - 本地采集轨道
 * 包装 TrackLocalStaticRTP，禁用时丢弃写入的 RTP（保持协商但静音/黑屏）
 */
package media

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Kind is the media kind of a track
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// RTPCodecType converts to the pion codec type
func (k Kind) RTPCodecType() webrtc.RTPCodecType {
	if k == KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// KindOf converts a pion codec type
func KindOf(t webrtc.RTPCodecType) Kind {
	if t == webrtc.RTPCodecTypeVideo {
		return KindVideo
	}
	return KindAudio
}

// Origin is where a track's media comes from
type Origin string

const (
	OriginCamera     Origin = "camera"
	OriginMicrophone Origin = "microphone"
	OriginScreen     Origin = "screen"
)

// Track is a local capture track.
type Track struct {
	mu     sync.RWMutex
	id     string
	kind   Kind
	origin Origin
	local  *webrtc.TrackLocalStaticRTP

	enabled atomic.Bool
	written atomic.Uint64
	dropped atomic.Uint64

	release func()
	done    chan struct{}
	onEnded func()
	stopped bool
}

// NewTrack creates a track with the given codec. release is called once when
// the track stops and should free the capture source.
func NewTrack(kind Kind, origin Origin, codec webrtc.RTPCodecCapability, release func()) (*Track, error) {
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, id, "classroom-"+string(origin))
	if err != nil {
		return nil, err
	}

	t := &Track{
		id:      id,
		kind:    kind,
		origin:  origin,
		local:   local,
		release: release,
		done:    make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

// ID returns the track ID
func (t *Track) ID() string {
	return t.id
}

// Kind returns the media kind
func (t *Track) Kind() Kind {
	return t.kind
}

// Origin returns the capture origin
func (t *Track) Origin() Origin {
	return t.origin
}

// Local returns the pion track attached to RTP senders
func (t *Track) Local() *webrtc.TrackLocalStaticRTP {
	return t.local
}

// Enabled reports whether RTP is forwarded
func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled toggles forwarding. A disabled track stays negotiated.
func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// WriteRTP forwards a packet to every bound sender unless the track is
// disabled or stopped.
func (t *Track) WriteRTP(pkt *rtp.Packet) error {
	if t.Ended() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		t.dropped.Add(1)
		return nil
	}
	if err := t.local.WriteRTP(pkt); err != nil {
		return err
	}
	t.written.Add(1)
	return nil
}

// Stats returns forwarded and dropped packet counts
func (t *Track) Stats() (written, dropped uint64) {
	return t.written.Load(), t.dropped.Load()
}

// SetOnEnded sets a callback fired once when the track stops
func (t *Track) SetOnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

// Done is closed when the track stops
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// Ended reports whether the track has stopped
func (t *Track) Ended() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}

// Stop releases the capture source. Safe to call more than once.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	release := t.release
	onEnded := t.onEnded
	close(t.done)
	t.mu.Unlock()

	if release != nil {
		release()
	}
	if onEnded != nil {
		onEnded()
	}
}
