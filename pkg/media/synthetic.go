/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Synthetic Device - 无硬件环境下的假采集设备
 * 周期性写入占位 RTP 包，远端 OnTrack 需要首个 RTP 包才会触发
 */
package media

import (
	"context"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/maiguangyang/classroom_core/pkg/utils"
)

const defaultSyntheticInterval = 20 * time.Millisecond

// SyntheticDevice is a Device that produces placeholder RTP. Failures can be
// injected per kind.
type SyntheticDevice struct {
	mu       sync.Mutex
	registry *CodecRegistry
	interval time.Duration

	failures     map[Kind]error
	displayErr   error
	displayEnded bool
	audioMuted   bool
	requests     []Constraints
	displayCount int
}

// NewSyntheticDevice creates a synthetic device
func NewSyntheticDevice() *SyntheticDevice {
	return &SyntheticDevice{
		registry: NewCodecRegistry(),
		interval: defaultSyntheticInterval,
		failures: make(map[Kind]error),
	}
}

// Fail makes every request including kind fail with err. A nil err clears it.
func (d *SyntheticDevice) Fail(kind Kind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, kind)
		return
	}
	d.failures[kind] = err
}

// FailDisplay makes GetDisplayMedia fail with err
func (d *SyntheticDevice) FailDisplay(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displayErr = err
}

// SetDisplayEnded makes GetDisplayMedia return a track that has already
// ended, as when the user cancels the share right away
func (d *SyntheticDevice) SetDisplayEnded(ended bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displayEnded = ended
}

// SetAudioMuted makes acquired audio tracks start disabled
func (d *SyntheticDevice) SetAudioMuted(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audioMuted = muted
}

// SetInterval sets the RTP pump period
func (d *SyntheticDevice) SetInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interval = interval
}

// Requests returns every GetUserMedia request seen so far
func (d *SyntheticDevice) Requests() []Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Constraints, len(d.requests))
	copy(out, d.requests)
	return out
}

// DisplayRequests returns how many times GetDisplayMedia was called
func (d *SyntheticDevice) DisplayRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displayCount
}

// GetUserMedia implements Device
func (d *SyntheticDevice) GetUserMedia(ctx context.Context, c Constraints) ([]*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.requests = append(d.requests, c)
	videoErr := d.failures[KindVideo]
	audioErr := d.failures[KindAudio]
	audioMuted := d.audioMuted
	d.mu.Unlock()

	if c.Video && videoErr != nil {
		return nil, videoErr
	}
	if c.Audio && audioErr != nil {
		return nil, audioErr
	}

	var tracks []*Track
	if c.Audio {
		t, err := d.newTrack(KindAudio, OriginMicrophone)
		if err != nil {
			return nil, err
		}
		if audioMuted {
			t.SetEnabled(false)
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := d.newTrack(KindVideo, OriginCamera)
		if err != nil {
			for _, other := range tracks {
				other.Stop()
			}
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// GetDisplayMedia implements Device
func (d *SyntheticDevice) GetDisplayMedia(ctx context.Context, c Constraints) (*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	err := d.displayErr
	ended := d.displayEnded
	d.displayCount++
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t, err := d.newTrack(KindVideo, OriginScreen)
	if err != nil {
		return nil, err
	}
	if ended {
		t.Stop()
	}
	return t, nil
}

func (d *SyntheticDevice) newTrack(kind Kind, origin Origin) (*Track, error) {
	codec := d.registry.Preferred(kind)

	stop := make(chan struct{})
	t, err := NewTrack(kind, origin, codec.Capability(), func() { close(stop) })
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	interval := d.interval
	d.mu.Unlock()

	go pumpSynthetic(t, codec, interval, stop)
	return t, nil
}

func pumpSynthetic(t *Track, codec CodecInfo, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	step := uint32(uint64(codec.ClockRate) * uint64(interval) / uint64(time.Second))
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: uint8(codec.PayloadType),
			Marker:      true,
		},
		// VP8 descriptor start bit + filler; opus TOC for a 20ms frame
		Payload: []byte{0x10, 0x00, 0x00, 0x00},
	}
	if t.Kind() == KindAudio {
		pkt.Payload = []byte{0xf8, 0xff, 0xfe}
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pkt.SequenceNumber++
			pkt.Timestamp += step
			if err := t.WriteRTP(pkt); err != nil && err != ErrTrackStopped {
				utils.Debug("[Synthetic] write %s: %v", t.Kind(), err)
			}
		}
	}
}
