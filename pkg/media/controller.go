/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Local Media Controller - 本地摄像头/麦克风/屏幕共享
 * 采集失败时按 音视频 -> 仅视频 -> 仅音频 逐级降级
 * 轨道增删替换通过 OnTrackChanged 通知重协商引擎
 */
package media

import (
	"context"
	"sync"

	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// TrackChange describes a change of the local track of one kind.
// Old == nil means added, New == nil means removed, both set means replaced.
type TrackChange struct {
	Kind Kind
	Old  *Track
	New  *Track
}

// Controller owns the LocalMediaSession.
type Controller struct {
	// opMu serializes acquisition and release
	opMu sync.Mutex
	// emitMu keeps change callbacks in order
	emitMu sync.Mutex

	mu          sync.RWMutex
	device      Device
	constraints Constraints
	session     *LocalMediaSession

	sharing bool
	parked  *Track // camera track set aside during screen share

	ready       chan struct{}
	readyClosed bool

	onTrackChanged func(TrackChange)

	closed bool
}

// NewController creates a controller on top of a capture device
func NewController(device Device, constraints Constraints) *Controller {
	return &Controller{
		device:      device,
		constraints: constraints,
		session:     &LocalMediaSession{},
		ready:       make(chan struct{}),
	}
}

// Session returns the local media session. The pointer is stable for the
// controller's lifetime.
func (c *Controller) Session() *LocalMediaSession {
	return c.session
}

// Flags returns the current local media flags
func (c *Controller) Flags() Flags {
	return c.session.Flags()
}

// Ready is closed once the session holds at least one track. Stop re-arms it.
func (c *Controller) Ready() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// IsSharing reports whether the video track is a screen share
func (c *Controller) IsSharing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sharing
}

// SetOnTrackChanged sets the callback for local track changes
func (c *Controller) SetOnTrackChanged(fn func(TrackChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrackChanged = fn
}

// emitTrackChanged reports changes in order. A change whose New track is no
// longer the session's track was overtaken by a later operation, which
// emits its own change, so it is dropped.
func (c *Controller) emitTrackChanged(changes []TrackChange) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.RLock()
	fn := c.onTrackChanged
	c.mu.RUnlock()

	if fn == nil {
		return
	}
	for _, ch := range changes {
		if c.session.Track(ch.Kind) != ch.New {
			utils.Debug("[Media] %s change superseded", ch.Kind)
			continue
		}
		fn(ch)
	}
}

func (c *Controller) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.readyClosed {
		close(c.ready)
		c.readyClosed = true
	}
}

func (c *Controller) rearm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readyClosed {
		c.ready = make(chan struct{})
		c.readyClosed = false
	}
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Start acquires the requested devices that are not already held.
//
// When video and audio are both requested and the request fails with a
// not-found error, it retries with video only and then with audio only.
// Any other failure is returned as is.
func (c *Controller) Start(ctx context.Context, wantVideo, wantAudio bool) (*LocalMediaSession, error) {
	if !wantVideo && !wantAudio {
		return nil, ErrNothingRequested
	}

	c.opMu.Lock()
	if c.isClosed() {
		c.opMu.Unlock()
		return nil, ErrControllerClosed
	}

	needVideo := wantVideo && !c.hasCamera()
	needAudio := wantAudio && c.session.AudioTrack() == nil
	if !needVideo && !needAudio {
		c.opMu.Unlock()
		return c.session, nil
	}

	tracks, err := c.acquire(ctx, needVideo, needAudio)
	if err != nil {
		c.opMu.Unlock()
		utils.Error("[Media] start failed: %v", err)
		return nil, err
	}

	changes := c.install(tracks)
	c.markReady()
	flags := c.session.Flags()
	c.opMu.Unlock()

	utils.Info("[Media] started: video=%v audio=%v", flags.VideoEnabled, flags.AudioEnabled)
	c.emitTrackChanged(changes)
	return c.session, nil
}

// hasCamera reports whether a camera track is held, live or parked. Caller holds opMu.
func (c *Controller) hasCamera() bool {
	c.mu.RLock()
	sharing, parked := c.sharing, c.parked
	c.mu.RUnlock()
	if sharing {
		return parked != nil
	}
	return c.session.VideoTrack() != nil
}

func (c *Controller) acquire(ctx context.Context, video, audio bool) ([]*Track, error) {
	tracks, err := c.getUserMedia(ctx, video, audio)
	if err == nil {
		return tracks, nil
	}
	if !(video && audio) || !IsNotFound(err) {
		return nil, err
	}

	utils.Warn("[Media] %v, retrying with video only", err)
	tracks, err = c.getUserMedia(ctx, true, false)
	if err == nil {
		return tracks, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	utils.Warn("[Media] %v, retrying with audio only", err)
	return c.getUserMedia(ctx, false, true)
}

func (c *Controller) getUserMedia(ctx context.Context, video, audio bool) ([]*Track, error) {
	cons := c.constraints
	cons.Video = video
	cons.Audio = audio
	return c.device.GetUserMedia(ctx, cons)
}

// install puts acquired tracks into the session. Caller holds opMu.
func (c *Controller) install(tracks []*Track) []TrackChange {
	var changes []TrackChange
	for _, t := range tracks {
		if t.Kind() == KindAudio && !t.Enabled() {
			t.SetEnabled(true)
		}
		c.watch(t)

		if t.Kind() == KindVideo {
			c.mu.Lock()
			sharing := c.sharing
			if sharing {
				c.parked = t
			}
			c.mu.Unlock()
			if sharing {
				continue
			}
		}

		old := c.session.set(t.Kind(), t)
		if old != nil {
			old.Stop()
		}
		changes = append(changes, TrackChange{Kind: t.Kind(), Old: old, New: t})
	}
	return changes
}

// ToggleVideo flips the enabled flag of the video track. Without a video
// track it acquires a camera and adds it, leaving audio untouched.
func (c *Controller) ToggleVideo(ctx context.Context) (Flags, error) {
	return c.toggle(ctx, KindVideo)
}

// ToggleAudio flips the enabled flag of the audio track. Without an audio
// track it acquires a microphone and adds it, leaving video untouched.
func (c *Controller) ToggleAudio(ctx context.Context) (Flags, error) {
	return c.toggle(ctx, KindAudio)
}

func (c *Controller) toggle(ctx context.Context, kind Kind) (Flags, error) {
	c.opMu.Lock()
	if c.isClosed() {
		c.opMu.Unlock()
		return Flags{}, ErrControllerClosed
	}

	if t := c.session.Track(kind); t != nil {
		t.SetEnabled(!t.Enabled())
		flags := c.session.Flags()
		c.opMu.Unlock()
		utils.Info("[Media] %s enabled=%v", kind, t.Enabled())
		return flags, nil
	}

	tracks, err := c.getUserMedia(ctx, kind == KindVideo, kind == KindAudio)
	if err != nil {
		c.opMu.Unlock()
		utils.Warn("[Media] acquire %s failed: %v", kind, err)
		return c.session.Flags(), err
	}
	changes := c.install(tracks)
	c.markReady()
	flags := c.session.Flags()
	c.opMu.Unlock()

	c.emitTrackChanged(changes)
	return flags, nil
}

// StartScreenShare swaps a display track in as the video track. The camera
// track, if any, is parked until StopScreenShare.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	c.opMu.Lock()
	if c.isClosed() {
		c.opMu.Unlock()
		return ErrControllerClosed
	}
	if c.IsSharing() {
		c.opMu.Unlock()
		return nil
	}

	screen, err := c.device.GetDisplayMedia(ctx, c.constraints)
	if err != nil {
		c.opMu.Unlock()
		utils.Warn("[Media] screen share failed: %v", err)
		return err
	}

	camera := c.session.set(KindVideo, screen)
	c.mu.Lock()
	c.sharing = true
	c.parked = camera
	c.mu.Unlock()
	c.markReady()
	c.opMu.Unlock()

	c.watch(screen)

	utils.Info("[Media] screen share started")
	c.emitTrackChanged([]TrackChange{{Kind: KindVideo, Old: camera, New: screen}})
	return nil
}

// watch handles a track that ends on its own, e.g. an unplugged device or a
// share stopped from the system UI
func (c *Controller) watch(t *Track) {
	go func() {
		<-t.Done()
		c.trackEnded(t)
	}()
}

func (c *Controller) trackEnded(t *Track) {
	if c.IsSharing() && c.session.VideoTrack() == t {
		c.stopShare(t)
		return
	}

	c.opMu.Lock()
	c.mu.Lock()
	if c.parked == t {
		c.parked = nil
		c.mu.Unlock()
		c.opMu.Unlock()
		utils.Warn("[Media] parked camera ended")
		return
	}
	c.mu.Unlock()

	// Stop 或替换已经处理过
	if c.session.Track(t.Kind()) != t {
		c.opMu.Unlock()
		return
	}
	c.session.set(t.Kind(), nil)
	if c.session.Empty() {
		c.rearm()
	}
	c.opMu.Unlock()

	utils.Warn("[Media] %s track ended", t.Kind())
	c.emitTrackChanged([]TrackChange{{Kind: t.Kind(), Old: t}})
}

// StopScreenShare stops the display track and restores the parked camera
// track (or no video).
func (c *Controller) StopScreenShare() error {
	c.stopShare(nil)
	return nil
}

// stopShare ends the current share. When only is set, it is a no-op unless
// only is still the shared track.
func (c *Controller) stopShare(only *Track) {
	c.opMu.Lock()
	if !c.IsSharing() {
		c.opMu.Unlock()
		return
	}
	screen := c.session.VideoTrack()
	if only != nil && screen != only {
		c.opMu.Unlock()
		return
	}

	c.mu.Lock()
	camera := c.parked
	c.parked = nil
	c.sharing = false
	c.mu.Unlock()

	c.session.set(KindVideo, camera)
	if c.session.Empty() {
		c.rearm()
	}
	c.opMu.Unlock()

	if screen != nil {
		screen.Stop()
	}

	utils.Info("[Media] screen share stopped")
	c.emitTrackChanged([]TrackChange{{Kind: KindVideo, Old: screen, New: camera}})
}

// Stop stops every track and clears the session
func (c *Controller) Stop() {
	c.opMu.Lock()

	c.mu.Lock()
	parked := c.parked
	c.parked = nil
	c.sharing = false
	c.mu.Unlock()

	audio := c.session.set(KindAudio, nil)
	video := c.session.set(KindVideo, nil)
	c.rearm()
	c.opMu.Unlock()

	var changes []TrackChange
	if audio != nil {
		audio.Stop()
		changes = append(changes, TrackChange{Kind: KindAudio, Old: audio})
	}
	if video != nil {
		video.Stop()
		changes = append(changes, TrackChange{Kind: KindVideo, Old: video})
	}
	if parked != nil {
		parked.Stop()
	}

	if len(changes) > 0 {
		utils.Info("[Media] stopped")
		c.emitTrackChanged(changes)
	}
}

// Close stops all media; later calls fail with ErrControllerClosed
func (c *Controller) Close() {
	c.Stop()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
