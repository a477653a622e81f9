/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Local Media Controller Tests
 */
package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestController() (*Controller, *SyntheticDevice) {
	dev := NewSyntheticDevice()
	return NewController(dev, DefaultConstraints()), dev
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []TrackChange
}

func (r *changeRecorder) record(c TrackChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) all() []TrackChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TrackChange, len(r.changes))
	copy(out, r.changes)
	return out
}

func TestControllerStart(t *testing.T) {
	c, _ := newTestController()
	defer c.Close()

	rec := &changeRecorder{}
	c.SetOnTrackChanged(rec.record)

	session, err := c.Start(context.Background(), true, true)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	flags := session.Flags()
	if !flags.VideoEnabled || !flags.AudioEnabled {
		t.Errorf("Expected both enabled, got %+v", flags)
	}
	if flags.VideoOrigin != OriginCamera {
		t.Errorf("Expected camera origin, got %s", flags.VideoOrigin)
	}
	if n := len(rec.all()); n != 2 {
		t.Errorf("Expected 2 track changes, got %d", n)
	}

	select {
	case <-c.Ready():
	default:
		t.Error("Ready should be closed after start")
	}

	// 再次 Start 不重复采集
	if _, err := c.Start(context.Background(), true, true); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if n := len(rec.all()); n != 2 {
		t.Errorf("Second start should not change tracks, got %d changes", n)
	}
}

func TestControllerCascadeVideoOnly(t *testing.T) {
	c, dev := newTestController()
	defer c.Close()

	dev.Fail(KindAudio, NewDeviceError(ReasonNotFound, KindAudio, nil))

	session, err := c.Start(context.Background(), true, true)
	if err != nil {
		t.Fatalf("Start should recover, got %v", err)
	}

	flags := session.Flags()
	if !flags.VideoEnabled || flags.AudioEnabled {
		t.Errorf("Expected video only, got %+v", flags)
	}

	reqs := dev.Requests()
	if len(reqs) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(reqs))
	}
	if !reqs[1].Video || reqs[1].Audio {
		t.Errorf("Second request should be video only, got %+v", reqs[1])
	}
}

func TestControllerCascadeAudioOnly(t *testing.T) {
	c, dev := newTestController()
	defer c.Close()

	dev.Fail(KindVideo, NewDeviceError(ReasonNotFound, KindVideo, nil))

	session, err := c.Start(context.Background(), true, true)
	if err != nil {
		t.Fatalf("Start should recover, got %v", err)
	}
	flags := session.Flags()
	if flags.HasVideo || !flags.AudioEnabled {
		t.Errorf("Expected audio only, got %+v", flags)
	}
	if n := len(dev.Requests()); n != 3 {
		t.Errorf("Expected 3 requests, got %d", n)
	}
}

func TestControllerCascadeStopsOnOtherErrors(t *testing.T) {
	c, dev := newTestController()
	defer c.Close()

	dev.Fail(KindAudio, NewDeviceError(ReasonPermissionDenied, KindAudio, nil))

	_, err := c.Start(context.Background(), true, true)
	if ReasonOf(err) != ReasonPermissionDenied {
		t.Fatalf("Expected permission-denied, got %v", err)
	}
	if n := len(dev.Requests()); n != 1 {
		t.Errorf("Expected no retry, got %d requests", n)
	}

	select {
	case <-c.Ready():
		t.Error("Ready should not be closed after failure")
	default:
	}
}

func TestControllerCascadeExhausted(t *testing.T) {
	c, dev := newTestController()
	defer c.Close()

	dev.Fail(KindAudio, NewDeviceError(ReasonNotFound, KindAudio, nil))
	dev.Fail(KindVideo, NewDeviceError(ReasonNotFound, KindVideo, nil))

	_, err := c.Start(context.Background(), true, true)
	if !IsNotFound(err) {
		t.Fatalf("Expected not-found, got %v", err)
	}

	var de *DeviceError
	if !errors.As(err, &de) || de.Kind != KindAudio {
		t.Errorf("Expected audio DeviceError from the last attempt, got %v", err)
	}
}

func TestControllerForcesAudioEnabled(t *testing.T) {
	c, dev := newTestController()
	defer c.Close()

	dev.SetAudioMuted(true)
	session, err := c.Start(context.Background(), false, true)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !session.Flags().AudioEnabled {
		t.Error("Audio should be forced enabled")
	}
}

func TestControllerToggle(t *testing.T) {
	c, _ := newTestController()
	defer c.Close()

	rec := &changeRecorder{}
	c.SetOnTrackChanged(rec.record)

	c.Start(context.Background(), false, true)

	flags, err := c.ToggleAudio(context.Background())
	if err != nil {
		t.Fatalf("ToggleAudio failed: %v", err)
	}
	if flags.AudioEnabled || !flags.HasAudio {
		t.Errorf("Audio should be disabled but present, got %+v", flags)
	}

	// 没有视频轨道时 ToggleVideo 采集摄像头
	flags, err = c.ToggleVideo(context.Background())
	if err != nil {
		t.Fatalf("ToggleVideo failed: %v", err)
	}
	if !flags.VideoEnabled {
		t.Errorf("Video should be acquired and enabled, got %+v", flags)
	}
	if flags.AudioEnabled {
		t.Error("Acquiring video should not touch audio")
	}

	changes := rec.all()
	if len(changes) != 2 || changes[1].Kind != KindVideo || changes[1].Old != nil {
		t.Errorf("Expected audio add then video add, got %+v", changes)
	}

	flags, _ = c.ToggleVideo(context.Background())
	if flags.VideoEnabled || !flags.HasVideo {
		t.Errorf("Video should be disabled but present, got %+v", flags)
	}
	if len(rec.all()) != 2 {
		t.Error("Toggling an existing track should not change tracks")
	}
}

func TestControllerScreenShare(t *testing.T) {
	c, _ := newTestController()
	defer c.Close()

	rec := &changeRecorder{}
	c.SetOnTrackChanged(rec.record)

	session, _ := c.Start(context.Background(), true, true)
	camera := session.VideoTrack()

	if err := c.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("StartScreenShare failed: %v", err)
	}
	screen := session.VideoTrack()
	if screen.Origin() != OriginScreen {
		t.Fatalf("Expected screen origin, got %s", screen.Origin())
	}
	if camera.Ended() {
		t.Error("Camera should be parked, not stopped")
	}

	// 重复开启是 no-op
	c.StartScreenShare(context.Background())

	c.StopScreenShare()
	if session.VideoTrack() != camera {
		t.Error("Camera should be restored")
	}
	if !screen.Ended() {
		t.Error("Screen track should be stopped")
	}

	changes := rec.all()
	if len(changes) != 4 {
		t.Fatalf("Expected 4 changes, got %d", len(changes))
	}
	if changes[2].Old != camera || changes[2].New != screen {
		t.Error("Share start should replace camera with screen")
	}
	if changes[3].Old != screen || changes[3].New != camera {
		t.Error("Share stop should replace screen with camera")
	}
}

func TestControllerScreenShareEndsItself(t *testing.T) {
	c, _ := newTestController()
	defer c.Close()

	c.Start(context.Background(), false, true)
	if err := c.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("StartScreenShare failed: %v", err)
	}
	screen := c.Session().VideoTrack()

	// 用户在系统界面停止共享
	screen.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for c.IsSharing() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.IsSharing() {
		t.Fatal("Share should stop when the display track ends")
	}
	if c.Session().VideoTrack() != nil {
		t.Error("No camera was parked, video should be empty")
	}
}

func TestControllerScreenShareEndsAtOnce(t *testing.T) {
	c, dev := newTestController()
	defer c.Close()

	rec := &changeRecorder{}
	c.SetOnTrackChanged(rec.record)
	c.Start(context.Background(), true, true)
	camera := c.Session().VideoTrack()

	dev.SetDisplayEnded(true)
	if err := c.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("StartScreenShare failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.IsSharing() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.IsSharing() {
		t.Fatal("Share should stop when the display track ends")
	}
	if c.Session().VideoTrack() != camera {
		t.Fatal("Camera should be restored")
	}

	// 最后一次视频变化必须是摄像头，不能留下已停止的屏幕轨道
	lastVideo := func() TrackChange {
		var last TrackChange
		for _, ch := range rec.all() {
			if ch.Kind == KindVideo {
				last = ch
			}
		}
		return last
	}
	deadline = time.Now().Add(2 * time.Second)
	for lastVideo().New != camera && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if last := lastVideo(); last.New != camera {
		t.Fatalf("Last video change should restore the camera, got %+v", last)
	}

	// 屏幕轨道的变化如果晚到，也必须被丢弃
	time.Sleep(100 * time.Millisecond)
	if last := lastVideo(); last.New != camera {
		t.Errorf("A stale screen change was delivered after the restore: %+v", last)
	}
}

func TestControllerDeviceEndsItself(t *testing.T) {
	c, _ := newTestController()
	defer c.Close()

	rec := &changeRecorder{}
	c.SetOnTrackChanged(rec.record)
	c.Start(context.Background(), true, true)
	camera := c.Session().VideoTrack()
	mic := c.Session().AudioTrack()

	// 摄像头被拔出
	camera.Stop()

	removed := func(kind Kind, old *Track) bool {
		for _, ch := range rec.all() {
			if ch.Kind == kind && ch.Old == old && ch.New == nil {
				return true
			}
		}
		return false
	}
	eventually(t, "camera removal", func() bool { return removed(KindVideo, camera) })
	if c.Flags().HasVideo {
		t.Error("Ended camera should leave the session")
	}
	if !c.Flags().HasAudio {
		t.Error("Microphone should be untouched")
	}

	mic.Stop()
	eventually(t, "microphone removal", func() bool { return removed(KindAudio, mic) })
	if !c.Session().Empty() {
		t.Fatal("Ended microphone should leave the session")
	}
	select {
	case <-c.Ready():
		t.Error("Ready should re-arm once every track has ended")
	default:
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestControllerStop(t *testing.T) {
	c, _ := newTestController()

	session, _ := c.Start(context.Background(), true, true)
	tracks := session.Tracks()

	c.Stop()
	if !session.Empty() {
		t.Error("Session should be empty")
	}
	for _, tr := range tracks {
		if !tr.Ended() {
			t.Errorf("%s track should be stopped", tr.Kind())
		}
	}

	select {
	case <-c.Ready():
		t.Error("Ready should be re-armed after stop")
	default:
	}

	c.Close()
	if _, err := c.Start(context.Background(), true, true); err != ErrControllerClosed {
		t.Errorf("Expected ErrControllerClosed, got %v", err)
	}
}

func TestTrackDisabledDropsRTP(t *testing.T) {
	dev := NewSyntheticDevice()
	dev.SetInterval(5 * time.Millisecond)
	tracks, err := dev.GetUserMedia(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatalf("GetUserMedia failed: %v", err)
	}
	tr := tracks[0]
	defer tr.Stop()

	tr.SetEnabled(false)
	time.Sleep(50 * time.Millisecond)

	_, dropped := tr.Stats()
	if dropped == 0 {
		t.Error("Disabled track should drop packets")
	}
}

func TestTrackStopIdempotent(t *testing.T) {
	calls := 0
	tr, err := NewTrack(KindVideo, OriginCamera, CodecVP8.Capability(), func() { calls++ })
	if err != nil {
		t.Fatalf("NewTrack failed: %v", err)
	}

	ended := 0
	tr.SetOnEnded(func() { ended++ })
	tr.Stop()
	tr.Stop()

	if calls != 1 || ended != 1 {
		t.Errorf("Expected release and ended once, got %d and %d", calls, ended)
	}
	if err := tr.WriteRTP(nil); err != ErrTrackStopped {
		t.Errorf("Expected ErrTrackStopped, got %v", err)
	}
}
