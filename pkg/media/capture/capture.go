/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Capture - 基于 pion/mediadevices 的真实采集设备
 * 摄像头/麦克风经 VP8/Opus 编码后泵入本地 Track
 */
package capture

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"

	// 驱动注册
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

const rtpMTU = 1200

// Config holds encoder settings
type Config struct {
	VideoBitRate     int
	KeyFrameInterval int
	AudioBitRate     int
}

// DefaultConfig returns encoder defaults
func DefaultConfig() Config {
	return Config{
		VideoBitRate:     500_000,
		KeyFrameInterval: 60,
		AudioBitRate:     32_000,
	}
}

// Device is a media.Device backed by the host's capture drivers.
type Device struct {
	selector *mediadevices.CodecSelector
	registry *media.CodecRegistry
}

// New creates a capture device with VP8 and Opus encoders
func New(cfg Config) (*Device, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = cfg.VideoBitRate
	vpxParams.KeyFrameInterval = cfg.KeyFrameInterval
	vpxParams.RateControlEndUsage = vpx.RateControlVBR

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	opusParams.BitRate = cfg.AudioBitRate
	opusParams.Latency = opus.Latency20ms

	return &Device{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		registry: media.NewCodecRegistry(),
	}, nil
}

// GetUserMedia implements media.Device
func (d *Device) GetUserMedia(ctx context.Context, c media.Constraints) ([]*media.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if c.VideoDeviceID != "" {
				mc.DeviceID = prop.String(c.VideoDeviceID)
			}
			if c.Width > 0 {
				mc.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				mc.Height = prop.Int(c.Height)
			}
			if c.FrameRate > 0 {
				mc.FrameRate = prop.Float(c.FrameRate)
			}
			mc.DiscardFramesOlderThan = 500 * time.Millisecond
		}
	}
	if c.Audio {
		// mediadevices 驱动不提供回声消除/降噪/自动增益，由宿主系统处理
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			if c.AudioDeviceID != "" {
				mc.DeviceID = prop.String(c.AudioDeviceID)
			}
			mc.SampleRate = prop.Int(48000)
			mc.ChannelCount = prop.Int(1)
			mc.Latency = prop.Duration(20 * time.Millisecond)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classify(err, c.Video, c.Audio)
	}

	var tracks []*media.Track
	for _, src := range stream.GetTracks() {
		origin := media.OriginMicrophone
		if media.KindOf(src.Kind()) == media.KindVideo {
			origin = media.OriginCamera
		}
		t, err := d.bind(src, origin)
		if err != nil {
			for _, other := range tracks {
				other.Stop()
			}
			return nil, media.NewDeviceError(media.ReasonEnvironmentUnsupported, "", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// GetDisplayMedia implements media.Device
func (d *Device) GetDisplayMedia(ctx context.Context, c media.Constraints) (*media.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			if c.FrameRate > 0 {
				mc.FrameRate = prop.Float(c.FrameRate)
			}
		},
		Codec: d.selector,
	})
	if err != nil {
		return nil, media.NewDeviceError(media.ReasonNotFound, media.KindVideo, err)
	}

	videos := stream.GetVideoTracks()
	if len(videos) == 0 {
		return nil, media.NewDeviceError(media.ReasonNotFound, media.KindVideo, nil)
	}
	t, err := d.bind(videos[0], media.OriginScreen)
	if err != nil {
		return nil, media.NewDeviceError(media.ReasonEnvironmentUnsupported, media.KindVideo, err)
	}
	return t, nil
}

// bind wraps a capture track into a media.Track and starts the RTP pump
func (d *Device) bind(src mediadevices.Track, origin media.Origin) (*media.Track, error) {
	kind := media.KindOf(src.Kind())
	codec := d.registry.Preferred(kind)

	reader, err := src.NewRTPReader(codec.MimeType, rand.Uint32(), rtpMTU)
	if err != nil {
		src.Close()
		return nil, err
	}

	t, err := media.NewTrack(kind, origin, codec.Capability(), func() {
		reader.Close()
		src.Close()
	})
	if err != nil {
		reader.Close()
		src.Close()
		return nil, err
	}

	src.OnEnded(func(err error) {
		if err != nil {
			utils.Warn("[Capture] %s track ended: %v", kind, err)
		}
		t.Stop()
	})

	go pump(t, reader)
	return t, nil
}

func pump(t *media.Track, reader mediadevices.RTPReadCloser) {
	for {
		pkts, release, err := reader.Read()
		if err != nil {
			if !t.Ended() {
				utils.Warn("[Capture] %s read failed: %v", t.Kind(), err)
				t.Stop()
			}
			return
		}
		for _, pkt := range pkts {
			if err := t.WriteRTP(pkt); err != nil {
				if errors.Is(err, media.ErrTrackStopped) {
					release()
					return
				}
				utils.Debug("[Capture] %s write failed: %v", t.Kind(), err)
			}
		}
		release()
	}
}

// classify maps a GetUserMedia failure onto a reason. mediadevices reports
// every driver mismatch the same way, so a missing device kind is told apart
// from an unsatisfiable constraint by enumerating devices.
func classify(err error, video, audio bool) error {
	var haveVideo, haveAudio bool
	for _, info := range mediadevices.EnumerateDevices() {
		switch info.Kind {
		case mediadevices.VideoInput:
			haveVideo = true
		case mediadevices.AudioInput:
			haveAudio = true
		}
	}

	switch {
	case video && !haveVideo:
		return media.NewDeviceError(media.ReasonNotFound, media.KindVideo, err)
	case audio && !haveAudio:
		return media.NewDeviceError(media.ReasonNotFound, media.KindAudio, err)
	default:
		return media.NewDeviceError(media.ReasonOverconstrained, "", err)
	}
}
