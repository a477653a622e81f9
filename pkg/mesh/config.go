/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package mesh

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// GlarePolicy decides what happens when an offer arrives while our own
// offer to the same participant is outstanding.
type GlarePolicy string

const (
	// GlarePolite: the participant with the lower id drops its pending offer
	// and answers on a fresh connection, the other ignores the colliding offer.
	GlarePolite GlarePolicy = "polite"
	// GlarePermissive: always drop the pending offer and answer.
	GlarePermissive GlarePolicy = "permissive"
)

// Config holds mesh configuration
type Config struct {
	// STUN servers. TURN is not supported.
	ICEServers []webrtc.ICEServer `json:"iceServers"`

	// How long an offer waits for local media before giving up
	MediaReadyTimeout time.Duration `json:"mediaReadyTimeout"`
	// A remote track with no RTP for this long is reported muted
	MuteTimeout time.Duration `json:"muteTimeout"`

	GlarePolicy GlarePolicy `json:"glarePolicy"`

	// Buffer candidates that arrive before the remote description
	BufferEarlyCandidates bool `json:"bufferEarlyCandidates"`
	MaxPendingCandidates  int  `json:"maxPendingCandidates"`
}

// DefaultConfig returns default mesh configuration
func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		MediaReadyTimeout:     10 * time.Second,
		MuteTimeout:           3 * time.Second,
		GlarePolicy:           GlarePolite,
		BufferEarlyCandidates: true,
		MaxPendingCandidates:  64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MediaReadyTimeout <= 0 {
		c.MediaReadyTimeout = d.MediaReadyTimeout
	}
	if c.MuteTimeout <= 0 {
		c.MuteTimeout = d.MuteTimeout
	}
	if c.GlarePolicy == "" {
		c.GlarePolicy = d.GlarePolicy
	}
	if c.MaxPendingCandidates <= 0 {
		c.MaxPendingCandidates = d.MaxPendingCandidates
	}
	return c
}

// Option 配置选项
type Option func(*RoomSession)

// WithWebRTCAPI 设置自定义 WebRTC API (用于测试或自定义配置)
func WithWebRTCAPI(api *webrtc.API) Option {
	return func(s *RoomSession) {
		s.api = api
	}
}

// WithCodecRegistry 使用自定义编解码器表构建默认 API
func WithCodecRegistry(r *media.CodecRegistry) Option {
	return func(s *RoomSession) {
		s.codecs = r
	}
}

// NewAPI builds a WebRTC API with the codec registry and the shared logger.
// se may be nil.
func NewAPI(codecs *media.CodecRegistry, se *webrtc.SettingEngine) (*webrtc.API, error) {
	if codecs == nil {
		codecs = media.NewCodecRegistry()
	}
	m := &webrtc.MediaEngine{}
	if err := codecs.Register(m); err != nil {
		return nil, err
	}

	if se == nil {
		se = &webrtc.SettingEngine{}
	}
	if se.LoggerFactory == nil {
		se.LoggerFactory = utils.NewLoggerFactory()
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(*se)), nil
}
