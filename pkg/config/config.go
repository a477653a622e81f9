/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Config - 进程配置
 * 先加载 .env（可选），再从环境变量读取，缺省值见 Load
 */
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/media/capture"
	"github.com/maiguangyang/classroom_core/pkg/mesh"
	"github.com/maiguangyang/classroom_core/pkg/signaling"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// Relay kinds
const (
	RelayWebSocket = "ws"
	RelayRedis     = "redis"
	RelayMemory    = "memory"
)

// Config is the configuration of a classroom client process.
type Config struct {
	// Port of the local status endpoint
	Port string

	RoomID        string
	ParticipantID string
	DisplayName   string
	Role          string

	// Relay selects the signaling adapter: ws, redis or memory
	Relay     string
	RelayURL  string
	Redis     signaling.RedisConfig
	WebSocket signaling.WSConfig

	Mesh        mesh.Config
	Constraints media.Constraints
	Capture     capture.Config

	LogLevel utils.LogLevel
}

// Load reads path (if it exists) into the environment and builds a Config.
// An empty path means ".env".
func Load(path string) (*Config, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	meshCfg := mesh.DefaultConfig()
	if urls := getList("STUN_URLS"); len(urls) > 0 {
		meshCfg.ICEServers = []webrtc.ICEServer{{URLs: urls}}
	}
	meshCfg.MediaReadyTimeout = getDuration("MEDIA_READY_TIMEOUT", meshCfg.MediaReadyTimeout)
	meshCfg.MuteTimeout = getDuration("MUTE_TIMEOUT", meshCfg.MuteTimeout)
	meshCfg.GlarePolicy = mesh.GlarePolicy(getEnv("GLARE_POLICY", string(meshCfg.GlarePolicy)))
	meshCfg.BufferEarlyCandidates = getBool("BUFFER_EARLY_CANDIDATES", meshCfg.BufferEarlyCandidates)
	meshCfg.MaxPendingCandidates = getInt("MAX_PENDING_CANDIDATES", meshCfg.MaxPendingCandidates)

	constraints := media.DefaultConstraints()
	constraints.Width = getInt("VIDEO_WIDTH", constraints.Width)
	constraints.Height = getInt("VIDEO_HEIGHT", constraints.Height)
	constraints.FrameRate = float64(getInt("VIDEO_FRAME_RATE", int(constraints.FrameRate)))
	constraints.VideoDeviceID = getEnv("VIDEO_DEVICE_ID", "")
	constraints.AudioDeviceID = getEnv("AUDIO_DEVICE_ID", "")
	constraints.EchoCancellation = getBool("ECHO_CANCELLATION", constraints.EchoCancellation)
	constraints.NoiseSuppression = getBool("NOISE_SUPPRESSION", constraints.NoiseSuppression)
	constraints.AutoGainControl = getBool("AUTO_GAIN_CONTROL", constraints.AutoGainControl)

	captureCfg := capture.DefaultConfig()
	captureCfg.VideoBitRate = getInt("VIDEO_BITRATE", captureCfg.VideoBitRate)
	captureCfg.AudioBitRate = getInt("AUDIO_BITRATE", captureCfg.AudioBitRate)

	redisCfg := signaling.DefaultRedisConfig()
	redisCfg.Addr = getEnv("REDIS_ADDR", redisCfg.Addr)
	redisCfg.Password = getEnv("REDIS_PASSWORD", "")
	redisCfg.DB = getInt("REDIS_DB", 0)
	redisCfg.KeyPrefix = getEnv("REDIS_PREFIX", redisCfg.KeyPrefix)
	redisCfg.PresenceTTL = getDuration("REDIS_PRESENCE_TTL", redisCfg.PresenceTTL)

	wsCfg := signaling.DefaultWSConfig()
	wsCfg.DialTimeout = getDuration("WS_DIAL_TIMEOUT", wsCfg.DialTimeout)

	return &Config{
		Port:          getEnv("PORT", "8090"),
		RoomID:        getEnv("ROOM_ID", "classroom"),
		ParticipantID: getEnv("PARTICIPANT_ID", ""),
		DisplayName:   getEnv("DISPLAY_NAME", ""),
		Role:          getEnv("ROLE", "student"),
		Relay:         strings.ToLower(getEnv("RELAY", RelayWebSocket)),
		RelayURL:      getEnv("RELAY_URL", "ws://localhost:8080/ws"),
		Redis:         redisCfg,
		WebSocket:     wsCfg,
		Mesh:          meshCfg,
		Constraints:   constraints,
		Capture:       captureCfg,
		LogLevel:      parseLevel(getEnv("LOG_LEVEL", "info")),
	}
}

// Participant returns the local participant entry
func (c *Config) Participant() signaling.Participant {
	name := c.DisplayName
	if name == "" {
		name = c.ParticipantID
	}
	return signaling.Participant{
		ParticipantID: c.ParticipantID,
		DisplayName:   name,
		Role:          c.Role,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// getDuration accepts Go durations ("3s") or plain milliseconds
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseLevel(s string) utils.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return utils.LogLevelDebug
	case "warn", "warning":
		return utils.LogLevelWarn
	case "error":
		return utils.LogLevelError
	default:
		return utils.LogLevelInfo
	}
}
