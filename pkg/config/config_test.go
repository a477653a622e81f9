/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maiguangyang/classroom_core/pkg/mesh"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.Relay != RelayWebSocket {
		t.Errorf("Expected ws relay, got %s", cfg.Relay)
	}
	if cfg.Mesh.GlarePolicy != mesh.GlarePolite {
		t.Errorf("Expected polite glare policy, got %s", cfg.Mesh.GlarePolicy)
	}
	if len(cfg.Mesh.ICEServers) == 0 {
		t.Error("Expected default STUN server")
	}
	if cfg.Constraints.Width != 640 || !cfg.Constraints.EchoCancellation {
		t.Errorf("Unexpected constraints %+v", cfg.Constraints)
	}
	if cfg.LogLevel != utils.LogLevelInfo {
		t.Errorf("Expected info level, got %v", cfg.LogLevel)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("RELAY", "REDIS")
	t.Setenv("STUN_URLS", "stun:a.example:3478, stun:b.example:3478")
	t.Setenv("MUTE_TIMEOUT", "1500")
	t.Setenv("MEDIA_READY_TIMEOUT", "2s")
	t.Setenv("GLARE_POLICY", "permissive")
	t.Setenv("BUFFER_EARLY_CANDIDATES", "false")
	t.Setenv("NOISE_SUPPRESSION", "false")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_PRESENCE_TTL", "5s")
	t.Setenv("PARTICIPANT_ID", "lecturer-1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := FromEnv()

	if cfg.Relay != RelayRedis {
		t.Errorf("Expected redis relay, got %s", cfg.Relay)
	}
	urls := cfg.Mesh.ICEServers[0].URLs
	if len(urls) != 2 || urls[1] != "stun:b.example:3478" {
		t.Errorf("Unexpected STUN urls %v", urls)
	}
	if cfg.Mesh.MuteTimeout != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s mute timeout, got %v", cfg.Mesh.MuteTimeout)
	}
	if cfg.Mesh.MediaReadyTimeout != 2*time.Second {
		t.Errorf("Expected 2s media timeout, got %v", cfg.Mesh.MediaReadyTimeout)
	}
	if cfg.Mesh.GlarePolicy != mesh.GlarePermissive {
		t.Errorf("Expected permissive, got %s", cfg.Mesh.GlarePolicy)
	}
	if cfg.Mesh.BufferEarlyCandidates {
		t.Error("Candidate buffering should be disabled")
	}
	if cfg.Constraints.NoiseSuppression {
		t.Error("Noise suppression should be disabled")
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("Expected redis db 3, got %d", cfg.Redis.DB)
	}
	if cfg.Redis.PresenceTTL != 5*time.Second {
		t.Errorf("Expected 5s presence ttl, got %v", cfg.Redis.PresenceTTL)
	}
	if cfg.LogLevel != utils.LogLevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.LogLevel)
	}

	p := cfg.Participant()
	if p.ParticipantID != "lecturer-1" || p.DisplayName != "lecturer-1" {
		t.Errorf("Unexpected participant %+v", p)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("ROOM_ID=physics-101\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv 不覆盖已有变量，测试结束后恢复
	t.Setenv("ROOM_ID", "")
	os.Unsetenv("ROOM_ID")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RoomID != "physics-101" {
		t.Errorf("Expected room from file, got %s", cfg.RoomID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Missing file should not fail: %v", err)
	}
}
