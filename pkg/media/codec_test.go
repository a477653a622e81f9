/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Codec Tests
 */
package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestCodecRegistryRegister(t *testing.T) {
	m := &webrtc.MediaEngine{}
	if err := NewCodecRegistry().Register(m); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestCodecRegistryPreferred(t *testing.T) {
	r := NewCodecRegistry()
	if r.Preferred(KindVideo).Type != CodecTypeVP8 {
		t.Error("VP8 should be preferred by default")
	}
	if r.Preferred(KindAudio).Type != CodecTypeOpus {
		t.Error("Opus should be preferred by default")
	}

	r.SetPreferredVideoCodec(CodecTypeH264)
	if r.Preferred(KindVideo).Type != CodecTypeH264 {
		t.Error("H264 should be preferred")
	}
	if len(r.GetVideoCodecs()) != 3 {
		t.Errorf("Expected 3 video codecs, got %d", len(r.GetVideoCodecs()))
	}
}

func TestParseMimeType(t *testing.T) {
	cases := map[string]CodecType{
		"video/VP8":  CodecTypeVP8,
		"video/vp9":  CodecTypeVP9,
		"video/H264": CodecTypeH264,
		"audio/opus": CodecTypeOpus,
	}
	for mime, want := range cases {
		if got := ParseMimeType(mime); got != want {
			t.Errorf("%s: expected %s, got %s", mime, want, got)
		}
	}
	if IsVideoCodec(CodecTypeOpus) {
		t.Error("opus is not a video codec")
	}
	if !IsAudioCodec(CodecTypeOpus) || IsAudioCodec(CodecTypeVP8) {
		t.Error("audio codec classification mismatch")
	}
}

func TestKindConversion(t *testing.T) {
	if KindOf(webrtc.RTPCodecTypeVideo) != KindVideo || KindAudio.RTPCodecType() != webrtc.RTPCodecTypeAudio {
		t.Error("kind conversion mismatch")
	}
}
