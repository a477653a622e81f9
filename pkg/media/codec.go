/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Codec - 编解码器表
 * 向 MediaEngine 注册本端支持的编码，并为本地轨道选择编码
 */
package media

import (
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
)

// CodecType 编解码器类型
type CodecType string

const (
	CodecTypeVP8  CodecType = "VP8"
	CodecTypeVP9  CodecType = "VP9"
	CodecTypeH264 CodecType = "H264"
	CodecTypeOpus CodecType = "opus"
	CodecTypeG722 CodecType = "G722"
)

// CodecInfo 编解码器信息
type CodecInfo struct {
	Type        CodecType
	MimeType    string
	ClockRate   uint32
	Channels    uint16
	SDPFmtpLine string
	PayloadType webrtc.PayloadType
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// 预定义编解码器
var (
	CodecVP8 = CodecInfo{
		Type:        CodecTypeVP8,
		MimeType:    webrtc.MimeTypeVP8,
		ClockRate:   90000,
		PayloadType: 96,
	}
	CodecVP9 = CodecInfo{
		Type:        CodecTypeVP9,
		MimeType:    webrtc.MimeTypeVP9,
		ClockRate:   90000,
		SDPFmtpLine: "profile-id=0",
		PayloadType: 98,
	}
	CodecH264 = CodecInfo{
		Type:        CodecTypeH264,
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		PayloadType: 102,
	}

	CodecOpus = CodecInfo{
		Type:        CodecTypeOpus,
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
		PayloadType: 111,
	}
	CodecG722 = CodecInfo{
		Type:        CodecTypeG722,
		MimeType:    webrtc.MimeTypeG722,
		ClockRate:   8000,
		PayloadType: 9,
	}
)

// Capability returns the pion codec capability
func (c CodecInfo) Capability() webrtc.RTPCodecCapability {
	capability := webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
	if IsVideoCodec(c.Type) {
		capability.RTCPFeedback = videoFeedback
	}
	return capability
}

// CodecRegistry 编解码器注册表，首位为首选
type CodecRegistry struct {
	mu          sync.RWMutex
	videoCodecs []CodecInfo
	audioCodecs []CodecInfo
}

// NewCodecRegistry 创建编解码器注册表
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{
		videoCodecs: []CodecInfo{CodecVP8, CodecVP9, CodecH264},
		audioCodecs: []CodecInfo{CodecOpus, CodecG722},
	}
}

// GetVideoCodecs 获取支持的视频编解码器
func (r *CodecRegistry) GetVideoCodecs() []CodecInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]CodecInfo, len(r.videoCodecs))
	copy(result, r.videoCodecs)
	return result
}

// GetAudioCodecs 获取支持的音频编解码器
func (r *CodecRegistry) GetAudioCodecs() []CodecInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]CodecInfo, len(r.audioCodecs))
	copy(result, r.audioCodecs)
	return result
}

// Preferred returns the first codec of a kind
func (r *CodecRegistry) Preferred(kind Kind) CodecInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind == KindVideo {
		return r.videoCodecs[0]
	}
	return r.audioCodecs[0]
}

// SetPreferredVideoCodec 设置首选视频编解码器（放到列表首位）
func (r *CodecRegistry) SetPreferredVideoCodec(codecType CodecType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, codec := range r.videoCodecs {
		if codec.Type == codecType {
			r.videoCodecs = append([]CodecInfo{codec}, append(r.videoCodecs[:i], r.videoCodecs[i+1:]...)...)
			return
		}
	}
}

// Register 把所有编码注册到 MediaEngine，首选编码在前
func (r *CodecRegistry) Register(m *webrtc.MediaEngine) error {
	for _, c := range r.GetVideoCodecs() {
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: c.Capability(),
			PayloadType:        c.PayloadType,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	for _, c := range r.GetAudioCodecs() {
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: c.Capability(),
			PayloadType:        c.PayloadType,
		}, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	return nil
}

// ParseMimeType 解析 MimeType 获取编解码器类型
func ParseMimeType(mimeType string) CodecType {
	mimeType = strings.ToLower(mimeType)

	switch {
	case strings.Contains(mimeType, "vp8"):
		return CodecTypeVP8
	case strings.Contains(mimeType, "vp9"):
		return CodecTypeVP9
	case strings.Contains(mimeType, "h264"):
		return CodecTypeH264
	case strings.Contains(mimeType, "opus"):
		return CodecTypeOpus
	case strings.Contains(mimeType, "g722"):
		return CodecTypeG722
	default:
		return CodecType(mimeType)
	}
}

// IsVideoCodec 判断是否是视频编解码器
func IsVideoCodec(codecType CodecType) bool {
	switch codecType {
	case CodecTypeVP8, CodecTypeVP9, CodecTypeH264:
		return true
	default:
		return false
	}
}

// IsAudioCodec 判断是否是音频编解码器
func IsAudioCodec(codecType CodecType) bool {
	switch codecType {
	case CodecTypeOpus, CodecTypeG722:
		return true
	default:
		return false
	}
}
