/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Room Session FFI Exports
 * RoomSession 相关的 C 导出函数
 * 信令连接由宿主持有：出站消息通过 EventTypeSignal 回调给宿主，
 * 入站消息由宿主调用 MeshSessionDeliver 推入
 */
package main

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import (
	"context"
	"encoding/json"
	"time"
	"unsafe"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/media/capture"
	"github.com/maiguangyang/classroom_core/pkg/mesh"
	"github.com/maiguangyang/classroom_core/pkg/signaling"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

const mediaTimeout = 15 * time.Second

// sessionConfig is the JSON accepted by MeshSessionCreate. Zero values keep
// the defaults.
type sessionConfig struct {
	ICEServers            []webrtc.ICEServer `json:"iceServers"`
	MediaReadyTimeoutMs   int                `json:"mediaReadyTimeoutMs"`
	MuteTimeoutMs         int                `json:"muteTimeoutMs"`
	GlarePolicy           string             `json:"glarePolicy"`
	BufferEarlyCandidates *bool              `json:"bufferEarlyCandidates"`
	MaxPendingCandidates  int                `json:"maxPendingCandidates"`

	Constraints  *media.Constraints `json:"constraints"`
	VideoBitRate int                `json:"videoBitRate"`
	AudioBitRate int                `json:"audioBitRate"`

	// Synthetic replaces the capture drivers with generated RTP
	Synthetic bool `json:"synthetic"`
}

func (c sessionConfig) meshConfig() mesh.Config {
	cfg := mesh.DefaultConfig()
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = c.ICEServers
	}
	if c.MediaReadyTimeoutMs > 0 {
		cfg.MediaReadyTimeout = time.Duration(c.MediaReadyTimeoutMs) * time.Millisecond
	}
	if c.MuteTimeoutMs > 0 {
		cfg.MuteTimeout = time.Duration(c.MuteTimeoutMs) * time.Millisecond
	}
	if c.GlarePolicy != "" {
		cfg.GlarePolicy = mesh.GlarePolicy(c.GlarePolicy)
	}
	if c.BufferEarlyCandidates != nil {
		cfg.BufferEarlyCandidates = *c.BufferEarlyCandidates
	}
	if c.MaxPendingCandidates > 0 {
		cfg.MaxPendingCandidates = c.MaxPendingCandidates
	}
	return cfg
}

func (c sessionConfig) device() (media.Device, error) {
	if c.Synthetic {
		return media.NewSyntheticDevice(), nil
	}
	capCfg := capture.DefaultConfig()
	if c.VideoBitRate > 0 {
		capCfg.VideoBitRate = c.VideoBitRate
	}
	if c.AudioBitRate > 0 {
		capCfg.AudioBitRate = c.AudioBitRate
	}
	return capture.New(capCfg)
}

// ==========================================
// Session 创建与销毁
// ==========================================

// MeshSessionCreate 创建房间会话
// configJSON: sessionConfig JSON，可为空
//
//export MeshSessionCreate
func MeshSessionCreate(roomID *C.char, configJSON *C.char) C.int {
	goRoomID := C.GoString(roomID)

	var cfg sessionConfig
	if configJSON != nil {
		if goCfg := C.GoString(configJSON); goCfg != "" {
			if err := json.Unmarshal([]byte(goCfg), &cfg); err != nil {
				utils.Error("MeshSessionCreate: invalid config for room %s: %v", goRoomID, err)
				return C.int(-1)
			}
		}
	}

	device, err := cfg.device()
	if err != nil {
		utils.Error("MeshSessionCreate: capture init failed: %v", err)
		return C.int(-2)
	}
	constraints := media.DefaultConstraints()
	if cfg.Constraints != nil {
		constraints = *cfg.Constraints
	}
	controller := media.NewController(device, constraints)

	relay := signaling.NewFuncRelay(func(msg signaling.Message) error {
		data, err := signaling.Marshal(msg)
		if err != nil {
			return err
		}
		emitEvent(EventTypeSignal, goRoomID, "", string(data))
		return nil
	})

	session, err := mesh.NewRoomSession(relay, controller, cfg.meshConfig())
	if err != nil {
		utils.Error("Failed to create session %s: %v", goRoomID, err)
		relay.Close()
		controller.Close()
		return C.int(-3)
	}

	session.SetOnPeerStateChange(func(participantID string, state webrtc.PeerConnectionState) {
		emitEvent(EventTypePeerState, goRoomID, participantID, state.String())
	})
	session.SetOnRosterChanged(func(roster []signaling.Participant) {
		data, _ := json.Marshal(roster)
		emitEvent(EventTypeRosterChanged, goRoomID, "", string(data))
	})
	session.SetOnStreamAdded(func(participantID string) {
		emitEvent(EventTypeStreamAdded, goRoomID, participantID, "")
	})
	session.SetOnStreamRemoved(func(participantID string) {
		emitEvent(EventTypeStreamRemoved, goRoomID, participantID, "")
	})
	session.SetOnTrackEvent(func(ev mesh.TrackEvent) {
		data, _ := json.Marshal(ev)
		emitEvent(trackEventType(ev.Type), goRoomID, ev.ParticipantID, string(data))
	})

	registerSession(&sessionHandle{
		roomID:     goRoomID,
		session:    session,
		relay:      relay,
		controller: controller,
	})

	utils.Info("Session created for room %s", goRoomID)
	return C.int(0)
}

func trackEventType(t mesh.TrackEventType) int {
	switch t {
	case mesh.TrackEnded:
		return EventTypeTrackEnded
	case mesh.TrackMuted:
		return EventTypeTrackMuted
	case mesh.TrackUnmuted:
		return EventTypeTrackUnmuted
	default:
		return EventTypeTrackAdded
	}
}

// MeshSessionConnect 加入房间
// participantJSON: {"participantId": "...", "displayName": "...", "role": "..."}
//
//export MeshSessionConnect
func MeshSessionConnect(roomID *C.char, participantJSON *C.char) C.int {
	goRoomID := C.GoString(roomID)

	h := getSession(goRoomID)
	if h == nil {
		return C.int(-1)
	}

	var p signaling.Participant
	if err := json.Unmarshal([]byte(C.GoString(participantJSON)), &p); err != nil || p.ParticipantID == "" {
		utils.Error("MeshSessionConnect: invalid participant for room %s", goRoomID)
		return C.int(-2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mediaTimeout)
	defer cancel()
	if err := h.session.Join(ctx, goRoomID, p); err != nil {
		utils.Error("MeshSessionConnect: join %s failed: %v", goRoomID, err)
		return C.int(-3)
	}
	return C.int(0)
}

// MeshSessionDeliver 推入一条入站信令 (JSON envelope)
//
//export MeshSessionDeliver
func MeshSessionDeliver(roomID *C.char, data *C.char, length C.int) C.int {
	goRoomID := C.GoString(roomID)

	h := getSession(goRoomID)
	if h == nil || data == nil || length <= 0 {
		return C.int(-1)
	}

	// 拷贝到池化缓冲区，解码后即可归还
	buf := utils.GetBuffer(int(length))
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(data)), int(length)))
	err := h.relay.DeliverJSON(buf)
	utils.PutBuffer(buf)

	if err != nil {
		utils.Warn("MeshSessionDeliver: room %s: %v", goRoomID, err)
		return C.int(-2)
	}
	return C.int(0)
}

// MeshSessionDestroy 离开房间并释放会话
//
//export MeshSessionDestroy
func MeshSessionDestroy(roomID *C.char) C.int {
	goRoomID := C.GoString(roomID)
	if !unregisterSession(goRoomID) {
		return C.int(-1)
	}
	utils.Info("Session destroyed for room %s", goRoomID)
	return C.int(0)
}

// ==========================================
// 本地媒体
// ==========================================

// MeshStartLocalMedia 开启本地媒体，返回 flags JSON
//
//export MeshStartLocalMedia
func MeshStartLocalMedia(roomID *C.char, video C.int, audio C.int) *C.char {
	goRoomID := C.GoString(roomID)

	h := getSession(goRoomID)
	if h == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mediaTimeout)
	defer cancel()
	flags, err := h.session.StartLocalMedia(ctx, video != 0, audio != 0)
	return mediaResult(goRoomID, flags, err)
}

// MeshStopLocalMedia 停止本地媒体
//
//export MeshStopLocalMedia
func MeshStopLocalMedia(roomID *C.char) C.int {
	h := getSession(C.GoString(roomID))
	if h == nil {
		return C.int(-1)
	}
	h.session.StopLocalMedia()
	return C.int(0)
}

// MeshToggleVideo 切换摄像头，返回 flags JSON
//
//export MeshToggleVideo
func MeshToggleVideo(roomID *C.char) *C.char {
	goRoomID := C.GoString(roomID)

	h := getSession(goRoomID)
	if h == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mediaTimeout)
	defer cancel()
	flags, err := h.session.ToggleVideo(ctx)
	return mediaResult(goRoomID, flags, err)
}

// MeshToggleAudio 切换麦克风，返回 flags JSON
//
//export MeshToggleAudio
func MeshToggleAudio(roomID *C.char) *C.char {
	goRoomID := C.GoString(roomID)

	h := getSession(goRoomID)
	if h == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mediaTimeout)
	defer cancel()
	flags, err := h.session.ToggleAudio(ctx)
	return mediaResult(goRoomID, flags, err)
}

// MeshStartScreenShare 开始屏幕共享
//
//export MeshStartScreenShare
func MeshStartScreenShare(roomID *C.char) C.int {
	goRoomID := C.GoString(roomID)

	h := getSession(goRoomID)
	if h == nil {
		return C.int(-1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mediaTimeout)
	defer cancel()
	if err := h.session.StartScreenShare(ctx); err != nil {
		emitError(goRoomID, err)
		return C.int(-2)
	}
	emitEvent(EventTypeLocalMediaState, goRoomID, "", h.session.LocalState().ToJSON())
	return C.int(0)
}

// MeshStopScreenShare 停止屏幕共享
//
//export MeshStopScreenShare
func MeshStopScreenShare(roomID *C.char) C.int {
	goRoomID := C.GoString(roomID)

	h := getSession(goRoomID)
	if h == nil {
		return C.int(-1)
	}
	if err := h.session.StopScreenShare(); err != nil {
		emitError(goRoomID, err)
		return C.int(-2)
	}
	emitEvent(EventTypeLocalMediaState, goRoomID, "", h.session.LocalState().ToJSON())
	return C.int(0)
}

// MeshLeaveRoom 离开房间，会话保留到 MeshSessionDestroy
//
//export MeshLeaveRoom
func MeshLeaveRoom(roomID *C.char) C.int {
	h := getSession(C.GoString(roomID))
	if h == nil {
		return C.int(-1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := h.session.LeaveRoom(ctx); err != nil {
		utils.Warn("MeshLeaveRoom: %v", err)
	}
	return C.int(0)
}

// ==========================================
// 查询
// ==========================================

//export MeshGetLocalState
func MeshGetLocalState(roomID *C.char) *C.char {
	h := getSession(C.GoString(roomID))
	if h == nil {
		return nil
	}
	return C.CString(h.session.LocalState().ToJSON())
}

//export MeshGetRemoteStreams
func MeshGetRemoteStreams(roomID *C.char) *C.char {
	h := getSession(C.GoString(roomID))
	if h == nil {
		return nil
	}
	return C.CString(mesh.RemoteStreamsJSON(h.session.RemoteStreams()))
}

//export MeshGetStatus
func MeshGetStatus(roomID *C.char) *C.char {
	h := getSession(C.GoString(roomID))
	if h == nil {
		return nil
	}
	return C.CString(h.session.GetStatus().ToJSON())
}

// MeshGetPeerStats 获取单个远端的链路统计
//
//export MeshGetPeerStats
func MeshGetPeerStats(roomID *C.char, peerID *C.char) *C.char {
	h := getSession(C.GoString(roomID))
	if h == nil {
		return nil
	}
	link, ok := h.session.Link(C.GoString(peerID))
	if !ok {
		return nil
	}
	data, _ := json.Marshal(link.Info())
	return C.CString(string(data))
}

// mediaResult reports the flags to the host, surfacing a non-nil error as an
// error event. The flags are returned either way.
func mediaResult(roomID string, flags media.Flags, err error) *C.char {
	if err != nil {
		emitError(roomID, err)
	}
	emitEvent(EventTypeLocalMediaState, roomID, "", flags.ToJSON())
	return C.CString(flags.ToJSON())
}

func emitError(roomID string, err error) {
	data, _ := signaling.Marshal(signaling.ErrorMessage{
		RoomID:  roomID,
		Code:    500,
		Message: err.Error(),
	})
	emitEvent(EventTypeError, roomID, "", string(data))
}
