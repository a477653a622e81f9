/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Stats - 流量统计
 * 远端流按参与者统计接收字节/包数/丢包，发送端统计收到的 RTCP
 */
package mesh

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// TrafficStats 流量统计
type TrafficStats struct {
	mu sync.RWMutex

	bytesIn     uint64
	packetsIn   uint64
	packetsLost uint64
	rtcpIn      uint64

	// 码率计算
	lastCalcTime time.Time
	lastBytesIn  uint64
	bitrateIn    float64
}

// NewTrafficStats 创建流量统计
func NewTrafficStats() *TrafficStats {
	return &TrafficStats{lastCalcTime: time.Now()}
}

// AddPacketIn 记录一个接收包
func (s *TrafficStats) AddPacketIn(bytes int) {
	atomic.AddUint64(&s.bytesIn, uint64(bytes))
	atomic.AddUint64(&s.packetsIn, 1)
}

// AddPacketsLost 记录丢包
func (s *TrafficStats) AddPacketsLost(n uint64) {
	atomic.AddUint64(&s.packetsLost, n)
}

// AddRTCPIn 记录一个 RTCP 报文
func (s *TrafficStats) AddRTCPIn() {
	atomic.AddUint64(&s.rtcpIn, 1)
}

// CalculateBitrate 计算码率
func (s *TrafficStats) CalculateBitrate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.lastCalcTime).Seconds()
	if elapsed < 0.1 {
		return
	}

	current := atomic.LoadUint64(&s.bytesIn)
	s.bitrateIn = float64(current-s.lastBytesIn) * 8 / elapsed
	s.lastBytesIn = current
	s.lastCalcTime = now
}

// GetLossRate 获取丢包率
func (s *TrafficStats) GetLossRate() float64 {
	in := atomic.LoadUint64(&s.packetsIn)
	lost := atomic.LoadUint64(&s.packetsLost)
	if in+lost == 0 {
		return 0
	}
	return float64(lost) / float64(in+lost)
}

// Snapshot 获取当前快照
func (s *TrafficStats) Snapshot() TrafficStatsSnapshot {
	s.CalculateBitrate()

	s.mu.RLock()
	bitrate := s.bitrateIn
	s.mu.RUnlock()

	return TrafficStatsSnapshot{
		BytesIn:     atomic.LoadUint64(&s.bytesIn),
		PacketsIn:   atomic.LoadUint64(&s.packetsIn),
		PacketsLost: atomic.LoadUint64(&s.packetsLost),
		RTCPIn:      atomic.LoadUint64(&s.rtcpIn),
		BitrateIn:   bitrate,
		LossRate:    s.GetLossRate(),
	}
}

// TrafficStatsSnapshot 统计快照
type TrafficStatsSnapshot struct {
	BytesIn     uint64  `json:"bytes_in"`
	PacketsIn   uint64  `json:"packets_in"`
	PacketsLost uint64  `json:"packets_lost"`
	RTCPIn      uint64  `json:"rtcp_in"`
	BitrateIn   float64 `json:"bitrate_in_bps"`
	LossRate    float64 `json:"loss_rate"`
}

// ToJSON 序列化为 JSON
func (s TrafficStatsSnapshot) ToJSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// seqTracker counts RTP sequence gaps
type seqTracker struct {
	started bool
	last    uint16
}

// update returns how many packets were skipped before seq
func (t *seqTracker) update(seq uint16) uint64 {
	if !t.started {
		t.started = true
		t.last = seq
		return 0
	}
	diff := seq - t.last
	if diff == 0 || diff > 0x8000 {
		// 重复或乱序
		return 0
	}
	t.last = seq
	return uint64(diff - 1)
}
