/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Buffer Pool - 远端轨道读取缓冲池
 * 每个远端轨道一个读取 goroutine，缓冲区随轨道结束归还
 */
package mesh

import (
	"sync"
	"sync/atomic"
)

// DefaultRTPBufferSize RTP 包默认缓冲区大小（MTU）
const DefaultRTPBufferSize = 1500

// BufferPool RTP 包缓冲池
type BufferPool struct {
	pool sync.Pool

	allocs uint64
	reuses uint64
}

// NewBufferPool 创建缓冲池
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	p.pool.New = func() interface{} {
		atomic.AddUint64(&p.allocs, 1)
		return make([]byte, DefaultRTPBufferSize)
	}
	return p
}

// GetBuffer 获取缓冲区
func (p *BufferPool) GetBuffer() []byte {
	before := atomic.LoadUint64(&p.allocs)
	buf := p.pool.Get().([]byte)
	if atomic.LoadUint64(&p.allocs) == before {
		atomic.AddUint64(&p.reuses, 1)
	}
	return buf[:DefaultRTPBufferSize]
}

// PutBuffer 归还缓冲区
func (p *BufferPool) PutBuffer(buf []byte) {
	if cap(buf) >= DefaultRTPBufferSize {
		p.pool.Put(buf[:cap(buf)])
	}
}

// BufferPoolStats 统计信息
type BufferPoolStats struct {
	Allocs     uint64  `json:"allocs"`
	Reuses     uint64  `json:"reuses"`
	ReuseRatio float64 `json:"reuse_ratio"`
}

// GetStats 获取统计信息
func (p *BufferPool) GetStats() BufferPoolStats {
	allocs := atomic.LoadUint64(&p.allocs)
	reuses := atomic.LoadUint64(&p.reuses)

	var ratio float64
	if allocs+reuses > 0 {
		ratio = float64(reuses) / float64(allocs+reuses)
	}
	return BufferPoolStats{Allocs: allocs, Reuses: reuses, ReuseRatio: ratio}
}
