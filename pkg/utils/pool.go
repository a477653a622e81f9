/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-09
 *
 * Byte Pool - FFI 入站数据的临时缓冲
 */
package utils

import (
	"sync"
)

const (
	minPooledSize = 2048
	maxPooledSize = 16384 // 带多个 m-line 的 SDP 通常在几 KB
)

var bytePool = sync.Pool{
	New: func() interface{} {
		return make([]byte, minPooledSize)
	},
}

// GetBuffer returns a slice of exactly length bytes. Lengths above the
// pooled range are allocated directly.
func GetBuffer(length int) []byte {
	if length > maxPooledSize {
		return make([]byte, length)
	}
	buf := bytePool.Get().([]byte)
	if cap(buf) < length {
		bytePool.Put(buf)
		return make([]byte, length, maxPooledSize)
	}
	return buf[:length]
}

// PutBuffer returns buf to the pool. The caller must not keep references
// into it.
func PutBuffer(buf []byte) {
	if cap(buf) < minPooledSize || cap(buf) > maxPooledSize {
		return
	}
	bytePool.Put(buf[:cap(buf)])
}
