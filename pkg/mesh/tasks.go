/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package mesh

import (
	"sync"
	"sync/atomic"
)

// taskGroup tracks background goroutines owned by a session.
// After Close no new task starts, so Wait cannot race with Go.
type taskGroup struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	pending atomic.Int64
	closed  bool
}

func (g *taskGroup) Go(fn func()) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.pending.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer g.pending.Add(-1)
		fn()
	}()
	return true
}

func (g *taskGroup) Pending() int {
	return int(g.pending.Load())
}

func (g *taskGroup) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *taskGroup) Wait() {
	g.wg.Wait()
}
