/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Renegotiation & Track-Swap Engine
 * 同类型已有发送器时原地 ReplaceTrack（不重协商），否则新增 transceiver 并重新 offer
 */
package mesh

import (
	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// Engine applies local track changes to every link
type Engine struct {
	registry *Registry
	orch     *Orchestrator
}

func newEngine(registry *Registry, orch *Orchestrator) *Engine {
	return &Engine{registry: registry, orch: orch}
}

// OnTrackChanged is registered as the controller's change callback
func (e *Engine) OnTrackChanged(ch media.TrackChange) {
	for _, link := range e.registry.Links() {
		if err := e.apply(link, ch); err != nil {
			utils.Warn("[Engine] %s track change on %s: %v", ch.Kind, link.participantID, err)
		}
	}
}

func (e *Engine) apply(link *PeerLink, ch media.TrackChange) error {
	link.mu.Lock()
	defer link.mu.Unlock()

	if link.closed {
		return nil
	}

	sender, added, err := link.setTrackLocked(ch.Kind, ch.New)
	if err != nil {
		return err
	}
	if !added {
		// ReplaceTrack 不需要重协商
		utils.Debug("[Engine] %s sender on %s now carries %s", ch.Kind, link.participantID, trackID(ch.New))
		return nil
	}

	if e.registry.hooks.onSender != nil {
		e.registry.hooks.onSender(link, sender)
	}

	// 非 stable 时等当前交换结束后由 follow-up offer 处理
	utils.Info("[Engine] new %s sender on %s, renegotiating", ch.Kind, link.participantID)
	return e.orch.offerLocked(link)
}

func trackID(t *media.Track) string {
	if t == nil {
		return "nothing"
	}
	return t.ID()
}
