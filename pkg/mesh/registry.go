/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Registry - 每个远端参与者至多一个 PeerLink
 * 创建时挂上当前所有本地轨道，关闭时清理远端流表
 */
package mesh

import (
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// linkHooks wires connection events of new links back into the session
type linkHooks struct {
	onICECandidate    func(l *PeerLink, c *webrtc.ICECandidate)
	onTrack           func(l *PeerLink, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onConnectionState func(l *PeerLink, state webrtc.PeerConnectionState)
	onSender          func(l *PeerLink, sender *webrtc.RTPSender)
	onClosed          func(l *PeerLink)
}

// Registry holds the PeerLinks of a session
type Registry struct {
	mu sync.RWMutex

	api     *webrtc.API
	config  webrtc.Configuration
	session *media.LocalMediaSession
	hooks   linkHooks

	links map[string]*PeerLink

	closed bool
}

func newRegistry(api *webrtc.API, config webrtc.Configuration, session *media.LocalMediaSession, hooks linkHooks) *Registry {
	return &Registry{
		api:     api,
		config:  config,
		session: session,
		hooks:   hooks,
		links:   make(map[string]*PeerLink),
	}
}

// GetOrCreate returns the link to a participant, creating it with every
// current local track attached. A second call returns the existing link.
func (r *Registry) GetOrCreate(participantID, transportSessionID string) (*PeerLink, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrSessionClosed
	}
	if link, ok := r.links[participantID]; ok {
		return link, false, nil
	}

	pc, err := r.api.NewPeerConnection(r.config)
	if err != nil {
		return nil, false, err
	}

	link := newPeerLink(participantID, transportSessionID, pc)
	r.setupHandlers(link)

	link.mu.Lock()
	r.attachLocked(link)
	link.mu.Unlock()

	r.links[participantID] = link
	utils.Info("[Registry] link created for %s (session %s)", participantID, transportSessionID)
	return link, true, nil
}

// attachLocked puts every current local track on link. Kinds without a
// local track are left alone. Caller holds link.mu.
func (r *Registry) attachLocked(link *PeerLink) (added bool) {
	if r.session == nil {
		return false
	}
	for _, t := range r.session.Tracks() {
		sender, isNew, err := link.setTrackLocked(t.Kind(), t)
		if err != nil {
			utils.Warn("[Registry] attach %s track to %s failed: %v", t.Kind(), link.participantID, err)
			continue
		}
		if isNew {
			added = true
			if r.hooks.onSender != nil {
				r.hooks.onSender(link, sender)
			}
		}
	}
	return added
}

func (r *Registry) setupHandlers(link *PeerLink) {
	hooks := r.hooks

	link.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && hooks.onICECandidate != nil {
			hooks.onICECandidate(link, c)
		}
	})

	link.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if hooks.onTrack != nil {
			hooks.onTrack(link, track, receiver)
		}
	})

	link.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		utils.Info("[Registry] %s connection state: %s", link.participantID, state)
		if hooks.onConnectionState != nil {
			hooks.onConnectionState(link, state)
		}
	})
}

// Get returns the link to a participant
func (r *Registry) Get(participantID string) (*PeerLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[participantID]
	return link, ok
}

// Links returns all links
func (r *Registry) Links() []*PeerLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	links := make([]*PeerLink, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	return links
}

// IDs returns the participant ids with a link, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.links))
	for id := range r.links {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of links
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

// Close closes and removes the link to a participant. Unknown ids are a no-op.
func (r *Registry) Close(participantID string) error {
	r.mu.Lock()
	link, ok := r.links[participantID]
	if ok {
		delete(r.links, participantID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return r.closeLink(link)
}

// CloseLink closes link only if it is still the registered link of its
// participant, so events of a replaced connection cannot close its successor.
func (r *Registry) CloseLink(link *PeerLink) error {
	r.mu.Lock()
	cur, ok := r.links[link.participantID]
	if !ok || cur != link {
		r.mu.Unlock()
		return link.Close()
	}
	delete(r.links, link.participantID)
	r.mu.Unlock()

	return r.closeLink(link)
}

func (r *Registry) closeLink(link *PeerLink) error {
	err := link.Close()
	if r.hooks.onClosed != nil {
		r.hooks.onClosed(link)
	}
	utils.Info("[Registry] link to %s closed", link.participantID)
	return err
}

// CloseAll closes every link and rejects further creation
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	links := r.links
	r.links = make(map[string]*PeerLink)
	r.mu.Unlock()

	for _, link := range links {
		r.closeLink(link)
	}
}
