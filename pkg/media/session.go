/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package media

import (
	"encoding/json"
	"sync"
)

// Flags is a snapshot of the local media state
type Flags struct {
	HasAudio     bool   `json:"hasAudio"`
	HasVideo     bool   `json:"hasVideo"`
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
	VideoOrigin  Origin `json:"videoOrigin,omitempty"`
}

// ToJSON 转换为 JSON
func (f Flags) ToJSON() string {
	data, _ := json.Marshal(f)
	return string(data)
}

// LocalMediaSession holds the current local tracks. It is owned by a
// Controller and read by everything that attaches tracks to connections.
type LocalMediaSession struct {
	mu    sync.RWMutex
	audio *Track
	video *Track
}

// AudioTrack returns the current audio track, or nil
func (s *LocalMediaSession) AudioTrack() *Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

// VideoTrack returns the current video track, or nil
func (s *LocalMediaSession) VideoTrack() *Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

// Track returns the current track of a kind, or nil
func (s *LocalMediaSession) Track(kind Kind) *Track {
	if kind == KindVideo {
		return s.VideoTrack()
	}
	return s.AudioTrack()
}

// Tracks returns all current tracks, audio first
func (s *LocalMediaSession) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tracks := make([]*Track, 0, 2)
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// Empty reports whether the session holds no track
func (s *LocalMediaSession) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio == nil && s.video == nil
}

// Flags returns a snapshot
func (s *LocalMediaSession) Flags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := Flags{
		HasAudio: s.audio != nil,
		HasVideo: s.video != nil,
	}
	if s.audio != nil {
		f.AudioEnabled = s.audio.Enabled()
	}
	if s.video != nil {
		f.VideoEnabled = s.video.Enabled()
		f.VideoOrigin = s.video.Origin()
	}
	return f
}

// set replaces the track of a kind and returns the previous one
func (s *LocalMediaSession) set(kind Kind, t *Track) *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var old *Track
	if kind == KindVideo {
		old, s.video = s.video, t
	} else {
		old, s.audio = s.audio, t
	}
	return old
}
