package speech

import (
	"sync"

	"github.com/sanmzh/MarkdownReader-TTS/internal/segment"
)

// NoIndex is the session index value when nothing has played or Stop reset
// the position.
const NoIndex = -1

// Session is the single source of truth for playback state: the segment
// list, the current position, the live flag, and the selected provider,
// voice and speed. The sequencer mutates it; the UI observes it. There are
// deliberately no duplicated flags anywhere else.
type Session struct {
	mu sync.RWMutex

	segments []segment.Segment
	index    int
	playing  bool

	provider string
	voiceID  string
	speed    float64

	handle Handle

	// generation numbers playback chains. Every Stop, Pause or Seek bumps
	// it; a chain that resumes from a suspension point and finds a newer
	// generation is stale and must produce no further side effects.
	generation uint64
}

// NewSession creates a session with nothing loaded.
func NewSession(provider, voiceID string, speed float64) *Session {
	return &Session{
		index:    NoIndex,
		provider: provider,
		voiceID:  voiceID,
		speed:    speed,
	}
}

// Segments returns the current segment list.
func (s *Session) Segments() []segment.Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.segments
}

// Index returns the current segment index, NoIndex when unset.
func (s *Session) Index() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Playing reports whether a playback chain is progressing.
func (s *Session) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// Provider returns the selected provider name.
func (s *Session) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// VoiceID returns the selected voice.
func (s *Session) VoiceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voiceID
}

// Speed returns the playback speed multiplier.
func (s *Session) Speed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed
}
