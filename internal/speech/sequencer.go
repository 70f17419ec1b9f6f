package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sanmzh/MarkdownReader-TTS/internal/audio"
	"github.com/sanmzh/MarkdownReader-TTS/internal/segment"
)

const (
	// prefetchWindow is how many upcoming buffered segments are requested
	// ahead of the one currently playing.
	prefetchWindow = 3

	// defaultImagePause is the silent gap inserted for image segments so
	// the listener notices the document contains one.
	defaultImagePause = time.Second

	eventBufferSize = 64
)

// Event is a notification from the sequencer to its observer. Events are
// delivered on a buffered channel and dropped rather than blocking playback
// when the observer falls behind.
type Event interface{ isEvent() }

// SegmentStartedEvent fires when audible playback of a segment begins.
type SegmentStartedEvent struct{ Index int }

// LoadingEvent fires when a buffered segment starts or stops waiting on
// synthesis.
type LoadingEvent struct {
	Index   int
	Loading bool
}

// StoppedEvent fires after Stop or Pause has fully taken effect.
type StoppedEvent struct{}

// FinishedEvent fires when the chain advances past the last segment.
type FinishedEvent struct{}

// CredentialRequiredEvent fires when Play is refused because the selected
// provider has no credential.
type CredentialRequiredEvent struct{ Provider string }

// FailedEvent fires when synthesis or playback fails and the session is
// reset.
type FailedEvent struct{ Err error }

func (SegmentStartedEvent) isEvent()     {}
func (LoadingEvent) isEvent()            {}
func (StoppedEvent) isEvent()            {}
func (FinishedEvent) isEvent()           {}
func (CredentialRequiredEvent) isEvent() {}
func (FailedEvent) isEvent()             {}

// Sequencer drives segment-by-segment playback over a Session. Public
// methods are safe for concurrent use; each active playback chain runs in
// its own goroutine and checks session liveness after every suspension
// point, so a superseded chain stops without side effects.
type Sequencer struct {
	session   *Session
	providers map[string]Provider
	cache     *Cache
	events    chan Event
	logger    *log.Logger

	// imagePause and play are swappable for tests.
	imagePause time.Duration
	play       func(buf *audio.Buffer, speed float64) (Handle, error)
}

// NewSequencer wires a sequencer to a session and the registered providers.
func NewSequencer(session *Session, providers map[string]Provider, logger *log.Logger) *Sequencer {
	return &Sequencer{
		session:    session,
		providers:  providers,
		cache:      NewCache(),
		events:     make(chan Event, eventBufferSize),
		logger:     logger,
		imagePause: defaultImagePause,
		play: func(buf *audio.Buffer, speed float64) (Handle, error) {
			return audio.Play(buf, speed)
		},
	}
}

// Events returns the channel playback notifications are delivered on.
func (q *Sequencer) Events() <-chan Event { return q.events }

// Session returns the session the sequencer drives.
func (q *Sequencer) Session() *Session { return q.session }

// SetImagePause overrides the silent gap inserted for image segments.
// Takes effect on the next image segment.
func (q *Sequencer) SetImagePause(d time.Duration) {
	if d <= 0 {
		return
	}
	q.session.mu.Lock()
	q.imagePause = d
	q.session.mu.Unlock()
}

func (q *Sequencer) emit(ev Event) {
	select {
	case q.events <- ev:
	default:
		q.logger.Warn("event dropped", "event", fmt.Sprintf("%T", ev))
	}
}

// SetDocument replaces the segment list. Any active playback stops and the
// position resets.
func (q *Sequencer) SetDocument(segments []segment.Segment) {
	q.session.mu.Lock()
	q.stopLocked(false)
	q.session.segments = segments
	q.session.index = NoIndex
	q.session.mu.Unlock()
}

// Play resumes from the current segment, or the first when none is set.
// While already playing it is a no-op.
func (q *Sequencer) Play() error {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()

	if q.session.playing {
		return nil
	}
	if len(q.session.segments) == 0 {
		return ErrNoDocument
	}

	prov, ok := q.providers[q.session.provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, q.session.provider)
	}
	if c, ok := prov.(credentialed); ok && !c.HasCredential() {
		q.emit(CredentialRequiredEvent{Provider: prov.Name()})
		return ErrMissingCredential
	}

	start := q.session.index
	if start < 0 {
		start = 0
	}
	q.startLocked(start)
	return nil
}

// Pause halts playback, keeping the current index so Play resumes from the
// same segment. Pausing mid-segment restarts that segment on resume.
func (q *Sequencer) Pause() {
	q.session.mu.Lock()
	q.stopLocked(true)
	q.session.mu.Unlock()
}

// Stop halts playback and clears the position.
func (q *Sequencer) Stop() {
	q.session.mu.Lock()
	q.stopLocked(true)
	q.session.index = NoIndex
	q.session.mu.Unlock()
}

// Seek stops whatever is playing and starts the chain at segment j. Seeking
// while stopped sets the position and begins playing.
func (q *Sequencer) Seek(j int) error {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()

	if j < 0 || j >= len(q.session.segments) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, j)
	}
	prov, ok := q.providers[q.session.provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, q.session.provider)
	}
	if c, ok := prov.(credentialed); ok && !c.HasCredential() {
		q.emit(CredentialRequiredEvent{Provider: prov.Name()})
		return ErrMissingCredential
	}

	q.stopLocked(false)
	q.startLocked(j)
	return nil
}

// SetSpeed changes the playback speed. An active utterance picks up the new
// rate immediately when its handle supports it.
func (q *Sequencer) SetSpeed(speed float64) {
	q.session.mu.Lock()
	q.session.speed = speed
	if h := q.session.handle; h != nil {
		h.SetRate(speed)
	}
	q.session.mu.Unlock()
}

// SetProvider switches the active provider and resets the voice to the
// provider's first option. Refused while playing.
func (q *Sequencer) SetProvider(name string) error {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()

	if q.session.playing {
		return ErrPlaybackActive
	}
	prov, ok := q.providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	q.session.provider = name
	if voices := prov.Voices(); len(voices) > 0 {
		q.session.voiceID = voices[0].ID
	}
	return nil
}

// SetVoice selects a voice within the active provider. Refused while
// playing.
func (q *Sequencer) SetVoice(voiceID string) error {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()

	if q.session.playing {
		return ErrPlaybackActive
	}
	prov, ok := q.providers[q.session.provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, q.session.provider)
	}
	for _, v := range prov.Voices() {
		if v.ID == voiceID {
			q.session.voiceID = voiceID
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownVoice, voiceID)
}

// stopLocked supersedes the active chain and releases the current handle.
// Cancel is synchronous, so the audio device is free when this returns.
func (q *Sequencer) stopLocked(notify bool) {
	q.session.generation++
	wasPlaying := q.session.playing
	q.session.playing = false
	if h := q.session.handle; h != nil {
		h.Cancel()
		q.session.handle = nil
	}
	if notify && wasPlaying {
		q.emit(StoppedEvent{})
	}
}

// startLocked launches a new playback chain at segment start.
func (q *Sequencer) startLocked(start int) {
	q.session.generation++
	q.session.playing = true
	q.session.index = start
	gen := q.session.generation
	go q.run(gen, start)
}

// live reports whether gen is still the active chain.
func (q *Sequencer) live(gen uint64) bool {
	q.session.mu.RLock()
	defer q.session.mu.RUnlock()
	return q.session.generation == gen
}

// run is the playback chain. It owns advancing the index; every await is
// followed by a liveness check so a chain superseded by Stop, Pause, Seek
// or SetDocument unwinds silently.
func (q *Sequencer) run(gen uint64, start int) {
	segs := q.session.Segments()

	for i := start; i < len(segs); i++ {
		if !q.live(gen) {
			return
		}
		q.session.mu.Lock()
		if q.session.generation != gen {
			q.session.mu.Unlock()
			return
		}
		q.session.index = i
		q.session.mu.Unlock()

		seg := segs[i]
		switch {
		case seg.Type == segment.TypeHR:
			// Silent, instant advance.
		case seg.Type == segment.TypeImage:
			if !q.playImage(gen, i) {
				return
			}
		case !segment.Narratable(seg):
			q.logger.Debug("skipping empty segment", "index", i)
		default:
			if !q.playSegment(gen, i, segs) {
				return
			}
		}
	}

	if !q.live(gen) {
		return
	}
	q.session.mu.Lock()
	if q.session.generation != gen {
		q.session.mu.Unlock()
		return
	}
	q.session.playing = false
	q.session.index = NoIndex
	q.session.handle = nil
	q.session.mu.Unlock()
	q.emit(FinishedEvent{})
}

// playImage holds for the image pause. The pause is a cancellable handle so
// Stop interrupts it like any utterance. Reports whether the chain should
// continue.
func (q *Sequencer) playImage(gen uint64, i int) bool {
	q.emit(SegmentStartedEvent{Index: i})
	q.session.mu.RLock()
	pause := q.imagePause
	q.session.mu.RUnlock()
	h := newTimerHandle(pause)
	if !q.adoptHandle(gen, h) {
		h.Cancel()
		return false
	}
	<-h.Done()
	return q.live(gen)
}

// playSegment synthesizes and plays one narratable segment, prefetching the
// window behind it. Reports whether the chain should continue.
func (q *Sequencer) playSegment(gen uint64, i int, segs []segment.Segment) bool {
	q.session.mu.RLock()
	provName := q.session.provider
	voiceID := q.session.voiceID
	speed := q.session.speed
	q.session.mu.RUnlock()

	prov := q.providers[provName]
	if prov == nil {
		q.fail(gen, fmt.Errorf("%w: %s", ErrUnknownProvider, provName))
		return false
	}

	text := segment.Speakable(segs[i].Content, segs[i].Type)

	var h Handle
	switch impl := prov.(type) {
	case BufferedProvider:
		q.prefetch(impl, provName, voiceID, segs, i)

		key := CacheKey(provName, voiceID, text)
		entry := q.cache.GetOrStart(key, func() (*audio.Buffer, error) {
			return impl.Synthesize(context.Background(), text, voiceID)
		})
		if !entry.Ready() {
			q.emit(LoadingEvent{Index: i, Loading: true})
			entry.Wait()
			q.emit(LoadingEvent{Index: i, Loading: false})
		}
		if !q.live(gen) {
			return false
		}
		buf, err := entry.Result()
		if err != nil {
			q.fail(gen, err)
			return false
		}
		h, err = q.play(buf, speed)
		if err != nil {
			q.fail(gen, err)
			return false
		}
	case LiveProvider:
		var err error
		h, err = impl.Speak(text, voiceID, speed)
		if err != nil {
			q.fail(gen, err)
			return false
		}
	default:
		q.fail(gen, fmt.Errorf("provider %s implements no synthesis interface", provName))
		return false
	}

	if !q.adoptHandle(gen, h) {
		h.Cancel()
		return false
	}
	q.emit(SegmentStartedEvent{Index: i})
	<-h.Done()
	return q.live(gen)
}

// adoptHandle installs h as the session's active handle if gen is still
// live. A false return means the chain was superseded while synthesizing.
func (q *Sequencer) adoptHandle(gen uint64, h Handle) bool {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()
	if q.session.generation != gen {
		return false
	}
	q.session.handle = h
	return true
}

// prefetch fires synthesis for the next narratable buffered segments so
// they are cached by the time the chain reaches them. Errors are left in
// their cache entries; the entry for a failed fetch is evicted on settle,
// so the playing chain retries and reports the failure itself.
func (q *Sequencer) prefetch(impl BufferedProvider, provName, voiceID string, segs []segment.Segment, from int) {
	fetched := 0
	for j := from + 1; j < len(segs) && fetched < prefetchWindow; j++ {
		if !segment.Narratable(segs[j]) {
			continue
		}
		text := segment.Speakable(segs[j].Content, segs[j].Type)
		key := CacheKey(provName, voiceID, text)
		q.cache.GetOrStart(key, func() (*audio.Buffer, error) {
			return impl.Synthesize(context.Background(), text, voiceID)
		})
		fetched++
	}
}

// fail resets the session after a synthesis or playback error, if gen is
// still the active chain.
func (q *Sequencer) fail(gen uint64, err error) {
	q.session.mu.Lock()
	if q.session.generation != gen {
		q.session.mu.Unlock()
		return
	}
	q.session.generation++
	q.session.playing = false
	q.session.index = NoIndex
	q.session.handle = nil
	q.session.mu.Unlock()

	var perr *ProviderError
	if errors.As(err, &perr) {
		q.logger.Error("synthesis failed", "provider", perr.Provider, "status", perr.Status, "err", perr.Message)
	} else {
		q.logger.Error("playback failed", "err", err)
	}
	q.emit(FailedEvent{Err: err})
}

// timerHandle satisfies Handle for silent pauses.
type timerHandle struct {
	timer *time.Timer
	done  chan struct{}
}

func newTimerHandle(d time.Duration) *timerHandle {
	h := &timerHandle{done: make(chan struct{})}
	h.timer = time.AfterFunc(d, func() { close(h.done) })
	return h
}

func (h *timerHandle) Done() <-chan struct{} { return h.done }

func (h *timerHandle) Cancel() {
	if h.timer.Stop() {
		close(h.done)
	}
}

func (h *timerHandle) SetRate(float64) {}
