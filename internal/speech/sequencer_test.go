package speech

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sanmzh/MarkdownReader-TTS/internal/audio"
	"github.com/sanmzh/MarkdownReader-TTS/internal/segment"
)

// fakeBuffered synthesizes canned buffers and records every request.
type fakeBuffered struct {
	mu       sync.Mutex
	requests []string
	delay    time.Duration
	err      error
	key      string
}

func (f *fakeBuffered) Name() string          { return "fake" }
func (f *fakeBuffered) Voices() []VoiceOption { return []VoiceOption{{ID: "v1", Provider: "fake"}} }

func (f *fakeBuffered) HasCredential() bool { return f.key != "" }

func (f *fakeBuffered) Synthesize(ctx context.Context, text, voiceID string) (*audio.Buffer, error) {
	f.mu.Lock()
	f.requests = append(f.requests, text)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &audio.Buffer{Samples: make([]float32, 240), SampleRate: 24000}, nil
}

func (f *fakeBuffered) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// stubHandle completes after a fixed delay unless cancelled first.
type stubHandle struct {
	done  chan struct{}
	once  sync.Once
	timer *time.Timer
}

func newStubHandle(d time.Duration) *stubHandle {
	h := &stubHandle{done: make(chan struct{})}
	h.timer = time.AfterFunc(d, func() { h.once.Do(func() { close(h.done) }) })
	return h
}

func (h *stubHandle) Done() <-chan struct{} { return h.done }
func (h *stubHandle) Cancel() {
	h.timer.Stop()
	h.once.Do(func() { close(h.done) })
}
func (h *stubHandle) SetRate(float64) {}

func testSegments(n int) []segment.Segment {
	segs := segment.Parse("Alpha paragraph.\n\nBeta paragraph.\n\nGamma paragraph.\n\nDelta paragraph.\n\nEpsilon paragraph.")
	return segs[:n]
}

func newTestSequencer(t *testing.T, prov Provider) *Sequencer {
	t.Helper()
	sess := NewSession(prov.Name(), prov.Voices()[0].ID, 1.0)
	seq := NewSequencer(sess, map[string]Provider{prov.Name(): prov}, log.New(io.Discard))
	seq.imagePause = 10 * time.Millisecond
	seq.play = func(buf *audio.Buffer, speed float64) (Handle, error) {
		return newStubHandle(5 * time.Millisecond), nil
	}
	return seq
}

// nextEvent pulls the next event, skipping loading notifications, or fails
// the test after a timeout.
func nextEvent(t *testing.T, seq *Sequencer) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-seq.Events():
			if _, ok := ev.(LoadingEvent); ok {
				continue
			}
			return ev
		case <-deadline:
			t.Fatal("timed out waiting for sequencer event")
		}
	}
}

func TestSequencerPlaysAllSegmentsInOrder(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(testSegments(5))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	for want := 0; want < 5; want++ {
		ev := nextEvent(t, seq)
		started, ok := ev.(SegmentStartedEvent)
		if !ok {
			t.Fatalf("event %d = %T, want SegmentStartedEvent", want, ev)
		}
		if started.Index != want {
			t.Fatalf("segment order broken: started %d, want %d", started.Index, want)
		}
	}

	if _, ok := nextEvent(t, seq).(FinishedEvent); !ok {
		t.Fatal("missing FinishedEvent after last segment")
	}
	if seq.Session().Playing() {
		t.Error("session still playing after finish")
	}
	if got := seq.Session().Index(); got != NoIndex {
		t.Errorf("index after finish = %d, want NoIndex", got)
	}
}

func TestSequencerStopDuringLoading(t *testing.T) {
	prov := &fakeBuffered{key: "k", delay: 100 * time.Millisecond}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(testSegments(3))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	// Give the chain time to enter the synthesis wait.
	time.Sleep(20 * time.Millisecond)
	seq.Stop()

	if seq.Session().Playing() {
		t.Error("session playing after Stop")
	}
	if got := seq.Session().Index(); got != NoIndex {
		t.Errorf("index after Stop = %d, want NoIndex", got)
	}

	// The superseded chain must not emit a start once the fetch settles.
	select {
	case ev := <-seq.Events():
		switch ev.(type) {
		case LoadingEvent, StoppedEvent:
		default:
			t.Errorf("unexpected event after Stop: %T", ev)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSequencerMissingCredential(t *testing.T) {
	prov := &fakeBuffered{key: ""}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(testSegments(2))

	err := seq.Play()
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("Play() error = %v, want ErrMissingCredential", err)
	}
	if seq.Session().Playing() {
		t.Error("session playing despite refused Play")
	}
	if len(prov.requested()) != 0 {
		t.Errorf("provider received %d requests without a credential", len(prov.requested()))
	}
	ev := nextEvent(t, seq)
	cred, ok := ev.(CredentialRequiredEvent)
	if !ok {
		t.Fatalf("event = %T, want CredentialRequiredEvent", ev)
	}
	if cred.Provider != "fake" {
		t.Errorf("CredentialRequiredEvent.Provider = %q, want %q", cred.Provider, "fake")
	}
}

func TestSequencerPlayWhilePlayingIsNoop(t *testing.T) {
	prov := &fakeBuffered{key: "k", delay: 50 * time.Millisecond}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(testSegments(3))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := seq.Play(); err != nil {
		t.Fatalf("second Play() error = %v", err)
	}
	seq.Stop()
}

func TestSequencerSeekRestartsAtTarget(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(testSegments(5))

	if err := seq.Seek(3); err != nil {
		t.Fatalf("Seek(3) error = %v", err)
	}
	ev := nextEvent(t, seq)
	started, ok := ev.(SegmentStartedEvent)
	if !ok {
		t.Fatalf("event = %T, want SegmentStartedEvent", ev)
	}
	if started.Index != 3 {
		t.Errorf("seek started at %d, want 3", started.Index)
	}
	seq.Stop()
}

func TestSequencerSeekOutOfRange(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(testSegments(2))

	for _, j := range []int{-1, 2, 99} {
		if err := seq.Seek(j); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Seek(%d) error = %v, want ErrIndexOutOfRange", j, err)
		}
	}
}

func TestSequencerImagePauseIsCancellable(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	seq.imagePause = time.Minute
	seq.SetDocument(segment.Parse("![diagram](a.png)"))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	ev := nextEvent(t, seq)
	if _, ok := ev.(SegmentStartedEvent); !ok {
		t.Fatalf("event = %T, want SegmentStartedEvent", ev)
	}

	done := make(chan struct{})
	go func() {
		seq.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on the image pause")
	}
}

func TestSequencerHRAdvancesSilently(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(segment.Parse("First.\n\n---\n\nLast."))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	var starts []int
	for {
		ev := nextEvent(t, seq)
		if _, ok := ev.(FinishedEvent); ok {
			break
		}
		if s, ok := ev.(SegmentStartedEvent); ok {
			starts = append(starts, s.Index)
		}
	}
	if len(starts) != 2 || starts[0] != 0 || starts[1] != 2 {
		t.Errorf("started segments = %v, want [0 2]", starts)
	}
	if reqs := prov.requested(); len(reqs) != 2 {
		t.Errorf("synthesized %d segments, want 2 (rule skipped)", len(reqs))
	}
}

func TestSequencerProviderErrorClearsSession(t *testing.T) {
	boom := &ProviderError{Provider: "fake", Status: 500, Message: "upstream down"}
	prov := &fakeBuffered{key: "k", err: boom}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(testSegments(2))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	ev := nextEvent(t, seq)
	failed, ok := ev.(FailedEvent)
	if !ok {
		t.Fatalf("event = %T, want FailedEvent", ev)
	}
	var perr *ProviderError
	if !errors.As(failed.Err, &perr) || perr.Message != "upstream down" {
		t.Errorf("FailedEvent.Err = %v, want wrapped provider error", failed.Err)
	}
	if seq.Session().Playing() {
		t.Error("session playing after provider failure")
	}
	if got := seq.Session().Index(); got != NoIndex {
		t.Errorf("index after failure = %d, want NoIndex", got)
	}
}

func TestSequencerPrefetchesAhead(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	// Slow "playback" keeps the chain on segment 0 long enough to observe
	// the prefetch.
	seq.play = func(buf *audio.Buffer, speed float64) (Handle, error) {
		return newStubHandle(200 * time.Millisecond), nil
	}
	seq.SetDocument(testSegments(5))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	nextEvent(t, seq) // first SegmentStartedEvent

	deadline := time.After(time.Second)
	for len(prov.requested()) < 1+prefetchWindow {
		select {
		case <-deadline:
			t.Fatalf("prefetched %d requests, want %d", len(prov.requested()), 1+prefetchWindow)
		case <-time.After(5 * time.Millisecond):
		}
	}
	seq.Stop()
}

func TestSequencerProviderSwitchRefusedWhilePlaying(t *testing.T) {
	prov := &fakeBuffered{key: "k", delay: 50 * time.Millisecond}
	other := &fakeBuffered{key: "k"}
	sess := NewSession(prov.Name(), "v1", 1.0)
	seq := NewSequencer(sess, map[string]Provider{"fake": prov, "other": namedProvider{other, "other"}}, log.New(io.Discard))
	seq.play = func(buf *audio.Buffer, speed float64) (Handle, error) {
		return newStubHandle(50 * time.Millisecond), nil
	}
	seq.SetDocument(testSegments(3))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := seq.SetProvider("other"); !errors.Is(err, ErrPlaybackActive) {
		t.Errorf("SetProvider while playing = %v, want ErrPlaybackActive", err)
	}
	if err := seq.SetVoice("v1"); !errors.Is(err, ErrPlaybackActive) {
		t.Errorf("SetVoice while playing = %v, want ErrPlaybackActive", err)
	}

	seq.Stop()
	if err := seq.SetProvider("other"); err != nil {
		t.Errorf("SetProvider after Stop = %v", err)
	}
	if got := sess.Provider(); got != "other" {
		t.Errorf("provider after switch = %q, want %q", got, "other")
	}
}

// namedProvider overrides a fake's name so two instances can coexist in one
// provider map.
type namedProvider struct {
	*fakeBuffered
	name string
}

func (p namedProvider) Name() string { return p.name }

func TestSequencerSetSpeedWhileIdle(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	seq.SetSpeed(1.5)
	if got := seq.Session().Speed(); got != 1.5 {
		t.Errorf("Speed() = %v, want 1.5", got)
	}
}

func TestSequencerUnknownVoiceRejected(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	if err := seq.SetVoice("nope"); !errors.Is(err, ErrUnknownVoice) {
		t.Errorf("SetVoice(nope) = %v, want ErrUnknownVoice", err)
	}
}

func TestSequencerPlayWithoutDocument(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	if err := seq.Play(); !errors.Is(err, ErrNoDocument) {
		t.Errorf("Play() on empty session = %v, want ErrNoDocument", err)
	}
}

func TestSequencerSetDocumentStopsPlayback(t *testing.T) {
	prov := &fakeBuffered{key: "k", delay: 50 * time.Millisecond}
	seq := newTestSequencer(t, prov)
	seq.SetDocument(testSegments(3))
	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	seq.SetDocument(testSegments(2))
	if seq.Session().Playing() {
		t.Error("session still playing after document replacement")
	}
	if got := seq.Session().Index(); got != NoIndex {
		t.Errorf("index after document replacement = %d, want NoIndex", got)
	}
}

func TestTimerHandleCancelIdempotent(t *testing.T) {
	h := newTimerHandle(time.Minute)
	h.Cancel()
	h.Cancel()
	select {
	case <-h.Done():
	default:
		t.Error("Done not closed after Cancel")
	}
}

func TestSequencerPauseKeepsIndex(t *testing.T) {
	prov := &fakeBuffered{key: "k"}
	seq := newTestSequencer(t, prov)
	seq.play = func(buf *audio.Buffer, speed float64) (Handle, error) {
		return newStubHandle(100 * time.Millisecond), nil
	}
	seq.SetDocument(testSegments(3))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	nextEvent(t, seq)
	seq.Pause()

	if seq.Session().Playing() {
		t.Error("session playing after Pause")
	}
	if got := seq.Session().Index(); got == NoIndex {
		t.Error("Pause cleared the index; resume position lost")
	}
}

func TestSequencerFinishedOnLiveProvider(t *testing.T) {
	live := &fakeLive{}
	sess := NewSession(live.Name(), "default", 1.0)
	seq := NewSequencer(sess, map[string]Provider{live.Name(): live}, log.New(io.Discard))
	seq.SetDocument(testSegments(2))

	if err := seq.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	var starts int
	for {
		ev := nextEvent(t, seq)
		if _, ok := ev.(FinishedEvent); ok {
			break
		}
		if _, ok := ev.(SegmentStartedEvent); ok {
			starts++
		}
	}
	if starts != 2 {
		t.Errorf("live provider started %d segments, want 2", starts)
	}
	if got := live.rates(); len(got) != 2 || got[0] != 1.0 {
		t.Errorf("live Speak rates = %v, want two 1.0 entries", got)
	}
}

type fakeLive struct {
	mu    sync.Mutex
	calls []float64
}

func (f *fakeLive) Name() string          { return "live" }
func (f *fakeLive) Voices() []VoiceOption { return []VoiceOption{{ID: "default", Provider: "live"}} }

func (f *fakeLive) Speak(text, voiceID string, rate float64) (Handle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rate)
	f.mu.Unlock()
	return newStubHandle(time.Millisecond), nil
}

func (f *fakeLive) rates() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.calls...)
}
