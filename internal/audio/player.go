package audio

import (
	"io"
	"math"
	"sync"
	"time"
)

// pollInterval is how often the completion watcher checks the oto player.
const pollInterval = 10 * time.Millisecond

// otoPlayer is the slice of *oto.Player the Handle needs. Narrowed for
// tests.
type otoPlayer interface {
	Play()
	IsPlaying() bool
	Close() error
}

// Handle controls one in-flight buffered playback. Done is closed on natural
// completion and on Cancel alike; callers that need to tell the two apart
// keep their own liveness flag, which is exactly what the sequencer does.
type Handle struct {
	reader *rateReader
	player otoPlayer

	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	cancelled bool
	stopPoll  chan struct{}
}

// Play starts audible playback of buf at the given speed and returns the
// controlling handle. The caller must not start a second buffered playback
// until the previous handle has completed or been cancelled; the shared
// output context holds one live source at a time.
func Play(buf *Buffer, speed float64) (*Handle, error) {
	ctx, err := Shared()
	if err != nil {
		return nil, err
	}
	ctx.resume()

	reader := newRateReader(buf, speed)
	player := ctx.oto.NewPlayer(reader)

	h := newHandle(reader, player)
	player.Play()
	go h.watch()

	return h, nil
}

func newHandle(reader *rateReader, player otoPlayer) *Handle {
	return &Handle{
		reader:   reader,
		player:   player,
		done:     make(chan struct{}),
		stopPoll: make(chan struct{}),
	}
}

// Done returns a channel closed when playback ends, naturally or by Cancel.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops audible output and releases the player. It is idempotent,
// safe after natural completion, and synchronous: when it returns the player
// is closed, so a new handle may be created immediately with no settling
// delay.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if !h.cancelled {
		h.cancelled = true
		close(h.stopPoll)
		_ = h.player.Close()
	}
	h.mu.Unlock()

	h.doneOnce.Do(func() { close(h.done) })
}

// SetRate changes the playback speed mid-play. The change is lossless: the
// resampling reader picks up the new step on its next read.
func (h *Handle) SetRate(rate float64) {
	h.reader.setRate(rate)
}

// watch polls the player until the source is drained, then finishes the
// handle.
func (h *Handle) watch() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopPoll:
			return
		case <-ticker.C:
			if h.reader.exhausted() && !h.player.IsPlaying() {
				h.mu.Lock()
				if !h.cancelled {
					_ = h.player.Close()
				}
				h.mu.Unlock()
				h.doneOnce.Do(func() { close(h.done) })
				return
			}
		}
	}
}

// rateReader streams a Buffer as signed 16-bit little-endian mono at the
// shared context's output rate, resampling by linear interpolation. The
// effective step combines the playback speed with the ratio of the buffer's
// native rate to the output rate, so a 44.1 kHz MP3 and a 24 kHz PCM payload
// both play correctly through the same context.
type rateReader struct {
	buf *Buffer

	mu   sync.Mutex
	pos  float64
	step float64
	eof  bool
}

func newRateReader(buf *Buffer, speed float64) *rateReader {
	r := &rateReader{buf: buf}
	r.setRate(speed)
	return r
}

func (r *rateReader) setRate(speed float64) {
	if speed <= 0 {
		speed = 1.0
	}
	r.mu.Lock()
	r.step = speed * float64(r.buf.SampleRate) / float64(SampleRate)
	r.mu.Unlock()
}

func (r *rateReader) exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eof
}

func (r *rateReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eof {
		return 0, io.EOF
	}

	samples := r.buf.Samples
	n := 0
	for n+1 < len(p) {
		i := int(r.pos)
		if i >= len(samples)-1 {
			break
		}

		frac := r.pos - float64(i)
		v := samples[i]*(1-float32(frac)) + samples[i+1]*float32(frac)

		s := int16(math.Round(float64(v) * 32767))
		p[n] = byte(uint16(s))
		p[n+1] = byte(uint16(s) >> 8)
		n += 2

		r.pos += r.step
	}

	if n == 0 {
		r.eof = true
		return 0, io.EOF
	}
	return n, nil
}
