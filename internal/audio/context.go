// Package audio owns the process-wide output device, PCM and MP3 decoding,
// and buffered playback with live speed control.
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// Output format of the shared context. Providers resample to whatever they
// like; the rate reader converts to this on the way out.
const (
	SampleRate = 24000
	Channels   = 1
	BitDepth   = 16
)

// readyTimeout bounds how long context creation waits for the audio device.
const readyTimeout = 5 * time.Second

// Context wraps the single oto context. Oto allows one per process, so
// every playback in the application funnels through Shared.
type Context struct {
	oto *oto.Context
}

var (
	sharedOnce sync.Once
	sharedCtx  *Context
	sharedErr  error
)

// Shared returns the process-wide audio context, creating it on first use.
func Shared() (*Context, error) {
	sharedOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   SampleRate,
			ChannelCount: Channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			sharedErr = fmt.Errorf("open audio device: %w", err)
			return
		}
		select {
		case <-ready:
		case <-time.After(readyTimeout):
			sharedErr = fmt.Errorf("audio device not ready after %s", readyTimeout)
			return
		}
		sharedCtx = &Context{oto: ctx}
	})
	return sharedCtx, sharedErr
}

// resume wakes a suspended device. Some platforms suspend the context when
// nothing has played for a while.
func (c *Context) resume() {
	if err := c.oto.Resume(); err != nil {
		log.Debug("audio context resume", "err", err)
	}
}
