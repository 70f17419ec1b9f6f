// Package speech drives sequential narration of a segmented document. It
// holds the provider adapters, the single-flight audio cache, the session
// state, and the playback sequencer.
package speech

import (
	"context"
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/sanmzh/MarkdownReader-TTS/internal/audio"
)

// Provider identifiers. These key the session's provider selection and the
// cache namespace.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNative = "native"
)

// VoiceOption describes one selectable voice. IDs are unique within a
// provider, not globally.
type VoiceOption struct {
	ID          string
	DisplayName string
	Provider    string
	Gender      string
}

// Handle controls one in-flight narration, buffered or live. Done is closed
// on natural completion and on Cancel alike; Cancel is idempotent and safe
// after completion. SetRate applies immediately for buffered playback and is
// a no-op mid-utterance for live synthesis.
type Handle interface {
	Done() <-chan struct{}
	Cancel()
	SetRate(rate float64)
}

// Provider is the common surface of all TTS backends. Every provider also
// implements exactly one of BufferedProvider or LiveProvider; the sequencer
// branches once on that capability, never on provider identity.
type Provider interface {
	Name() string
	Voices() []VoiceOption
}

// BufferedProvider synthesizes a complete audio buffer before playback
// starts. Results are cacheable and prefetchable.
type BufferedProvider interface {
	Provider
	Synthesize(ctx context.Context, text, voiceID string) (*audio.Buffer, error)
}

// LiveProvider couples synthesis and playback into one operation; there is
// no buffer to cache and playback is audible as soon as Speak returns.
type LiveProvider interface {
	Provider
	Speak(text, voiceID string, rate float64) (Handle, error)
}

// credentialed is implemented by providers that need a caller-supplied key
// before any request may be issued.
type credentialed interface {
	HasCredential() bool
}

// newHTTPClient builds the transport shared by the remote providers:
// transparent gzip, no client-side timeout. Fetch deadlines are the
// caller's business; a stuck fetch holds the session in its loading state
// until the user stops it.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: gzhttp.Transport(http.DefaultTransport),
	}
}
