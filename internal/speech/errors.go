package speech

import (
	"errors"
	"fmt"
)

// Sentinel errors for the speech subsystem.
var (
	// ErrMissingCredential means a provider that needs a caller-supplied
	// API key was used without one. No request is issued in that case.
	ErrMissingCredential = errors.New("missing API credential")

	// ErrNoAudio means the backend answered without an audio payload.
	ErrNoAudio = errors.New("backend returned no audio payload")

	// ErrUnknownProvider means the session names a provider that was
	// never registered.
	ErrUnknownProvider = errors.New("unknown TTS provider")

	// ErrUnknownVoice means a requested voice is not in the provider's
	// list.
	ErrUnknownVoice = errors.New("requested voice not found")

	// ErrPlaybackActive guards settings that must not change while the
	// sequencer is running.
	ErrPlaybackActive = errors.New("cannot change setting during playback")

	// ErrNoDocument means playback was requested before any document was
	// loaded.
	ErrNoDocument = errors.New("no document loaded")

	// ErrIndexOutOfRange means a seek target does not exist.
	ErrIndexOutOfRange = errors.New("segment index out of range")
)

// ProviderError carries what a remote TTS backend reported. Decode failures
// fold into it as well: from the session's point of view both mean the
// segment cannot be narrated and playback must stop.
type ProviderError struct {
	Provider string
	Status   int    // HTTP status, zero when not applicable
	Message  string // backend message, surfaced verbatim
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.Status)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: provider error", e.Provider)
	}
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
