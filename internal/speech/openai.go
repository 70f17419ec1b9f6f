package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sanmzh/MarkdownReader-TTS/internal/audio"
)

const (
	openaiBaseURL = "https://api.openai.com"
	openaiModel   = "tts-1"
)

var openaiVoices = []VoiceOption{
	{ID: "alloy", DisplayName: "OpenAI · Alloy", Provider: ProviderOpenAI, Gender: "Neutral"},
	{ID: "echo", DisplayName: "OpenAI · Echo", Provider: ProviderOpenAI, Gender: "Male"},
	{ID: "fable", DisplayName: "OpenAI · Fable", Provider: ProviderOpenAI, Gender: "Neutral"},
	{ID: "onyx", DisplayName: "OpenAI · Onyx", Provider: ProviderOpenAI, Gender: "Male"},
	{ID: "nova", DisplayName: "OpenAI · Nova", Provider: ProviderOpenAI, Gender: "Female"},
	{ID: "shimmer", DisplayName: "OpenAI · Shimmer", Provider: ProviderOpenAI, Gender: "Female"},
}

// OpenAI synthesizes speech through the /v1/audio/speech endpoint. The
// credential is caller-supplied at runtime and held in memory only; without
// one, Synthesize fails before issuing any request.
type OpenAI struct {
	mu      sync.RWMutex
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenAI creates the OpenAI provider, optionally seeded with a key from
// the environment.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: openaiBaseURL,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Limit(4), 8),
	}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return ProviderOpenAI }

// Voices implements Provider.
func (o *OpenAI) Voices() []VoiceOption { return openaiVoices }

// SetCredential installs the API key for subsequent requests.
func (o *OpenAI) SetCredential(key string) {
	o.mu.Lock()
	o.apiKey = key
	o.mu.Unlock()
}

// HasCredential reports whether a key is present.
func (o *OpenAI) HasCredential() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.apiKey != ""
}

type openaiRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

type openaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Synthesize implements BufferedProvider. The response body is a compressed
// audio stream decoded by the standard MP3 decoder.
func (o *OpenAI) Synthesize(ctx context.Context, text, voiceID string) (*audio.Buffer, error) {
	o.mu.RLock()
	key := o.apiKey
	o.mu.RUnlock()

	if key == "" {
		return nil, ErrMissingCredential
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(openaiRequest{Model: openaiModel, Input: text, Voice: voiceID})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var parsed openaiErrorBody
		_ = json.Unmarshal(payload, &parsed)
		return nil, &ProviderError{
			Provider: ProviderOpenAI,
			Status:   resp.StatusCode,
			Message:  parsed.Error.Message,
		}
	}

	if len(payload) == 0 {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: ErrNoAudio}
	}

	buf, err := audio.DecodeMP3(payload)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: err}
	}
	return buf, nil
}
