package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sanmzh/MarkdownReader-TTS/internal/audio"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiModel   = "gemini-2.5-flash-preview-tts"

	// The model emits raw PCM at a fixed rate: mono, 16-bit signed,
	// little endian.
	geminiSampleRate = 24000
)

// geminiVoices is the fixed prebuilt voice list.
var geminiVoices = []VoiceOption{
	{ID: "Kore", DisplayName: "Gemini · Kore", Provider: ProviderGemini, Gender: "Female"},
	{ID: "Puck", DisplayName: "Gemini · Puck", Provider: ProviderGemini, Gender: "Male"},
	{ID: "Charon", DisplayName: "Gemini · Charon", Provider: ProviderGemini, Gender: "Male"},
	{ID: "Fenrir", DisplayName: "Gemini · Fenrir", Provider: ProviderGemini, Gender: "Male"},
	{ID: "Zephyr", DisplayName: "Gemini · Zephyr", Provider: ProviderGemini, Gender: "Female"},
}

// Gemini synthesizes speech through the Gemini generateContent endpoint
// with an audio response modality. It is a buffered provider: the full
// utterance comes back in one response as base64 PCM. The credential is
// held in memory only; without one, Synthesize fails before issuing any
// request.
type Gemini struct {
	mu      sync.RWMutex
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewGemini creates the Gemini provider. The key comes from the
// environment; it is never persisted.
func NewGemini(apiKey string) *Gemini {
	return &Gemini{
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Limit(4), 8),
	}
}

// Name implements Provider.
func (g *Gemini) Name() string { return ProviderGemini }

// Voices implements Provider.
func (g *Gemini) Voices() []VoiceOption { return geminiVoices }

// SetCredential installs the API key for subsequent requests.
func (g *Gemini) SetCredential(key string) {
	g.mu.Lock()
	g.apiKey = key
	g.mu.Unlock()
}

// HasCredential reports whether an API key is configured.
func (g *Gemini) HasCredential() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.apiKey != ""
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	SpeechConfig       geminiSpeechConfig `json:"speechConfig"`
}

type geminiSpeechConfig struct {
	VoiceConfig geminiVoiceConfig `json:"voiceConfig"`
}

type geminiVoiceConfig struct {
	PrebuiltVoiceConfig geminiPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type geminiPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Synthesize implements BufferedProvider.
func (g *Gemini) Synthesize(ctx context.Context, text, voiceID string) (*audio.Buffer, error) {
	g.mu.RLock()
	key := g.apiKey
	g.mu.RUnlock()

	if key == "" {
		return nil, ErrMissingCredential
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: text}}}},
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: geminiSpeechConfig{
				VoiceConfig: geminiVoiceConfig{
					PrebuiltVoiceConfig: geminiPrebuiltVoice{VoiceName: voiceID},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, geminiModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Err: err}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, &ProviderError{Provider: ProviderGemini, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := ""
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &ProviderError{Provider: ProviderGemini, Status: resp.StatusCode, Message: msg}
	}

	data := inlineAudioData(parsed)
	if data == "" {
		return nil, &ProviderError{Provider: ProviderGemini, Err: ErrNoAudio}
	}

	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Err: fmt.Errorf("decode base64 audio: %w", err)}
	}

	buf, err := audio.DecodePCM16(pcm, geminiSampleRate)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Err: err}
	}
	return buf, nil
}

// inlineAudioData digs the base64 payload out of the nested content/part
// structure.
func inlineAudioData(r geminiResponse) string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return p.InlineData.Data
			}
		}
	}
	return ""
}
