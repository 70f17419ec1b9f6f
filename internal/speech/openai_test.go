package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIRequestShape(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq openaiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		// Not decodable audio; the request shape is what this test checks.
		w.Write([]byte("not an mp3")) //nolint:errcheck
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test")
	o.baseURL = srv.URL

	_, err := o.Synthesize(context.Background(), "Read this aloud.", "nova")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Synthesize() error = %v, want decode failure as *ProviderError", err)
	}

	if gotPath != "/v1/audio/speech" {
		t.Errorf("request path = %q, want /v1/audio/speech", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", gotAuth)
	}
	if gotReq.Model != "tts-1" {
		t.Errorf("model = %q, want tts-1", gotReq.Model)
	}
	if gotReq.Input != "Read this aloud." {
		t.Errorf("input = %q", gotReq.Input)
	}
	if gotReq.Voice != "nova" {
		t.Errorf("voice = %q, want nova", gotReq.Voice)
	}
}

func TestOpenAIMissingCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request issued without a credential")
	}))
	defer srv.Close()

	o := NewOpenAI("")
	o.baseURL = srv.URL

	if o.HasCredential() {
		t.Error("HasCredential() = true with empty key")
	}
	if _, err := o.Synthesize(context.Background(), "text", "alloy"); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Synthesize() error = %v, want ErrMissingCredential", err)
	}
}

func TestOpenAISetCredential(t *testing.T) {
	o := NewOpenAI("")
	if o.HasCredential() {
		t.Fatal("fresh provider reports a credential")
	}
	o.SetCredential("sk-live")
	if !o.HasCredential() {
		t.Error("HasCredential() = false after SetCredential")
	}
}

func TestOpenAIErrorMessageVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided: sk-****"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	o := NewOpenAI("sk-bad")
	o.baseURL = srv.URL

	_, err := o.Synthesize(context.Background(), "text", "alloy")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Synthesize() error = %T, want *ProviderError", err)
	}
	if perr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", perr.Status)
	}
	if perr.Message != "Incorrect API key provided: sk-****" {
		t.Errorf("Message = %q, want upstream message verbatim", perr.Message)
	}
}

func TestOpenAIEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test")
	o.baseURL = srv.URL

	_, err := o.Synthesize(context.Background(), "text", "alloy")
	if !errors.Is(err, ErrNoAudio) {
		t.Errorf("Synthesize() error = %v, want wrapped ErrNoAudio", err)
	}
}

func TestOpenAIVoiceList(t *testing.T) {
	voices := NewOpenAI("").Voices()
	if len(voices) != 6 {
		t.Fatalf("len(Voices()) = %d, want 6", len(voices))
	}
	if voices[0].ID != "alloy" {
		t.Errorf("default voice = %q, want alloy", voices[0].ID)
	}
}
