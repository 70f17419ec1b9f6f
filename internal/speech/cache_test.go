package speech

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sanmzh/MarkdownReader-TTS/internal/audio"
)

func TestCacheKeyNormalization(t *testing.T) {
	// Composed and decomposed forms of "café" must collide.
	composed := CacheKey("gemini", "Kore", "café")
	decomposed := CacheKey("gemini", "Kore", "café")
	if composed != decomposed {
		t.Errorf("NFC-equivalent texts produced different keys: %q vs %q", composed, decomposed)
	}
}

func TestCacheKeySeparatesFields(t *testing.T) {
	a := CacheKey("gemini", "Kore", "hello")
	b := CacheKey("gemini", "Puck", "hello")
	c := CacheKey("openai", "Kore", "hello")
	if a == b || a == c {
		t.Errorf("keys for distinct provider/voice collided: %q %q %q", a, b, c)
	}
}

func TestCacheSingleFlight(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	release := make(chan struct{})

	fetch := func() (*audio.Buffer, error) {
		calls.Add(1)
		<-release
		return &audio.Buffer{Samples: []float32{0}, SampleRate: 24000}, nil
	}

	const n = 8
	entries := make([]*CacheEntry, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i] = c.GetOrStart("k", fetch)
		}(i)
	}
	wg.Wait()
	close(release)

	for _, e := range entries {
		if e != entries[0] {
			t.Fatal("concurrent GetOrStart returned distinct entries for one key")
		}
	}
	buf, err := entries[0].Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if buf == nil {
		t.Fatal("Wait() returned nil buffer")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch ran %d times, want 1", got)
	}
}

func TestCacheEvictsFailures(t *testing.T) {
	c := NewCache()
	boom := errors.New("synthesis refused")

	e1 := c.GetOrStart("k", func() (*audio.Buffer, error) { return nil, boom })
	if _, err := e1.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait() error = %v, want %v", err, boom)
	}

	// The failed entry must be gone so the next request fetches fresh.
	if _, ok := c.Get("k"); ok {
		t.Error("failed entry still cached after settling")
	}

	e2 := c.GetOrStart("k", func() (*audio.Buffer, error) {
		return &audio.Buffer{Samples: []float32{0}, SampleRate: 24000}, nil
	})
	if e2 == e1 {
		t.Fatal("retry reused the failed entry")
	}
	if buf, err := e2.Wait(); err != nil || buf == nil {
		t.Errorf("retry Wait() = (%v, %v), want buffer", buf, err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheGetDoesNotPopulate(t *testing.T) {
	c := NewCache()
	if _, ok := c.Get("missing"); ok {
		t.Error("Get reported a hit on an empty cache")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Get miss, want 0", c.Len())
	}
}
