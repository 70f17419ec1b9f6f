package speech

import (
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/sanmzh/MarkdownReader-TTS/internal/audio"
)

// CacheKey builds the cache key for one narration: provider, voice, and the
// exact normalized speakable text. Narration is purely a function of these
// three, so identical visible text shares one fetch. The text is NFC
// normalized first so visually identical Unicode spellings collapse.
func CacheKey(provider, voiceID, text string) string {
	return provider + "/" + voiceID + "\x00" + norm.NFC.String(text)
}

// Cache maps narration keys to in-flight-or-completed buffer fetches.
// Entries live for the process; there is no eviction beyond failure
// cleanup, bounded in practice by document size.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
}

// CacheEntry is a single-flight future of a decoded buffer. Waiters share
// one fetch; the result (or error) is readable after Done closes.
type CacheEntry struct {
	done chan struct{}
	buf  *audio.Buffer
	err  error
}

// Done returns a channel closed when the fetch settles.
func (e *CacheEntry) Done() <-chan struct{} { return e.done }

// Ready reports whether the fetch has already settled.
func (e *CacheEntry) Ready() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Result returns the settled buffer or error. Only valid after Done.
func (e *CacheEntry) Result() (*audio.Buffer, error) { return e.buf, e.err }

// Wait blocks until the fetch settles and returns its result.
func (e *CacheEntry) Wait() (*audio.Buffer, error) {
	<-e.done
	return e.buf, e.err
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*CacheEntry)}
}

// GetOrStart returns the entry for key, starting fetch in a goroutine if no
// fetch is pending or completed. Concurrent calls for the same key share
// the same entry. A failed fetch is evicted before its entry settles, so
// the next call issues a fresh request instead of replaying the failure.
func (c *Cache) GetOrStart(key string, fetch func() (*audio.Buffer, error)) *CacheEntry {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return e
	}

	e := &CacheEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	go func() {
		buf, err := fetch()
		if err != nil {
			c.mu.Lock()
			if c.entries[key] == e {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
		e.buf, e.err = buf, err
		close(e.done)
	}()

	return e
}

// Get returns the entry for key if one is pending or completed.
func (c *Cache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Len reports the number of cached or in-flight entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
