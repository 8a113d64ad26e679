package mw

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// ResponseCache holds GET snapshots. Every Flush starts a new generation, and
// a snapshot taken during an older generation is never stored.
type ResponseCache struct {
	mu    sync.Mutex
	gen   uint64
	items *cache.Cache
}

// NewResponseCache creates an empty cache whose entries expire after ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{items: cache.New(ttl, 2*ttl)}
}

// Flush drops every snapshot.
func (rc *ResponseCache) Flush() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.gen++
	rc.items.Flush()
}

// Generation identifies the current flush epoch.
func (rc *ResponseCache) Generation() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.gen
}

func (rc *ResponseCache) get(key string) (snapshot, bool) {
	v, ok := rc.items.Get(key)
	if !ok {
		return snapshot{}, false
	}
	return v.(snapshot), true
}

// setIfCurrent stores s unless a Flush happened since gen was read.
func (rc *ResponseCache) setIfCurrent(gen uint64, key string, s snapshot, ttl time.Duration) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.gen != gen {
		return false
	}
	rc.items.Set(key, s, ttl)
	return true
}

// snapshot is a finished 2xx GET response.
type snapshot struct {
	status      int
	contentType string
	body        []byte
}

// teeWriter copies everything the handler writes into buf.
type teeWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *teeWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache serves repeated GETs from responses for ttl. A successful write of
// any kind flushes everything: one cassette transition is visible through
// cassette, ticket, repair and history reads alike.
func Cache(responses *ResponseCache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			if c.Writer.Status() < http.StatusBadRequest {
				responses.Flush()
			}
			return
		}

		key := c.Request.URL.RequestURI()
		if s, ok := responses.get(key); ok {
			replay(c, s)
			return
		}

		// A write that commits while this read runs may have been read half
		// way; its Flush moves the generation and the snapshot is dropped.
		gen := responses.Generation()
		tee := &teeWriter{ResponseWriter: c.Writer}
		c.Writer = tee
		c.Next()

		if status := tee.Status(); status >= http.StatusOK && status < http.StatusMultipleChoices {
			responses.setIfCurrent(gen, key, snapshot{
				status:      status,
				contentType: tee.Header().Get("Content-Type"),
				body:        tee.buf.Bytes(),
			}, ttl)
		}
	}
}

func replay(c *gin.Context, s snapshot) {
	c.Header("X-Cache", "HIT")
	c.Data(s.status, s.contentType, s.body)
	c.Abort()
}
