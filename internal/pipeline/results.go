package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Result is one finished extraction, kept only long enough to be displayed
// and downloaded.
type Result struct {
	ID          string        `json:"id"`
	Filename    string        `json:"filename"`
	ContentHash string        `json:"content_hash"`
	Markdown    string        `json:"markdown"`
	DocTags     []string      `json:"doctags"`
	Pages       int           `json:"pages"`
	Duration    time.Duration `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`

	// PNG renderings of the source pages for the preview pane.
	Previews [][]byte `json:"-"`
}

// ResultStore is a thread-safe in-memory result registry with TTL eviction.
type ResultStore struct {
	mu      sync.Mutex
	results map[string]*Result
	ttl     time.Duration
	now     func() time.Time
}

func NewResultStore(ttl time.Duration) *ResultStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResultStore{
		results: make(map[string]*Result),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *ResultStore) Put(r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.results[r.ID] = r
}

// Get returns the result, or nil if it is unknown or expired.
func (s *ResultStore) Get(id string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[id]
	if r == nil || s.expiredLocked(r) {
		return nil
	}
	return r
}

// Cleanup removes expired results and reports how many were dropped.
func (s *ResultStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.results {
		if s.expiredLocked(r) {
			delete(s.results, id)
			n++
		}
	}
	return n
}

func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *ResultStore) expiredLocked(r *Result) bool {
	return s.now().Sub(r.CreatedAt) > s.ttl
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
