package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// RawStore keeps raw pages in insertion order and returns sequential ids.
type RawStore struct {
	mu   sync.RWMutex
	docs []crawler.RawDocument
}

// NewRawStore creates a new in-memory raw store.
func NewRawStore() *RawStore {
	return &RawStore{}
}

// Save appends doc and returns a pseudo id.
func (s *RawStore) Save(_ context.Context, doc crawler.RawDocument) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return fmt.Sprintf("memory-%d", len(s.docs)), nil
}

// Documents returns a copy of every saved document.
func (s *RawStore) Documents() []crawler.RawDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.RawDocument, len(s.docs))
	copy(out, s.docs)
	return out
}
