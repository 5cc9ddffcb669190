package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/jobradar/jobradar/internal/jobs"
)

// Memory is an in-memory SearchIndex for tests and local development.
type Memory struct {
	mu     sync.Mutex
	nextID int
	docs   map[string]jobs.Posting
}

// NewMemory builds an empty Memory index.
func NewMemory() *Memory {
	return &Memory{docs: map[string]jobs.Posting{}}
}

// Add stores the posting and returns a generated ID.
func (m *Memory) Add(_ context.Context, p jobs.Posting) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := p.ID
	if id == "" {
		id = fmt.Sprintf("mem-%d", m.nextID)
	}
	p.ID = id
	m.docs[id] = p
	return id, nil
}

// Exists reports whether any stored posting carries the fingerprint.
func (m *Memory) Exists(_ context.Context, fp jobs.Fingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.docs {
		if jobs.FingerprintFor(p) == fp {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes a stored posting.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

// Len reports the number of indexed postings.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

var _ jobs.SearchIndex = (*Memory)(nil)
