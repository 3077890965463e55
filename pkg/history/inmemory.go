package history

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-blogflow/pkg/publish"
)

// InMemoryRecorder keeps article history in memory, for tests and local runs.
type InMemoryRecorder struct {
	mu      sync.Mutex
	records []*publish.ArticleRecord
}

// NewInMemoryRecorder creates an empty recorder.
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// RecordArticle appends the record.
func (r *InMemoryRecorder) RecordArticle(_ context.Context, record *publish.ArticleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

// Records returns a copy of everything recorded so far.
func (r *InMemoryRecorder) Records() []*publish.ArticleRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*publish.ArticleRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Close is a no-op.
func (r *InMemoryRecorder) Close() error { return nil }
