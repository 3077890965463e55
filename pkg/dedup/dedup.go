package dedup

import (
	"context"
	"sync"
)

// Deduper records event ids so upstream redeliveries can be dropped before
// they reach the scheduler. Seen atomically claims id and reports whether it
// was claimed before; Forget releases a claim so a redelivery of an event
// that failed downstream is not mistaken for a duplicate.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// InMemoryDeduper is a thread-safe, in-process seen-set. Suitable for single
// instance deployments and tests; use the Redis implementation when the
// webhook runs more than one replica.
type InMemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewInMemoryDeduper creates an empty in-memory deduper.
func NewInMemoryDeduper() *InMemoryDeduper {
	return &InMemoryDeduper{seen: make(map[string]struct{})}
}

// Seen records id and reports whether it was already present.
func (d *InMemoryDeduper) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true, nil
	}
	d.seen[id] = struct{}{}
	return false, nil
}

// Forget removes id from the seen-set.
func (d *InMemoryDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}
