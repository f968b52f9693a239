package docstore

import (
	"context"
	"sync"
)

// MemoryBus fans changes out to in-process listeners.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[chan Change]struct{}
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan Change]struct{})}
}

// Publish never blocks: a listener that still has a change pending is
// already due to re-read the collection, so the new change folds into it.
func (b *MemoryBus) Publish(_ context.Context, change Change) error {
	b.notify(change)
	return nil
}

func (b *MemoryBus) notify(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[change.Collection] {
		select {
		case ch <- change:
		default:
		}
	}
}

// Listen registers a listener for one collection. The returned func removes
// it and closes the channel; calling it more than once is safe.
func (b *MemoryBus) Listen(collection string) (<-chan Change, func()) {
	ch := make(chan Change, 1)

	b.mu.Lock()
	if b.subs[collection] == nil {
		b.subs[collection] = make(map[chan Change]struct{})
	}
	b.subs[collection][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[collection], ch)
			if len(b.subs[collection]) == 0 {
				delete(b.subs, collection)
			}
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *MemoryBus) listeners(collection string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[collection])
}
