// Package livesync mirrors store collections into local state. A Collection
// follows a live query and exposes the latest known documents; its write
// operations go straight to the store and never touch the mirror, which only
// changes when the store delivers a new snapshot.
package livesync

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/internal/docstore"
)

// Store is the subset of the live document store used by this package.
type Store interface {
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Subscribe(ctx context.Context, collection string, filter docstore.Filter) (<-chan docstore.Snapshot, func())
}

// Collection is a local mirror of a filtered collection.
type Collection struct {
	*Writer

	mu      sync.RWMutex
	docs    []docstore.Document
	loading bool
	err     error

	changed chan struct{}
	ready   chan struct{}
	done    chan struct{}
	cancel  func()
}

// Open subscribes to collection and starts mirroring it. The mirror stays
// live until Close is called or ctx is cancelled.
func Open(ctx context.Context, store Store, collection string, filter docstore.Filter, logger *log.Logger) *Collection {
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Collection{
		loading: true,
		changed: make(chan struct{}, 1),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.Writer = NewWriter(store, collection, logger)
	c.Writer.onError = c.setErr

	snaps, cancel := store.Subscribe(ctx, collection, filter)
	c.cancel = cancel
	go c.run(snaps, logger.WithFields(log.Fields{"collection": collection, "filter": filter.Key()}))
	return c
}

func (c *Collection) run(snaps <-chan docstore.Snapshot, entry *log.Entry) {
	defer close(c.done)
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(c.ready) }) }
	defer markReady()

	for snap := range snaps {
		c.mu.Lock()
		if snap.Err != nil {
			c.err = snap.Err
		} else {
			c.docs = snap.Documents
		}
		c.loading = false
		c.mu.Unlock()

		if snap.Err != nil {
			entry.WithError(snap.Err).Error("subscription failed")
		}
		markReady()
		c.notify()
	}
}

func (c *Collection) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Collection) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.notify()
}

// Documents returns a copy of the mirrored documents in store order.
func (c *Collection) Documents() []docstore.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]docstore.Document, len(c.docs))
	for i, d := range c.docs {
		fields := make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			fields[k] = v
		}
		d.Fields = fields
		out[i] = d
	}
	return out
}

// Loading reports whether the first snapshot is still outstanding.
func (c *Collection) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Err returns the last subscription or mutation failure.
func (c *Collection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Changed signals after every applied snapshot or recorded failure.
// Signals that are not consumed in time coalesce into one.
func (c *Collection) Changed() <-chan struct{} {
	return c.changed
}

// Ready is closed once the first snapshot or a failure has arrived.
func (c *Collection) Ready() <-chan struct{} {
	return c.ready
}

// Stopped is closed when the subscription has ended, either through Close or
// after a failed read.
func (c *Collection) Stopped() <-chan struct{} {
	return c.done
}

// Close tears the subscription down and waits for the mirror to stop.
func (c *Collection) Close() {
	c.cancel()
	<-c.done
}
