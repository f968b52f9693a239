package docstore

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskboard/docstore"

// Store writes through a Backend, announces every successful write on a Bus,
// and serves live queries built from both.
type Store struct {
	backend Backend
	bus     Bus
	logger  *log.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for publish failures.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracerProvider sets the provider for write spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a live store.
func New(backend Backend, bus Bus, opts ...Option) *Store {
	if bus == nil {
		bus = NewMemoryBus()
	}
	s := &Store{
		backend: backend,
		bus:     bus,
		logger:  log.StandardLogger(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add creates a document; the backend assigns its id and timestamps.
func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	ctx, span := s.startSpan(ctx, "docstore.add", collection, "")
	defer span.End()

	id, err := s.backend.Add(ctx, collection, CleanFields(fields))
	if err != nil {
		failSpan(span, err)
		return "", fmt.Errorf("add %s document: %w", collection, err)
	}
	span.SetAttributes(attribute.String("docstore.document_id", id))
	s.publish(ctx, Change{Collection: collection, DocumentID: id, Kind: ChangeAdded})
	return id, nil
}

// Update merges fields into a document and refreshes its update timestamp.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	ctx, span := s.startSpan(ctx, "docstore.update", collection, id)
	defer span.End()

	if err := s.backend.Update(ctx, collection, id, CleanFields(fields)); err != nil {
		failSpan(span, err)
		return fmt.Errorf("update %s document %s: %w", collection, id, err)
	}
	s.publish(ctx, Change{Collection: collection, DocumentID: id, Kind: ChangeModified})
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	ctx, span := s.startSpan(ctx, "docstore.delete", collection, id)
	defer span.End()

	if err := s.backend.Delete(ctx, collection, id); err != nil {
		failSpan(span, err)
		return fmt.Errorf("delete %s document %s: %w", collection, id, err)
	}
	s.publish(ctx, Change{Collection: collection, DocumentID: id, Kind: ChangeRemoved})
	return nil
}

// Get reads a single document.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	doc, err := s.backend.Get(ctx, collection, id)
	if err != nil {
		return Document{}, fmt.Errorf("get %s document %s: %w", collection, id, err)
	}
	return doc, nil
}

// Query reads the documents of a collection matching filter.
func (s *Store) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	ctx, span := s.startSpan(ctx, "docstore.query", collection, "")
	defer span.End()

	docs, err := s.backend.Query(ctx, collection, filter)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	span.SetAttributes(attribute.Int("docstore.documents", len(docs)))
	return docs, nil
}

// Subscribe starts a live query. The channel first receives the current
// result, then a fresh result after every change to the collection. A slow
// consumer only ever sees the latest snapshot. A failed read is delivered as
// a snapshot with Err set and ends the subscription. The returned func (or
// cancelling ctx) tears the subscription down and closes the channel.
func (s *Store) Subscribe(ctx context.Context, collection string, filter Filter) (<-chan Snapshot, func()) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot, 1)

	// Listen before the first read so no change between the two is lost.
	changes, stop := s.bus.Listen(collection)

	go func() {
		defer close(out)
		defer stop()

		for {
			snap := s.read(ctx, collection, filter)
			if ctx.Err() != nil {
				return
			}
			deliverLatest(out, snap)
			if snap.Err != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
			}
		}
	}()

	return out, cancel
}

func (s *Store) read(ctx context.Context, collection string, filter Filter) Snapshot {
	docs, err := s.Query(ctx, collection, filter)
	if err != nil {
		return Snapshot{Err: err, ReadAt: s.now()}
	}
	return Snapshot{Documents: docs, ReadAt: s.now()}
}

// deliverLatest replaces an unread snapshot with snap. Only the subscription
// goroutine sends on out, so the loop finishes in at most two rounds.
func deliverLatest(out chan Snapshot, snap Snapshot) {
	for {
		select {
		case out <- snap:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}

func (s *Store) publish(ctx context.Context, change Change) {
	if err := s.bus.Publish(ctx, change); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"collection":  change.Collection,
			"document_id": change.DocumentID,
			"kind":        change.Kind,
		}).Warn("publish change failed")
	}
}

func (s *Store) startSpan(ctx context.Context, name, collection, id string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("docstore.collection", collection)}
	if id != "" {
		attrs = append(attrs, attribute.String("docstore.document_id", id))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
