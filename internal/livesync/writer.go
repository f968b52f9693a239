package livesync

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Writer applies mutations to one collection and reports the outcome as a
// plain result so callers can show a success or failure notification.
// Failures are logged and never retried.
type Writer struct {
	store      Store
	collection string
	logger     *log.Logger
	onError    func(error)
}

// NewWriter creates a writer for collection.
func NewWriter(store Store, collection string, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Writer{store: store, collection: collection, logger: logger}
}

// Add creates a document and returns its id, or false when the write failed.
func (w *Writer) Add(ctx context.Context, fields map[string]any) (string, bool) {
	id, err := w.store.Add(ctx, w.collection, fields)
	if err != nil {
		w.fail(err, "add document failed", "")
		return "", false
	}
	return id, true
}

// Update merges fields into the document with the given id.
func (w *Writer) Update(ctx context.Context, id string, fields map[string]any) bool {
	if err := w.store.Update(ctx, w.collection, id, fields); err != nil {
		w.fail(err, "update document failed", id)
		return false
	}
	return true
}

// Delete removes the document with the given id.
func (w *Writer) Delete(ctx context.Context, id string) bool {
	if err := w.store.Delete(ctx, w.collection, id); err != nil {
		w.fail(err, "delete document failed", id)
		return false
	}
	return true
}

// Name returns the name of the collection written to.
func (w *Writer) Name() string {
	return w.collection
}

func (w *Writer) fail(err error, msg, id string) {
	entry := w.logger.WithError(err).WithField("collection", w.collection)
	if id != "" {
		entry = entry.WithField("document_id", id)
	}
	entry.Error(msg)
	if w.onError != nil {
		w.onError(err)
	}
}
