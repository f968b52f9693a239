package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// MemoryBackend keeps documents in process. Fields go through a JSON round
// trip on write so reads look exactly like those of persistent backends.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryDoc
	seq         int64
	now         func() time.Time
}

type memoryDoc struct {
	doc Document
	seq int64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]map[string]*memoryDoc),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Add stores a new document under a generated id.
func (m *MemoryBackend) Add(_ context.Context, collection string, fields map[string]any) (string, error) {
	normalized, err := normalizeFields(fields)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]*memoryDoc)
	}
	now := m.now()
	id := uuid.NewString()
	m.seq++
	m.collections[collection][id] = &memoryDoc{
		doc: Document{ID: id, Fields: normalized, CreateAt: now, UpdateAt: now},
		seq: m.seq,
	}
	return id, nil
}

// Update merges fields into a stored document.
func (m *MemoryBackend) Update(_ context.Context, collection, id string, fields map[string]any) error {
	normalized, err := normalizeFields(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	merged := make(map[string]any, len(entry.doc.Fields)+len(normalized))
	for k, v := range entry.doc.Fields {
		merged[k] = v
	}
	for k, v := range normalized {
		merged[k] = v
	}
	entry.doc.Fields = merged
	entry.doc.UpdateAt = m.now()
	return nil
}

// Delete removes a document.
func (m *MemoryBackend) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(m.collections[collection], id)
	return nil
}

// Get returns a copy of a stored document.
func (m *MemoryBackend) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDocument(entry.doc), nil
}

// Query returns copies of the matching documents in creation order.
func (m *MemoryBackend) Query(_ context.Context, collection string, filter Filter) ([]Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*memoryDoc, 0, len(m.collections[collection]))
	for _, entry := range m.collections[collection] {
		if filter.Match(entry.doc) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, copyDocument(entry.doc))
	}
	return docs, nil
}

func normalizeFields(fields map[string]any) (map[string]any, error) {
	data, err := sonic.Marshal(CleanFields(fields))
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	out := map[string]any{}
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

func copyDocument(d Document) Document {
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	d.Fields = fields
	return d
}
