// Package docstore models a schemaless document database with live queries:
// backends persist documents in named collections, a bus announces changes,
// and Store combines both into snapshot subscriptions.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/bytedance/sonic"
)

// Reserved field names. Their values are owned by the backend and are never
// taken from caller supplied fields.
const (
	FieldID       = "id"
	FieldCreateAt = "createAt"
	FieldUpdateAt = "updateAt"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidField is returned for filter fields that cannot be addressed.
	ErrInvalidField = errors.New("invalid field name")
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Document is a stored record tagged with its identifier and server timestamps.
type Document struct {
	ID       string
	Fields   map[string]any
	CreateAt time.Time
	UpdateAt time.Time
}

// Decode maps the document onto a typed value. The identifier and both
// timestamps are exposed under their reserved field names.
func (d Document) Decode(v any) error {
	m := make(map[string]any, len(d.Fields)+3)
	for k, val := range d.Fields {
		m[k] = val
	}
	m[FieldID] = d.ID
	m[FieldCreateAt] = d.CreateAt
	m[FieldUpdateAt] = d.UpdateAt

	data, err := sonic.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.ID, err)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Filter selects documents whose top-level field equals Value.
// The zero Filter matches every document.
type Filter struct {
	Field string
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Field == ""
}

// Validate checks that the filter field can be addressed by a backend.
func (f Filter) Validate() error {
	if f.IsZero() {
		return nil
	}
	if !fieldNamePattern.MatchString(f.Field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, f.Field)
	}
	return nil
}

// Match evaluates the filter against a document in memory.
func (f Filter) Match(d Document) bool {
	if f.IsZero() {
		return true
	}
	v, ok := d.Fields[f.Field]
	if !ok {
		return false
	}
	return sameValue(v, f.Value)
}

// Key identifies the filter in caches.
func (f Filter) Key() string {
	if f.IsZero() {
		return "*"
	}
	return fmt.Sprintf("%s=%v", f.Field, f.Value)
}

func sameValue(a, b any) bool {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Backend persists documents. Implementations assign identifiers and
// timestamps at write time.
type Backend interface {
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)
}

// ChangeKind describes what happened to a document.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change announces a write to a collection.
type Change struct {
	Collection string     `json:"collection"`
	DocumentID string     `json:"documentId"`
	Kind       ChangeKind `json:"kind"`
}

// Bus distributes change notifications to listeners of a collection.
type Bus interface {
	Publish(ctx context.Context, change Change) error
	Listen(collection string) (<-chan Change, func())
}

// Snapshot is the full result of a live query at ReadAt. A snapshot with a
// non-nil Err is terminal.
type Snapshot struct {
	Documents []Document
	Err       error
	ReadAt    time.Time
}

// CleanFields copies fields without the reserved names.
func CleanFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case FieldID, FieldCreateAt, FieldUpdateAt:
			continue
		}
		out[k] = v
	}
	return out
}
