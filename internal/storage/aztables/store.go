// Package aztables stores documents in Azure Table Storage. Every collection
// is a partition of one table; the document body is kept as a JSON string
// property next to its timestamps.
package aztables

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/internal/docstore"
)

const (
	tableSuffix = "documents"
	edmDateTime = "Edm.DateTime"
)

// ErrConflict is returned when a document changed between read and write.
var ErrConflict = errors.New("document modified concurrently")

// Store is a docstore.Backend on top of an Azure table.
type Store struct {
	table  *aztables.Client
	logger *log.Logger
	now    func() time.Time
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type documentEntity struct {
	entityKeys
	Fields       string    `json:"Fields"`
	CreateAt     time.Time `json:"CreateAt"`
	CreateAtType string    `json:"CreateAt@odata.type"`
	UpdateAt     time.Time `json:"UpdateAt"`
	UpdateAtType string    `json:"UpdateAt@odata.type"`
}

type documentUpdate struct {
	entityKeys
	Fields       string    `json:"Fields"`
	UpdateAt     time.Time `json:"UpdateAt"`
	UpdateAtType string    `json:"UpdateAt@odata.type"`
}

// Open connects to the storage account and creates the documents table when
// it does not exist yet.
func Open(ctx context.Context, connStr, prefix string, logger *log.Logger) (*Store, error) {
	if connStr == "" {
		return nil, fmt.Errorf("empty connection string")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, fmt.Errorf("table service client: %w", err)
	}
	name := TableName(prefix)
	table := svc.NewClient(name)
	if _, err := table.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return nil, fmt.Errorf("create table %s: %w", name, err)
		}
	}
	logger.WithField("table", name).Debug("azure table document store ready")
	return &Store{table: table, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// TableName returns the documents table name for prefix.
func TableName(prefix string) string {
	return prefix + tableSuffix
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	now := s.now()
	id := uuid.NewString()
	payload, err := encodeEntity(collection, id, fields, now, now)
	if err != nil {
		return "", err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return "", fmt.Errorf("add entity: %w", err)
	}
	return id, nil
}

// Update merges fields into the stored document. The write is conditional on
// the ETag that was read, so a concurrent writer yields ErrConflict instead
// of being overwritten.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	resp, err := s.table.GetEntity(ctx, collection, id, nil)
	if err != nil {
		return mapError(err)
	}
	current, err := decodeEntity(resp.Value)
	if err != nil {
		return err
	}
	for k, v := range docstore.CleanFields(fields) {
		current.Fields[k] = v
	}
	payload, err := encodeUpdate(collection, id, current.Fields, s.now())
	if err != nil {
		return err
	}
	etag := resp.ETag
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	// Deleting a missing entity with an ETag of * is a 404, which maps to
	// ErrNotFound like the other backends.
	if _, err := s.table.DeleteEntity(ctx, collection, id, nil); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	resp, err := s.table.GetEntity(ctx, collection, id, nil)
	if err != nil {
		return docstore.Document{}, mapError(err)
	}
	return decodeEntity(resp.Value)
}

// Query lists the collection partition and applies filter in memory. Results
// are ordered by creation time.
func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	partition := partitionFilter(collection)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &partition})
	docs := []docstore.Document{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		for _, raw := range resp.Entities {
			doc, err := decodeEntity(raw)
			if err != nil {
				s.logger.WithError(err).WithField("collection", collection).Warn("skipping undecodable entity")
				continue
			}
			if filter.Match(doc) {
				docs = append(docs, doc)
			}
		}
	}
	sortByCreation(docs)
	return docs, nil
}

func partitionFilter(collection string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(collection, "'", "''") + "'"
}

func sortByCreation(docs []docstore.Document) {
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreateAt.Before(docs[j].CreateAt) })
}

func encodeEntity(collection, id string, fields map[string]any, createAt, updateAt time.Time) ([]byte, error) {
	body, err := sonic.MarshalString(docstore.CleanFields(fields))
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return sonic.Marshal(documentEntity{
		entityKeys:   entityKeys{PartitionKey: collection, RowKey: id},
		Fields:       body,
		CreateAt:     createAt.UTC(),
		CreateAtType: edmDateTime,
		UpdateAt:     updateAt.UTC(),
		UpdateAtType: edmDateTime,
	})
}

func encodeUpdate(collection, id string, fields map[string]any, updateAt time.Time) ([]byte, error) {
	body, err := sonic.MarshalString(docstore.CleanFields(fields))
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return sonic.Marshal(documentUpdate{
		entityKeys:   entityKeys{PartitionKey: collection, RowKey: id},
		Fields:       body,
		UpdateAt:     updateAt.UTC(),
		UpdateAtType: edmDateTime,
	})
}

func decodeEntity(raw []byte) (docstore.Document, error) {
	var ent documentEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return docstore.Document{}, fmt.Errorf("decode entity: %w", err)
	}
	fields := map[string]any{}
	if ent.Fields != "" {
		if err := sonic.UnmarshalString(ent.Fields, &fields); err != nil {
			return docstore.Document{}, fmt.Errorf("decode fields of %s: %w", ent.RowKey, err)
		}
	}
	return docstore.Document{
		ID:       ent.RowKey,
		Fields:   fields,
		CreateAt: ent.CreateAt.UTC(),
		UpdateAt: ent.UpdateAt.UTC(),
	}, nil
}

func mapError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return docstore.ErrNotFound
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %s", ErrConflict, respErr.ErrorCode)
		}
	}
	return err
}

var _ docstore.Backend = (*Store)(nil)
