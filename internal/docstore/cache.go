package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Cache wraps a Backend with Redis-backed caching of query results. Every
// write through the cache evicts the cached queries of its collection and
// bumps the collection generation; a query result is only stored when the
// generation it was read under is still current.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

type cachedDocument struct {
	ID       string         `json:"id"`
	Fields   map[string]any `json:"fields"`
	CreateAt time.Time      `json:"createAt"`
	UpdateAt time.Time      `json:"updateAt"`
}

// NewCache creates a caching wrapper. A zero ttl disables storing results.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("docstore.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// Add creates a document in the backing store and evicts cached queries.
func (c *Cache) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := c.base.Add(ctx, collection, fields)
	if err != nil {
		return "", err
	}
	c.evict(ctx, collection)
	return id, nil
}

// Update merges fields in the backing store and evicts cached queries.
func (c *Cache) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := c.base.Update(ctx, collection, id, fields); err != nil {
		return err
	}
	c.evict(ctx, collection)
	return nil
}

// Delete removes a document from the backing store and evicts cached queries.
func (c *Cache) Delete(ctx context.Context, collection, id string) error {
	if err := c.base.Delete(ctx, collection, id); err != nil {
		return err
	}
	c.evict(ctx, collection)
	return nil
}

// Get reads a document from the backing store; single reads are not cached.
func (c *Cache) Get(ctx context.Context, collection, id string) (Document, error) {
	return c.base.Get(ctx, collection, id)
}

// Query serves a cached result when present and reads through otherwise.
func (c *Cache) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if docs, ok := c.load(ctx, collection, filter); ok {
		return docs, nil
	}

	gen, genOK := c.generation(ctx, collection)
	docs, err := c.base.Query(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	if genOK {
		c.store(ctx, collection, filter, gen, docs)
	}
	return docs, nil
}

// generation reads the write counter of a collection. A missing counter is
// generation zero.
func (c *Cache) generation(ctx context.Context, collection string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(collection)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

func (c *Cache) load(ctx context.Context, collection string, filter Filter) ([]Document, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.HGet(ctx, queryCacheKey(collection), filter.Key()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, queryCacheKey(collection)).Err()
		}
		return nil, false
	}
	var cached []cachedDocument
	if err := sonic.Unmarshal(data, &cached); err != nil {
		_ = c.redis.HDel(ctx, queryCacheKey(collection), filter.Key()).Err()
		return nil, false
	}
	docs := make([]Document, 0, len(cached))
	for _, d := range cached {
		docs = append(docs, Document{ID: d.ID, Fields: d.Fields, CreateAt: d.CreateAt, UpdateAt: d.UpdateAt})
	}
	return docs, true
}

// store caches docs unless a write bumped the generation since they were
// read. WATCH aborts the transaction if a write lands between check and set.
func (c *Cache) store(ctx context.Context, collection string, filter Filter, gen int64, docs []Document) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	cached := make([]cachedDocument, 0, len(docs))
	for _, d := range docs {
		cached = append(cached, cachedDocument{ID: d.ID, Fields: d.Fields, CreateAt: d.CreateAt, UpdateAt: d.UpdateAt})
	}
	data, err := sonic.Marshal(cached)
	if err != nil {
		return
	}
	key := queryCacheKey(collection)
	genKey := generationKey(collection)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, filter.Key(), data)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, collection string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(collection))
		pipe.Del(ctx, queryCacheKey(collection))
		return nil
	})
}

func generationKey(collection string) string {
	return "docstore:generation:" + collection
}

func queryCacheKey(collection string) string {
	return "docstore:query:" + collection
}
