package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/internal/config"
	"taskboard/internal/docstore"
	"taskboard/internal/storage/aztables"
	"taskboard/internal/storage/sqlite"
)

// openBackend opens the document backend selected by store.driver.
func openBackend(ctx context.Context, cfg config.StoreConfig, logger *log.Logger) (docstore.Backend, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("close sqlite store")
			}
		}, nil
	case config.DriverAzTables:
		store, err := aztables.Open(ctx, cfg.AzureConnectionString, cfg.AzureTablePrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.DriverMemory:
		logger.Warn("memory store selected; data is lost on exit")
		return docstore.NewMemoryBackend(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openStore builds the live document store. When Redis is configured, query
// results are cached there and changes are relayed between instances.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (*docstore.Store, func(), error) {
	backend, closeBackend, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	if cfg.Redis.URL == "" {
		return docstore.New(backend, nil, docstore.WithLogger(logger)), closeBackend, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		closeBackend()
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		closeBackend()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	bus := docstore.NewRedisBus(client, cfg.Redis.Channel, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Run(runCtx)
	}()

	logger.WithFields(log.Fields{
		"channel":   cfg.Redis.Channel,
		"cache_ttl": cfg.Redis.CacheTTL.String(),
	}).Info("redis change relay enabled")

	store := docstore.New(docstore.NewCache(backend, client, cfg.Redis.CacheTTL), bus, docstore.WithLogger(logger))
	return store, func() {
		cancel()
		<-done
		_ = client.Close()
		closeBackend()
	}, nil
}
