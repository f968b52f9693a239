package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/internal/config"
	"taskboard/internal/docstore"
)

func TestOpenBackendDrivers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	for _, cfg := range []config.StoreConfig{
		{Driver: config.DriverMemory},
		{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "board.db")},
	} {
		backend, closeBackend, err := openBackend(ctx, cfg, logger)
		if err != nil {
			t.Fatalf("%s: %v", cfg.Driver, err)
		}
		id, err := backend.Add(ctx, "projects", map[string]any{"title": "Launch"})
		if err != nil {
			t.Fatalf("%s add: %v", cfg.Driver, err)
		}
		if _, err := backend.Get(ctx, "projects", id); err != nil {
			t.Fatalf("%s get: %v", cfg.Driver, err)
		}
		closeBackend()
	}

	if _, _, err := openBackend(ctx, config.StoreConfig{Driver: "postgres"}, logger); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenStoreWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	cfg := &config.Config{
		Store: config.StoreConfig{Driver: config.DriverMemory},
		Redis: config.RedisConfig{URL: "redis://" + mr.Addr(), Channel: "test:changes", CacheTTL: time.Minute},
	}
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()

	snaps, cancel := store.Subscribe(ctx, "projects", docstore.Filter{})
	defer cancel()
	first := <-snaps
	if first.Err != nil || len(first.Documents) != 0 {
		t.Fatalf("unexpected initial snapshot %+v", first)
	}

	// The relay subscribes asynchronously; keep writing until a change
	// comes back through Redis.
	deadline := time.After(2 * time.Second)
	for {
		if _, err := store.Add(ctx, "projects", map[string]any{"title": "Launch"}); err != nil {
			t.Fatalf("add: %v", err)
		}
		select {
		case snap := <-snaps:
			if snap.Err != nil || len(snap.Documents) == 0 {
				t.Fatalf("unexpected snapshot %+v", snap)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("change was not relayed through redis")
		}
	}
}

func TestOpenStoreBadRedisURL(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := &config.Config{
		Store: config.StoreConfig{Driver: config.DriverMemory},
		Redis: config.RedisConfig{URL: "not a url"},
	}
	if _, _, err := openStore(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected error for bad redis url")
	}
}

func TestNewAuthenticator(t *testing.T) {
	logger, _ := test.NewNullLogger()

	authn, closeAuth, err := newAuthenticator(config.AuthConfig{}, logger)
	if err != nil {
		t.Fatalf("disabled: %v", err)
	}
	closeAuth()
	if authn.Enabled() {
		t.Fatal("expected authentication to be disabled")
	}

	authn, closeAuth, err = newAuthenticator(config.AuthConfig{JWTSecret: "s3cret"}, logger)
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	closeAuth()
	if !authn.Enabled() {
		t.Fatal("expected authentication to be enabled")
	}
}
