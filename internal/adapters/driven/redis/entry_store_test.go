package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/installations/internal/adapters/driven/crypto"
	"github.com/custodia-labs/installations/internal/core/domain"
)

const testPersistenceKey = "[DEFAULT]+1:123456789:android:abcdef"

// setupTestRedis creates a miniredis server and a client connected to it
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr, func() {
		client.Close()
		mr.Close()
	}
}

func registered() domain.InstallationEntry {
	return domain.NotGeneratedEntry().WithRegisteredFID("cJ8YfC7VZ0ixUuT6pn3DfK", "refresh-secret", 1000, "auth-secret", 3600)
}

func TestEntryStore_ReadEmpty(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewEntryStore(client, testPersistenceKey, nil)

	entry, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.IsNotGenerated() || entry.FID != "" {
		t.Errorf("expected NOT_GENERATED, got %+v", entry)
	}
}

func TestEntryStore_WriteRead(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewEntryStore(client, testPersistenceKey, nil)
	ctx := context.Background()

	if err := store.Write(ctx, registered()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != registered() {
		t.Errorf("got %+v, want %+v", got, registered())
	}

	if !mr.Exists(entryPrefix + testPersistenceKey) {
		t.Error("expected entry key in redis")
	}
}

func TestEntryStore_SealedSecrets(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	sealer, err := crypto.NewSealer([]byte("01234567890123456789012345678901"))
	if err != nil {
		t.Fatal(err)
	}
	store := NewEntryStore(client, testPersistenceKey, sealer)
	ctx := context.Background()

	if err := store.Write(ctx, registered()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := mr.Get(entryPrefix + testPersistenceKey)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(raw, "refresh-secret") || strings.Contains(raw, "auth-secret") {
		t.Errorf("tokens stored in plaintext: %s", raw)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != registered() {
		t.Errorf("got %+v, want %+v", got, registered())
	}

	unsealed := NewEntryStore(client, testPersistenceKey, nil)
	if _, err := unsealed.Read(ctx); err == nil {
		t.Error("expected reading a sealed entry without a sealer to fail")
	}
}

func TestEntryStore_CompareAndSwap(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewEntryStore(client, testPersistenceKey, nil)
	ctx := context.Background()

	unregistered := domain.NotGeneratedEntry().WithUnregisteredFID("cJ8YfC7VZ0ixUuT6pn3DfK")

	// Absent key matches NOT_GENERATED, including the zero value.
	ok, err := store.CompareAndSwap(ctx, domain.InstallationEntry{}, unregistered)
	if err != nil || !ok {
		t.Fatalf("CompareAndSwap from empty = %v, %v", ok, err)
	}

	// Stale expectation is rejected and nothing changes.
	ok, err = store.CompareAndSwap(ctx, domain.NotGeneratedEntry(), registered())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected swap with stale expectation to fail")
	}
	got, _ := store.Read(ctx)
	if got != unregistered {
		t.Errorf("entry changed by failed swap: %+v", got)
	}

	ok, err = store.CompareAndSwap(ctx, unregistered, registered())
	if err != nil || !ok {
		t.Fatalf("CompareAndSwap = %v, %v", ok, err)
	}
	got, _ = store.Read(ctx)
	if got != registered() {
		t.Errorf("got %+v", got)
	}
}

func TestEntryStore_ConcurrentCompareAndSwap(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewEntryStore(client, testPersistenceKey, nil)
	ctx := context.Background()

	fids := []string{"cAAAAAAAAAAAAAAAAAAAAA", "dAAAAAAAAAAAAAAAAAAAAA", "eAAAAAAAAAAAAAAAAAAAAA", "fAAAAAAAAAAAAAAAAAAAAA"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for _, fid := range fids {
		wg.Add(1)
		go func(fid string) {
			defer wg.Done()
			ok, err := store.CompareAndSwap(ctx, domain.NotGeneratedEntry(), domain.NotGeneratedEntry().WithUnregisteredFID(fid))
			if err != nil {
				t.Errorf("CompareAndSwap: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(fid)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestEntryStore_Clear(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewEntryStore(client, testPersistenceKey, nil)
	ctx := context.Background()

	_ = store.Write(ctx, registered())
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if mr.Exists(entryPrefix + testPersistenceKey) {
		t.Error("expected key to be removed")
	}
	got, _ := store.Read(ctx)
	if !got.IsNotGenerated() {
		t.Errorf("expected NOT_GENERATED after clear, got %+v", got)
	}
}

func TestEntryStore_CorruptValue(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewEntryStore(client, testPersistenceKey, nil)

	_ = mr.Set(entryPrefix+testPersistenceKey, "{not json")
	if _, err := store.Read(context.Background()); err == nil {
		t.Error("expected error for corrupt value")
	}

	_ = mr.Set(entryPrefix+testPersistenceKey, `{"status":"BOGUS","fid":"x"}`)
	if _, err := store.Read(context.Background()); !errors.Is(err, domain.ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestEntryStore_ServerDown(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewEntryStore(client, testPersistenceKey, nil)
	mr.Close()

	if _, err := store.Read(context.Background()); err == nil {
		t.Error("expected error when redis is down")
	}
	if _, err := store.CompareAndSwap(context.Background(), domain.NotGeneratedEntry(), registered()); err == nil {
		t.Error("expected swap error when redis is down")
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Error("expected ping error when redis is down")
	}
}
