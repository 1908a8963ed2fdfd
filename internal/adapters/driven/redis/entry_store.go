package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/installations/internal/adapters/driven/crypto"
	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EntryStore = (*EntryStore)(nil)

const entryPrefix = "installations:entry:"

// errNotSwapped aborts a watched transaction whose precondition failed.
var errNotSwapped = errors.New("entry does not match expected value")

// EntryStore implements driven.EntryStore on a single Redis key.
// CompareAndSwap uses WATCH/MULTI so a concurrent writer aborts the swap.
type EntryStore struct {
	client *redis.Client
	key    string
	sealer *crypto.Sealer
	bindTo string
}

// storedEntry is the JSON document kept under the key.
// With a sealer configured the tokens only appear inside Sealed.
type storedEntry struct {
	domain.InstallationEntry
	Sealed []byte `json:"sealed,omitempty"`
}

// NewEntryStore creates a new Redis-backed EntryStore for the app identified by persistenceKey.
// sealer is optional; without it tokens are stored as plain JSON.
func NewEntryStore(client *redis.Client, persistenceKey string, sealer *crypto.Sealer) *EntryStore {
	return &EntryStore{
		client: client,
		key:    entryPrefix + persistenceKey,
		sealer: sealer,
		bindTo: persistenceKey,
	}
}

// Read returns the stored entry, or NOT_GENERATED when the key does not exist.
func (s *EntryStore) Read(ctx context.Context) (domain.InstallationEntry, error) {
	return s.get(ctx, s.client)
}

// getter is satisfied by *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *EntryStore) get(ctx context.Context, c getter) (domain.InstallationEntry, error) {
	data, err := c.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return domain.NotGeneratedEntry(), nil
	}
	if err != nil {
		return domain.InstallationEntry{}, fmt.Errorf("failed to get installation entry: %w", err)
	}
	return s.decode(data)
}

// Write overwrites the stored entry.
func (s *EntryStore) Write(ctx context.Context, entry domain.InstallationEntry) error {
	data, err := s.encode(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save installation entry: %w", err)
	}
	return nil
}

// CompareAndSwap writes next only if the stored entry equals expected.
func (s *EntryStore) CompareAndSwap(ctx context.Context, expected, next domain.InstallationEntry) (bool, error) {
	data, err := s.encode(next)
	if err != nil {
		return false, err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		if current != expected.Normalize() {
			return errNotSwapped
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}, s.key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotSwapped), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("failed to swap installation entry: %w", err)
	}
}

// Clear deletes the stored entry.
func (s *EntryStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete installation entry: %w", err)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (s *EntryStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *EntryStore) encode(entry domain.InstallationEntry) ([]byte, error) {
	stored := storedEntry{InstallationEntry: entry.Normalize()}

	if s.sealer != nil {
		secrets := crypto.TokenSecrets{AuthToken: entry.AuthToken, RefreshToken: entry.RefreshToken}
		if !secrets.IsZero() {
			sealed, err := s.sealer.Seal(secrets, s.bindTo)
			if err != nil {
				return nil, fmt.Errorf("failed to seal token secrets: %w", err)
			}
			stored.Sealed = sealed
		}
		stored.AuthToken = ""
		stored.RefreshToken = ""
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal installation entry: %w", err)
	}
	return data, nil
}

func (s *EntryStore) decode(data []byte) (domain.InstallationEntry, error) {
	var stored storedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.InstallationEntry{}, fmt.Errorf("failed to unmarshal installation entry: %w", err)
	}

	entry := stored.InstallationEntry.Normalize()
	if len(stored.Sealed) > 0 {
		if s.sealer == nil {
			return domain.InstallationEntry{}, errors.New("installation entry is sealed but no sealing key is configured")
		}
		secrets, err := s.sealer.Open(stored.Sealed, s.bindTo)
		if err != nil {
			return domain.InstallationEntry{}, fmt.Errorf("failed to open token secrets: %w", err)
		}
		entry.AuthToken = secrets.AuthToken
		entry.RefreshToken = secrets.RefreshToken
	}
	if !entry.Status.IsValid() {
		return domain.InstallationEntry{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidEntry, entry.Status)
	}
	return entry, nil
}
