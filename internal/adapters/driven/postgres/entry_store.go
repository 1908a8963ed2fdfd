package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/installations/internal/adapters/driven/crypto"
	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Ensure EntryStore implements the interface.
var _ driven.EntryStore = (*EntryStore)(nil)

// DefaultTable is the table created by InitSchema.
const DefaultTable = "installation_entries"

// EntryStore implements driven.EntryStore using PostgreSQL.
// Token secrets are sealed before they reach the database.
type EntryStore struct {
	db     *sql.DB
	sealer *crypto.Sealer
	key    string
	table  string
}

// EntryStoreConfig holds configuration for the entry store.
type EntryStoreConfig struct {
	DB     *sql.DB
	Sealer *crypto.Sealer
	// Key is the persistence key of the app (domain.Options.PersistenceKey).
	Key string
	// Table defaults to DefaultTable.
	Table string
}

// NewEntryStore creates a new PostgreSQL-backed entry store.
func NewEntryStore(cfg EntryStoreConfig) (*EntryStore, error) {
	if cfg.DB == nil || cfg.Sealer == nil {
		return nil, fmt.Errorf("%w: database and sealer are required", domain.ErrInvalidInput)
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: persistence key is required", domain.ErrInvalidInput)
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	return &EntryStore{
		db:     cfg.DB,
		sealer: cfg.Sealer,
		key:    cfg.Key,
		table:  pq.QuoteIdentifier(table),
	}, nil
}

// entryRow is the stored shape of an entry.
type entryRow struct {
	fid        string
	status     string
	secretBlob []byte
	createdAt  int64
	expiresIn  int64
	fisError   string
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Read returns the stored entry, or NOT_GENERATED when there is none.
func (s *EntryStore) Read(ctx context.Context) (domain.InstallationEntry, error) {
	return s.read(ctx, s.db, false)
}

func (s *EntryStore) read(ctx context.Context, q queryer, forUpdate bool) (domain.InstallationEntry, error) {
	query := fmt.Sprintf(`
		SELECT fid, status, secret_blob, token_creation_epoch_secs, expires_in_secs, fis_error
		FROM %s
		WHERE persistence_key = $1`, s.table)
	if forUpdate {
		query += " FOR UPDATE"
	}

	var row entryRow
	err := q.QueryRowContext(ctx, query, s.key).Scan(
		&row.fid,
		&row.status,
		&row.secretBlob,
		&row.createdAt,
		&row.expiresIn,
		&row.fisError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotGeneratedEntry(), nil
	}
	if err != nil {
		return domain.InstallationEntry{}, fmt.Errorf("get installation entry: %w", err)
	}

	return s.rowToEntry(row)
}

// Write overwrites the stored entry.
func (s *EntryStore) Write(ctx context.Context, entry domain.InstallationEntry) error {
	row, err := s.entryToRow(entry)
	if err != nil {
		return err
	}
	return s.upsert(ctx, s.db, row)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *EntryStore) upsert(ctx context.Context, e execer, row entryRow) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			persistence_key, fid, status, secret_blob,
			token_creation_epoch_secs, expires_in_secs, fis_error, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (persistence_key) DO UPDATE SET
			fid = EXCLUDED.fid,
			status = EXCLUDED.status,
			secret_blob = EXCLUDED.secret_blob,
			token_creation_epoch_secs = EXCLUDED.token_creation_epoch_secs,
			expires_in_secs = EXCLUDED.expires_in_secs,
			fis_error = EXCLUDED.fis_error,
			updated_at = EXCLUDED.updated_at`, s.table)

	_, err := e.ExecContext(ctx, query,
		s.key,
		row.fid,
		row.status,
		row.secretBlob,
		row.createdAt,
		row.expiresIn,
		row.fisError,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save installation entry: %w", err)
	}
	return nil
}

// CompareAndSwap writes next only if the stored entry still equals expected.
// The row is seeded and locked with SELECT ... FOR UPDATE so concurrent swaps serialize.
func (s *EntryStore) CompareAndSwap(ctx context.Context, expected, next domain.InstallationEntry) (bool, error) {
	row, err := s.entryToRow(next)
	if err != nil {
		return false, err
	}

	swapped := false
	err = transaction(ctx, s.db, func(tx *sql.Tx) error {
		seed := fmt.Sprintf(`
			INSERT INTO %s (persistence_key, status) VALUES ($1, $2)
			ON CONFLICT (persistence_key) DO NOTHING`, s.table)
		if _, err := tx.ExecContext(ctx, seed, s.key, string(domain.StatusNotGenerated)); err != nil {
			return fmt.Errorf("seed installation entry: %w", err)
		}

		current, err := s.read(ctx, tx, true)
		if err != nil {
			return err
		}
		if current != expected.Normalize() {
			return nil
		}

		if err := s.upsert(ctx, tx, row); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

// Clear removes the stored entry.
func (s *EntryStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE persistence_key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, s.key); err != nil {
		return fmt.Errorf("delete installation entry: %w", err)
	}
	return nil
}

func (s *EntryStore) entryToRow(entry domain.InstallationEntry) (entryRow, error) {
	entry = entry.Normalize()
	row := entryRow{
		fid:       entry.FID,
		status:    string(entry.Status),
		createdAt: entry.TokenCreationEpochSecs,
		expiresIn: entry.ExpiresInSecs,
		fisError:  entry.FisError,
	}

	secrets := crypto.TokenSecrets{AuthToken: entry.AuthToken, RefreshToken: entry.RefreshToken}
	if !secrets.IsZero() {
		blob, err := s.sealer.Seal(secrets, s.key)
		if err != nil {
			return row, fmt.Errorf("seal token secrets: %w", err)
		}
		row.secretBlob = blob
	}
	return row, nil
}

func (s *EntryStore) rowToEntry(row entryRow) (domain.InstallationEntry, error) {
	entry := domain.InstallationEntry{
		FID:                    row.fid,
		Status:                 domain.RegistrationStatus(row.status),
		TokenCreationEpochSecs: row.createdAt,
		ExpiresInSecs:          row.expiresIn,
		FisError:               row.fisError,
	}.Normalize()

	if !entry.Status.IsValid() {
		return domain.InstallationEntry{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidEntry, row.status)
	}

	if len(row.secretBlob) > 0 {
		secrets, err := s.sealer.Open(row.secretBlob, s.key)
		if err != nil {
			return domain.InstallationEntry{}, fmt.Errorf("open token secrets: %w", err)
		}
		entry.AuthToken = secrets.AuthToken
		entry.RefreshToken = secrets.RefreshToken
	}
	return entry, nil
}
