package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/custodia-labs/installations/internal/adapters/driven/crypto"
	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EntryStore = (*EntryStore)(nil)

// migrations is an ordered list of SQL statements applied on open.
// Each entry is idempotent so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS installation_entries (
		persistence_key           TEXT PRIMARY KEY,
		fid                       TEXT NOT NULL DEFAULT '',
		status                    TEXT NOT NULL DEFAULT 'NOT_GENERATED',
		auth_token                TEXT NOT NULL DEFAULT '',
		refresh_token             TEXT NOT NULL DEFAULT '',
		secret_blob               BLOB,
		token_creation_epoch_secs INTEGER NOT NULL DEFAULT 0,
		expires_in_secs           INTEGER NOT NULL DEFAULT 0,
		fis_error                 TEXT NOT NULL DEFAULT ''
	)`,
}

// EntryStore implements driven.EntryStore on a local SQLite file.
// It is the default store of a single process; the file survives restarts.
type EntryStore struct {
	db     *sql.DB
	key    string
	sealer *crypto.Sealer
}

// Open opens (or creates) the database at path and runs migrations.
// sealer is optional; without it tokens are stored in plain columns.
func Open(path, persistenceKey string, sealer *crypto.Sealer) (*EntryStore, error) {
	if path == "" || persistenceKey == "" {
		return nil, fmt.Errorf("%w: database path and persistence key are required", domain.ErrInvalidInput)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &EntryStore{db: db, key: persistenceKey, sealer: sealer}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *EntryStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *EntryStore) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *EntryStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Read returns the stored entry, or NOT_GENERATED when the row does not exist.
func (s *EntryStore) Read(ctx context.Context) (domain.InstallationEntry, error) {
	return s.read(ctx, s.db)
}

func (s *EntryStore) read(ctx context.Context, q queryer) (domain.InstallationEntry, error) {
	var (
		entry  domain.InstallationEntry
		status string
		blob   []byte
	)
	err := q.QueryRowContext(ctx,
		`SELECT fid, status, auth_token, refresh_token, secret_blob, token_creation_epoch_secs, expires_in_secs, fis_error
		 FROM installation_entries WHERE persistence_key = ?`, s.key).Scan(
		&entry.FID, &status, &entry.AuthToken, &entry.RefreshToken, &blob,
		&entry.TokenCreationEpochSecs, &entry.ExpiresInSecs, &entry.FisError)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotGeneratedEntry(), nil
	}
	if err != nil {
		return domain.InstallationEntry{}, fmt.Errorf("get installation entry: %w", err)
	}

	entry.Status = domain.RegistrationStatus(status)
	entry = entry.Normalize()
	if !entry.Status.IsValid() {
		return domain.InstallationEntry{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidEntry, status)
	}

	if len(blob) > 0 {
		if s.sealer == nil {
			return domain.InstallationEntry{}, errors.New("installation entry is sealed but no sealing key is configured")
		}
		secrets, err := s.sealer.Open(blob, s.key)
		if err != nil {
			return domain.InstallationEntry{}, fmt.Errorf("open token secrets: %w", err)
		}
		entry.AuthToken = secrets.AuthToken
		entry.RefreshToken = secrets.RefreshToken
	}
	return entry, nil
}

// Write overwrites the stored entry.
func (s *EntryStore) Write(ctx context.Context, entry domain.InstallationEntry) error {
	return s.upsert(ctx, s.db, entry)
}

func (s *EntryStore) upsert(ctx context.Context, q queryer, entry domain.InstallationEntry) error {
	entry = entry.Normalize()

	var blob []byte
	if s.sealer != nil {
		secrets := crypto.TokenSecrets{AuthToken: entry.AuthToken, RefreshToken: entry.RefreshToken}
		if !secrets.IsZero() {
			sealed, err := s.sealer.Seal(secrets, s.key)
			if err != nil {
				return fmt.Errorf("seal token secrets: %w", err)
			}
			blob = sealed
		}
		entry.AuthToken = ""
		entry.RefreshToken = ""
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO installation_entries (
			persistence_key, fid, status, auth_token, refresh_token, secret_blob,
			token_creation_epoch_secs, expires_in_secs, fis_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (persistence_key) DO UPDATE SET
			fid = excluded.fid,
			status = excluded.status,
			auth_token = excluded.auth_token,
			refresh_token = excluded.refresh_token,
			secret_blob = excluded.secret_blob,
			token_creation_epoch_secs = excluded.token_creation_epoch_secs,
			expires_in_secs = excluded.expires_in_secs,
			fis_error = excluded.fis_error`,
		s.key, entry.FID, string(entry.Status), entry.AuthToken, entry.RefreshToken, blob,
		entry.TokenCreationEpochSecs, entry.ExpiresInSecs, entry.FisError)
	if err != nil {
		return fmt.Errorf("save installation entry: %w", err)
	}
	return nil
}

// CompareAndSwap writes next only if the stored entry still equals expected.
// The single connection serializes transactions, so read and write cannot interleave.
func (s *EntryStore) CompareAndSwap(ctx context.Context, expected, next domain.InstallationEntry) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := s.read(ctx, tx)
	if err != nil {
		return false, err
	}
	if current != expected.Normalize() {
		return false, nil
	}
	if err := s.upsert(ctx, tx, next); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// Clear deletes the stored entry.
func (s *EntryStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM installation_entries WHERE persistence_key = ?`, s.key); err != nil {
		return fmt.Errorf("delete installation entry: %w", err)
	}
	return nil
}
