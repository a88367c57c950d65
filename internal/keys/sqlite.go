package keys

import (
	"context"
	"crypto"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hacknlove/safeapi-server/internal/verify"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS issuer_keys (
	issuer     TEXT PRIMARY KEY,
	public_key TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore keeps PEM encoded issuer keys in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create key schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveKey(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	var data string

	err := s.db.QueryRowContext(ctx,
		`SELECT public_key FROM issuer_keys WHERE issuer = ?`, issuer,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, verify.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("key lookup failed for issuer %s: %w", issuer, err)
	}

	key, err := ParsePublicKeyPEM([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("stored key for issuer %s is invalid: %w", issuer, err)
	}

	return key, nil
}

// PutKey stores the PEM encoded key for issuer, replacing any existing key.
func (s *SQLiteStore) PutKey(ctx context.Context, issuer string, publicKeyPEM string) error {
	if _, err := ParsePublicKeyPEM([]byte(publicKeyPEM)); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issuer_keys (issuer, public_key) VALUES (?, ?)
		ON CONFLICT(issuer) DO UPDATE SET
			public_key = excluded.public_key,
			updated_at = CURRENT_TIMESTAMP`,
		issuer, publicKeyPEM,
	)
	if err != nil {
		return fmt.Errorf("failed to store key for issuer %s: %w", issuer, err)
	}

	return nil
}

func (s *SQLiteStore) DeleteKey(ctx context.Context, issuer string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM issuer_keys WHERE issuer = ?`, issuer)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
