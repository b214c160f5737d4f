package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Email uniqueness is enforced by a UNIQUE constraint, so concurrent inserts
// from separate processes cannot produce two rows for one email.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// FindByEmail retrieves the credential with the given email. Returns nil, nil
// if none exists.
func (r *CredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	const query = `SELECT id, email, password_hash, created_at FROM credentials WHERE email = ?`

	var cred model.Credential
	var createdAt string
	err := r.db.Reader.QueryRowContext(ctx, query, email).Scan(&cred.ID, &cred.Email, &cred.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get credential %q: %w", driven.ErrStoreUnavailable, email, err)
	}

	cred.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for credential %q: %w", email, err)
	}

	return &cred, nil
}

// Insert stores a new credential. Returns ErrCredentialExists if the email is
// already present.
func (r *CredentialRepo) Insert(ctx context.Context, cred model.Credential) error {
	const query = `INSERT INTO credentials (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`

	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Writer.ExecContext(ctx, query, cred.ID, cred.Email, cred.PasswordHash, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("insert credential %q: %w", cred.Email, driven.ErrCredentialExists)
		}
		return fmt.Errorf("%w: insert credential %q: %w", driven.ErrStoreUnavailable, cred.Email, err)
	}

	return nil
}

// Ping checks both connections.
func (r *CredentialRepo) Ping(ctx context.Context) error {
	if err := r.db.Reader.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping reader: %w", driven.ErrStoreUnavailable, err)
	}
	if err := r.db.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping writer: %w", driven.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying DB.
func (r *CredentialRepo) Close() error {
	return r.db.Close()
}
