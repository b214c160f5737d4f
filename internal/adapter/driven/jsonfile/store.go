// Package jsonfile implements the CredentialStore port on a local JSON file.
// The whole collection is held in memory and the file is rewritten atomically
// on every insert.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Store)(nil)

// document is the on-disk shape: {"data": [...]}.
type document struct {
	Data []record `json:"data"`
}

type record struct {
	ID           string    `json:"id,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`

	// Password is the plaintext field written by older versions of the file.
	// It is only read, never written.
	Password string `json:"password,omitempty"`
}

// Store is the file-backed CredentialStore.
type Store struct {
	mu      sync.RWMutex
	path    string
	records []record
	byEmail map[string]int
}

// Open loads path into memory. A missing file yields an empty store; the file
// is created on the first insert. Plaintext records from older files are
// upgraded to hashes with hasher and the file rewritten; when hasher is nil
// such records are an error.
func Open(path string, hasher driven.PasswordHasher) (*Store, error) {
	s := &Store{path: path, byEmail: make(map[string]int)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", driven.ErrStoreUnavailable, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	upgraded := false
	for _, rec := range doc.Data {
		if _, dup := s.byEmail[rec.Email]; dup {
			return nil, fmt.Errorf("decode %s: duplicate email %q", path, rec.Email)
		}
		if rec.PasswordHash == "" {
			if hasher == nil {
				return nil, fmt.Errorf("decode %s: plaintext record for %q and no hasher to upgrade it", path, rec.Email)
			}
			hash, err := hasher.Hash(rec.Password)
			if err != nil {
				return nil, fmt.Errorf("hash legacy record %q: %w", rec.Email, err)
			}
			rec.PasswordHash = hash
			rec.Password = ""
			upgraded = true
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
			upgraded = true
		}
		s.byEmail[rec.Email] = len(s.records)
		s.records = append(s.records, rec)
	}

	if upgraded {
		if err := s.flush(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// FindByEmail returns the in-memory record for email, or nil, nil.
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byEmail[email]
	if !ok {
		return nil, nil
	}
	cred := toCredential(s.records[i])
	return &cred, nil
}

// Insert appends cred and rewrites the file. On write failure the in-memory
// append is undone so memory never diverges from disk.
func (s *Store) Insert(ctx context.Context, cred model.Credential) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", driven.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[cred.Email]; ok {
		return fmt.Errorf("insert credential %q: %w", cred.Email, driven.ErrCredentialExists)
	}

	s.byEmail[cred.Email] = len(s.records)
	s.records = append(s.records, record{
		ID:           cred.ID,
		Email:        cred.Email,
		PasswordHash: cred.PasswordHash,
		CreatedAt:    cred.CreatedAt.UTC(),
	})

	if err := s.flush(); err != nil {
		s.records = s.records[:len(s.records)-1]
		delete(s.byEmail, cred.Email)
		return err
	}
	return nil
}

// Ping reports whether the file's directory is still accessible.
func (s *Store) Ping(_ context.Context) error {
	_, err := os.Stat(s.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%w: stat %s: %v", driven.ErrStoreUnavailable, s.path, err)
}

// Close is a no-op; every insert is already on disk.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// flush writes the full collection. Callers hold s.mu for writing.
func (s *Store) flush() error {
	records := s.records
	if records == nil {
		records = []record{}
	}
	data, err := json.MarshalIndent(document{Data: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: write %s: %v", driven.ErrStoreUnavailable, s.path, err)
	}
	return nil
}

func toCredential(r record) model.Credential {
	return model.Credential{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}
