// Package redis implements the CredentialStore port on Redis, one key per
// email. SETNX makes Redis the uniqueness authority across processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Store)(nil)

const defaultPrefix = "cred"

type value struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the Redis-backed CredentialStore.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// NewStore wraps client. An empty prefix selects "cred".
func NewStore(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, prefix string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis %s: %v", driven.ErrStoreUnavailable, addr, err)
	}
	return NewStore(client, prefix), nil
}

func (s *Store) key(email string) string {
	return s.prefix + ":" + email
}

// FindByEmail reads the key for email. Returns nil, nil on redis.Nil.
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	data, err := s.client.Get(ctx, s.key(email)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get credential %q: %v", driven.ErrStoreUnavailable, email, err)
	}

	var v value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode credential %q: %w", email, err)
	}

	return &model.Credential{
		ID:           v.ID,
		Email:        v.Email,
		PasswordHash: v.PasswordHash,
		CreatedAt:    v.CreatedAt,
	}, nil
}

// Insert writes the credential only if no key exists for its email.
func (s *Store) Insert(ctx context.Context, cred model.Credential) error {
	data, err := json.Marshal(value{
		ID:           cred.ID,
		Email:        cred.Email,
		PasswordHash: cred.PasswordHash,
		CreatedAt:    cred.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode credential %q: %w", cred.Email, err)
	}

	set, err := s.client.SetNX(ctx, s.key(cred.Email), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: insert credential %q: %v", driven.ErrStoreUnavailable, cred.Email, err)
	}
	if !set {
		return fmt.Errorf("insert credential %q: %w", cred.Email, driven.ErrCredentialExists)
	}
	return nil
}

// Ping issues a Redis PING.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping redis: %v", driven.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
