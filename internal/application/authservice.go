package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"golang.org/x/sync/semaphore"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

// ErrInvalidInput is returned when a required login field is empty.
var ErrInvalidInput = errors.New("invalid input")

// DefaultStoreTimeout bounds each authenticate-or-register call, including
// the wait for the per-email lock.
const DefaultStoreTimeout = 5 * time.Second

// MaxConcurrentHashes caps in-flight Hash and Verify calls. Each argon2id
// call holds its full memory cost until it returns.
const MaxConcurrentHashes = 4

// AuthService implements authenticate-or-register over a CredentialStore.
// Calls for the same email are serialized, so concurrent first-time calls
// produce exactly one stored credential.
type AuthService struct {
	store   driven.CredentialStore
	hasher  driven.PasswordHasher
	locks   *kmutex.Kmutex
	hashes  *semaphore.Weighted
	timeout time.Duration
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// NewAuthService creates an AuthService. A non-positive timeout selects
// DefaultStoreTimeout.
func NewAuthService(store driven.CredentialStore, hasher driven.PasswordHasher, timeout time.Duration, logger *slog.Logger) *AuthService {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:   store,
		hasher:  hasher,
		locks:   kmutex.New(),
		hashes:  semaphore.NewWeighted(MaxConcurrentHashes),
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		logger:  logger,
	}
}

// AuthenticateOrRegister logs in an existing user or silently registers a new
// one.
//
//   - Unknown email: the credential is stored and Authenticated(email) returned.
//   - Known email, matching password: Authenticated(email).
//   - Known email, different password: Rejected, store untouched.
//
// The store timeout starts before the per-email lock is taken, so a caller
// queued behind another login for the same email gives up at the deadline.
// Store failures and timeouts return an error wrapping driven.ErrStoreUnavailable.
// Empty email or password returns an error wrapping ErrInvalidInput.
func (s *AuthService) AuthenticateOrRegister(ctx context.Context, email, password string) (model.AuthResult, error) {
	if email == "" {
		return model.AuthResult{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if password == "" {
		return model.AuthResult{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	unlock, err := s.lock(ctx, email)
	if err != nil {
		return model.AuthResult{}, storeError("wait for credential lock", err)
	}
	defer unlock()

	existing, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return model.AuthResult{}, storeError("find credential", err)
	}

	if existing == nil {
		existing, err = s.register(ctx, email, password)
		if err != nil {
			return model.AuthResult{}, err
		}
		if existing == nil {
			return model.Authenticated(email), nil
		}
	}

	var ok bool
	err = s.withHashSlot(ctx, func() (err error) {
		ok, err = s.hasher.Verify(password, existing.PasswordHash)
		return err
	})
	if err != nil {
		return model.AuthResult{}, fmt.Errorf("verify password for %q: %w", email, err)
	}
	if !ok {
		s.logger.Info("login rejected", "email", email)
		return model.Rejected(), nil
	}

	return model.Authenticated(email), nil
}

// register stores a new credential. If another process inserted the same
// email first, the winning credential is returned for verification instead.
func (s *AuthService) register(ctx context.Context, email, password string) (*model.Credential, error) {
	var hash string
	err := s.withHashSlot(ctx, func() (err error) {
		hash, err = s.hasher.Hash(password)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	cred := model.Credential{
		ID:           s.newID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}

	err = s.store.Insert(ctx, cred)
	if err == nil {
		s.logger.Info("credential registered", "email", email)
		return nil, nil
	}
	if !errors.Is(err, driven.ErrCredentialExists) {
		return nil, storeError("insert credential", err)
	}

	winner, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, storeError("find credential", err)
	}
	if winner == nil {
		return nil, fmt.Errorf("%w: credential for %q reported as existing but not found", driven.ErrStoreUnavailable, email)
	}
	return winner, nil
}

// lock takes the per-email lock or gives up when ctx is done. An abandoned
// acquisition is released as soon as it completes.
func (s *AuthService) lock(ctx context.Context, email string) (func(), error) {
	acquired := make(chan struct{})
	go func() {
		s.locks.Lock(email)
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() { s.locks.Unlock(email) }, nil
	case <-ctx.Done():
		go func() {
			<-acquired
			s.locks.Unlock(email)
		}()
		return nil, ctx.Err()
	}
}

// withHashSlot runs fn while holding one of MaxConcurrentHashes slots.
func (s *AuthService) withHashSlot(ctx context.Context, fn func() error) error {
	if err := s.hashes.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for hash slot: %w", err)
	}
	defer s.hashes.Release(1)
	return fn()
}

// storeError guarantees the returned error matches driven.ErrStoreUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, driven.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, driven.ErrStoreUnavailable, err)
}
