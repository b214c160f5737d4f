package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

// --- Mock implementations for AuthService tests ---

// memStore appends without a uniqueness check, so any duplicate record in a
// test points at the service, not the store.
type memStore struct {
	mu        sync.Mutex
	creds     []model.Credential
	findErr   error
	insertErr error
	inserts   int
	delay     time.Duration
}

func (m *memStore) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, c := range m.creds {
		if c.Email == email {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) Insert(_ context.Context, cred model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return m.insertErr
	}
	m.creds = append(m.creds, cred)
	return nil
}

func (m *memStore) Ping(_ context.Context) error { return m.findErr }
func (m *memStore) Close() error                 { return nil }

func (m *memStore) count(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.creds {
		if c.Email == email {
			n++
		}
	}
	return n
}

// prefixHasher is a fast reversible stand-in for argon2id.
type prefixHasher struct{}

func (prefixHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (prefixHasher) Verify(password, encoded string) (bool, error) {
	return encoded == "hashed:"+password, nil
}

func newTestAuthService(store driven.CredentialStore) *AuthService {
	return NewAuthService(store, prefixHasher{}, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// --- Tests ---

func TestAuthService_RegistersNewEmail(t *testing.T) {
	store := &memStore{}
	svc := newTestAuthService(store)

	res, err := svc.AuthenticateOrRegister(context.Background(), "new@x.com", "secret")

	require.NoError(t, err)
	assert.Equal(t, model.Authenticated("new@x.com"), res)
	require.Len(t, store.creds, 1)
	assert.Equal(t, "new@x.com", store.creds[0].Email)
	assert.Equal(t, "hashed:secret", store.creds[0].PasswordHash)
	assert.NotEmpty(t, store.creds[0].ID)
	assert.False(t, store.creds[0].CreatedAt.IsZero())
}

func TestAuthService_ExistingEmail(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     model.AuthResult
	}{
		{name: "matching password", password: "pw1", want: model.Authenticated("u@x.com")},
		{name: "wrong password", password: "wrong", want: model.Rejected()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{creds: []model.Credential{{ID: "1", Email: "u@x.com", PasswordHash: "hashed:pw1"}}}
			svc := newTestAuthService(store)

			res, err := svc.AuthenticateOrRegister(context.Background(), "u@x.com", tt.password)

			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
			assert.Equal(t, 0, store.inserts, "existing email must not be inserted again")
			require.Len(t, store.creds, 1)
			assert.Equal(t, "hashed:pw1", store.creds[0].PasswordHash)
		})
	}
}

func TestAuthService_Idempotent(t *testing.T) {
	store := &memStore{}
	svc := newTestAuthService(store)
	ctx := context.Background()

	for range 2 {
		res, err := svc.AuthenticateOrRegister(ctx, "a@x.com", "pw")
		require.NoError(t, err)
		assert.True(t, res.IsAuthenticated())
	}

	assert.Equal(t, 1, store.count("a@x.com"))
}

func TestAuthService_EmailMatchIsExact(t *testing.T) {
	store := &memStore{creds: []model.Credential{{Email: "u@x.com", PasswordHash: "hashed:pw1"}}}
	svc := newTestAuthService(store)

	res, err := svc.AuthenticateOrRegister(context.Background(), "U@x.com", "other")

	require.NoError(t, err)
	assert.Equal(t, model.Authenticated("U@x.com"), res)
	assert.Len(t, store.creds, 2)
}

func TestAuthService_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantMsg  string
	}{
		{name: "missing email", email: "", password: "pw", wantMsg: "email"},
		{name: "missing password", email: "u@x.com", password: "", wantMsg: "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			svc := newTestAuthService(store)

			_, err := svc.AuthenticateOrRegister(context.Background(), tt.email, tt.password)

			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, 0, store.inserts)
		})
	}
}

func TestAuthService_StoreUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		store *memStore
	}{
		{
			name:  "lookup fails",
			store: &memStore{findErr: errors.New("connection refused")},
		},
		{
			name:  "insert fails",
			store: &memStore{insertErr: errors.New("disk full")},
		},
		{
			name:  "already wrapped",
			store: &memStore{findErr: driven.ErrStoreUnavailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestAuthService(tt.store)

			res, err := svc.AuthenticateOrRegister(context.Background(), "u@x.com", "pw")

			require.ErrorIs(t, err, driven.ErrStoreUnavailable)
			assert.NotEqual(t, model.Rejected(), res)
		})
	}
}

func TestAuthService_StoreTimeout(t *testing.T) {
	store := &memStore{delay: time.Second}
	svc := NewAuthService(store, prefixHasher{}, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.AuthenticateOrRegister(context.Background(), "u@x.com", "pw")

	require.ErrorIs(t, err, driven.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// raceStore simulates another process winning the insert between our lookup
// and our insert.
type raceStore struct {
	memStore
}

func (r *raceStore) Insert(_ context.Context, _ model.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	r.creds = append(r.creds, model.Credential{Email: "u@x.com", PasswordHash: "hashed:winner"})
	return driven.ErrCredentialExists
}

func TestAuthService_LostInsertRaceVerifiesWinner(t *testing.T) {
	ctx := context.Background()

	store := &raceStore{}
	svc := newTestAuthService(store)
	res, err := svc.AuthenticateOrRegister(ctx, "u@x.com", "loser")
	require.NoError(t, err)
	assert.Equal(t, model.Rejected(), res)

	store = &raceStore{}
	svc = newTestAuthService(store)
	res, err = svc.AuthenticateOrRegister(ctx, "u@x.com", "winner")
	require.NoError(t, err)
	assert.Equal(t, model.Authenticated("u@x.com"), res)
}

// TestAuthService_ConcurrentFirstLogin guards against the duplicate-record
// race on first-time registration.
func TestAuthService_ConcurrentFirstLogin(t *testing.T) {
	store := &memStore{delay: time.Millisecond}
	svc := newTestAuthService(store)

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)

	results := make([]model.AuthResult, goroutines)
	errs := make([]error, goroutines)
	for i := range goroutines {
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.AuthenticateOrRegister(context.Background(), "new@x.com", "secret")
		}()
	}
	wg.Wait()

	for i := range goroutines {
		require.NoError(t, errs[i])
		assert.Equal(t, model.Authenticated("new@x.com"), results[i])
	}
	assert.Equal(t, 1, store.count("new@x.com"))
	assert.Equal(t, 1, store.inserts)
}

func TestAuthService_DistinctEmailsDoNotBlock(t *testing.T) {
	store := &memStore{}
	svc := newTestAuthService(store)

	var wg sync.WaitGroup
	emails := []string{"a@x.com", "b@x.com", "c@x.com"}
	wg.Add(len(emails))
	for _, email := range emails {
		go func() {
			defer wg.Done()
			_, err := svc.AuthenticateOrRegister(context.Background(), email, "pw")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, email := range emails {
		assert.Equal(t, 1, store.count(email))
	}
}

func TestAuthService_LockWaitHonoursTimeout(t *testing.T) {
	store := &memStore{}
	svc := NewAuthService(store, prefixHasher{}, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	svc.locks.Lock("u@x.com")
	_, err := svc.AuthenticateOrRegister(context.Background(), "u@x.com", "pw")
	svc.locks.Unlock("u@x.com")

	require.ErrorIs(t, err, driven.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, store.inserts, "timed-out caller must not touch the store")

	// The abandoned acquisition must not leave the email locked.
	res, err := svc.AuthenticateOrRegister(context.Background(), "u@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, model.Authenticated("u@x.com"), res)
}

// slowHasher records how many Hash/Verify calls run at once.
type slowHasher struct {
	prefixHasher
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (h *slowHasher) track() func() {
	n := h.inFlight.Add(1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return func() { h.inFlight.Add(-1) }
}

func (h *slowHasher) Hash(password string) (string, error) {
	defer h.track()()
	return h.prefixHasher.Hash(password)
}

func (h *slowHasher) Verify(password, encoded string) (bool, error) {
	defer h.track()()
	return h.prefixHasher.Verify(password, encoded)
}

func TestAuthService_HashConcurrencyBounded(t *testing.T) {
	hasher := &slowHasher{}
	svc := NewAuthService(&memStore{}, hasher, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	const callers = 3 * MaxConcurrentHashes
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			_, err := svc.AuthenticateOrRegister(context.Background(), fmt.Sprintf("user%d@x.com", i), "pw")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, hasher.peak.Load(), int32(MaxConcurrentHashes))
	assert.Positive(t, hasher.peak.Load())
}
