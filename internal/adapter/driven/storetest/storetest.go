// Package storetest holds the behavioral checks every CredentialStore
// implementation must pass. Backend packages call Run from their tests.
package storetest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/invoicedesk/internal/adapter/driven/argon2id"
	"github.com/ericfisherdev/invoicedesk/internal/application"
	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) driven.CredentialStore

// FastHasher is an argon2id hasher with minimal cost for tests.
func FastHasher() *argon2id.Hasher {
	return argon2id.NewHasher(argon2id.Params{Memory: 1024, Time: 1, Parallelism: 1})
}

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newStore(t)) })
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, newStore(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
	t.Run("RegisterThenLogin", func(t *testing.T) { testRegisterThenLogin(t, newStore(t)) })
	t.Run("WrongPasswordLeavesStore", func(t *testing.T) { testWrongPassword(t, newStore(t)) })
	t.Run("ConcurrentFirstLogin", func(t *testing.T) { testConcurrentFirstLogin(t, newStore(t)) })
}

func newService(store driven.CredentialStore) *application.AuthService {
	return application.NewAuthService(store, FastHasher(), 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testInsertAndFind(t *testing.T, store driven.CredentialStore) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	err := store.Insert(ctx, model.Credential{
		ID:           "6f1c2d9e-0000-4000-8000-000000000001",
		Email:        "u@x.com",
		PasswordHash: "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		CreatedAt:    created,
	})
	require.NoError(t, err)

	got, err := store.FindByEmail(ctx, "u@x.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "6f1c2d9e-0000-4000-8000-000000000001", got.ID)
	assert.Equal(t, "u@x.com", got.Email)
	assert.Equal(t, "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$a2V5", got.PasswordHash)
	assert.True(t, created.Equal(got.CreatedAt), "created_at round trip: got %v", got.CreatedAt)
}

func testFindMissing(t *testing.T, store driven.CredentialStore) {
	got, err := store.FindByEmail(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testInsertDuplicate(t *testing.T, store driven.CredentialStore) {
	ctx := context.Background()
	first := model.Credential{ID: "a", Email: "dup@x.com", PasswordHash: "h1", CreatedAt: time.Now().UTC()}
	second := model.Credential{ID: "b", Email: "dup@x.com", PasswordHash: "h2", CreatedAt: time.Now().UTC()}

	require.NoError(t, store.Insert(ctx, first))
	err := store.Insert(ctx, second)
	require.ErrorIs(t, err, driven.ErrCredentialExists)

	got, err := store.FindByEmail(ctx, "dup@x.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.PasswordHash, "duplicate insert must not overwrite")
}

func testRegisterThenLogin(t *testing.T, store driven.CredentialStore) {
	svc := newService(store)
	ctx := context.Background()

	res, err := svc.AuthenticateOrRegister(ctx, "new@x.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, model.Authenticated("new@x.com"), res)

	stored, err := store.FindByEmail(ctx, "new@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, "secret", stored.PasswordHash, "password must not be stored in plaintext")

	res, err = svc.AuthenticateOrRegister(ctx, "new@x.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, model.Authenticated("new@x.com"), res)
}

func testWrongPassword(t *testing.T, store driven.CredentialStore) {
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.AuthenticateOrRegister(ctx, "u@x.com", "pw1")
	require.NoError(t, err)
	before, err := store.FindByEmail(ctx, "u@x.com")
	require.NoError(t, err)
	require.NotNil(t, before)

	res, err := svc.AuthenticateOrRegister(ctx, "u@x.com", "wrong")
	require.NoError(t, err)
	assert.Equal(t, model.Rejected(), res)

	after, err := store.FindByEmail(ctx, "u@x.com")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
}

func testConcurrentFirstLogin(t *testing.T, store driven.CredentialStore) {
	svc := newService(store)

	const goroutines = 16
	var wg sync.WaitGroup
	wg.Add(goroutines)
	errs := make([]error, goroutines)
	for i := range goroutines {
		go func() {
			defer wg.Done()
			_, errs[i] = svc.AuthenticateOrRegister(context.Background(), "race@x.com", "secret")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// A second insert attempt must still be refused: exactly one record exists.
	err := store.Insert(context.Background(), model.Credential{ID: "z", Email: "race@x.com", PasswordHash: "h", CreatedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, driven.ErrCredentialExists)
}
