package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "github.com/ericfisherdev/invoicedesk/internal/adapter/driven/redis"
	"github.com/ericfisherdev/invoicedesk/internal/adapter/driven/storetest"
	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := redisstore.NewStore(client, "test")
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) driven.CredentialStore {
		store, _ := newTestStore(t)
		return store
	})
}

func TestStore_KeyLayout(t *testing.T) {
	store, mr := newTestStore(t)

	err := store.Insert(context.Background(), model.Credential{
		ID:           "id-1",
		Email:        "u@x.com",
		PasswordHash: "hash",
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	raw, err := mr.Get("test:u@x.com")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id-1","email":"u@x.com","password_hash":"hash","created_at":"2026-01-02T03:04:05Z"}`, raw)
}

func TestStore_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redisstore.NewStore(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Insert(context.Background(), model.Credential{ID: "id-1", Email: "u@x.com", PasswordHash: "h"}))
	assert.True(t, mr.Exists("cred:u@x.com"))
}

func TestStore_ServerDownIsUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	_, err := store.FindByEmail(ctx, "u@x.com")
	assert.ErrorIs(t, err, driven.ErrStoreUnavailable)

	err = store.Insert(ctx, model.Credential{ID: "id-1", Email: "u@x.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, driven.ErrStoreUnavailable)

	assert.ErrorIs(t, store.Ping(ctx), driven.ErrStoreUnavailable)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	store, err := redisstore.Dial(context.Background(), addr, "")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Addr is unusable once the server is closed.
	mr.Close()
	_, err = redisstore.Dial(context.Background(), addr, "")
	assert.ErrorIs(t, err, driven.ErrStoreUnavailable)
}
