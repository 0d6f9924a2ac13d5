package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	return NewFromClient(client), mr
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, _ := testStore(t)
	identity := dialog.Identity{UserID: 1, ChatID: 2}

	sess := dialog.NewSession(identity, "registration", "name_step", map[string]any{"source": "redis"})
	require.NoError(t, store.Save(context.Background(), sess))

	got, err := store.Load(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, "registration", got.ChainID)
	assert.Equal(t, "redis", got.Data["source"])
	assert.Equal(t, dialog.StateStarted, got.State)
}

func TestStore_LoadMissing(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.Load(context.Background(), dialog.Identity{UserID: 9, ChatID: 9})
	assert.ErrorIs(t, err, dialog.ErrSessionNotFound)
}

func TestStore_DeleteRemovesValueAndIndex(t *testing.T) {
	store, mr := testStore(t)
	identity := dialog.Identity{UserID: 1, ChatID: 1}

	require.NoError(t, store.Save(context.Background(), dialog.NewSession(identity, "c", "s", nil)))
	require.NoError(t, store.Delete(context.Background(), identity))

	_, err := store.Load(context.Background(), identity)
	assert.ErrorIs(t, err, dialog.ErrSessionNotFound)

	members, err := mr.ZMembers("dialog:session:index")
	if err == nil {
		assert.NotContains(t, members, identity.Key())
	}
}

func TestStore_SweepExpired(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	stale := dialog.NewSession(dialog.Identity{UserID: 1, ChatID: 1}, "c", "s", nil)
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, stale))

	fresh := dialog.NewSession(dialog.Identity{UserID: 2, ChatID: 2}, "c", "s", nil)
	require.NoError(t, store.Save(ctx, fresh))

	n, err := store.SweepExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Load(ctx, dialog.Identity{UserID: 1, ChatID: 1})
	assert.ErrorIs(t, err, dialog.ErrSessionNotFound)
	_, err = store.Load(ctx, dialog.Identity{UserID: 2, ChatID: 2})
	assert.NoError(t, err)
}

func TestStore_SweepNothingStale(t *testing.T) {
	store, _ := testStore(t)

	n, err := store.SweepExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	locker := NewLocker(client, "dialog:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "1:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("dialog:lock:1:1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("dialog:lock:1:1"))
}

func TestLocker_ContentionTimesOut(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	locker := NewLocker(client, "dialog:")

	_, err := locker.Lock(context.Background(), "1:1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "1:1", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_StaleUnlockIsNoOp(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	locker := NewLocker(client, "dialog:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "1:1", time.Minute)
	require.NoError(t, err)

	// lock expires and someone else grabs it
	mr.Del("dialog:lock:1:1")
	require.NoError(t, mr.Set("dialog:lock:1:1", "other-owner"))

	require.NoError(t, unlock(ctx))
	val, err := mr.Get("dialog:lock:1:1")
	require.NoError(t, err)
	assert.Equal(t, "other-owner", val, "unlock must not release a lock it no longer owns")
}
