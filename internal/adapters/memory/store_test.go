package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

func TestStore_SaveLoad(t *testing.T) {
	store := NewStore()
	identity := dialog.Identity{UserID: 1, ChatID: 2}

	sess := dialog.NewSession(identity, "registration", "name_step", map[string]any{"source": "test"})
	require.NoError(t, store.Save(context.Background(), sess))

	got, err := store.Load(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, "registration", got.ChainID)
	assert.Equal(t, "test", got.Data["source"])
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore()

	_, err := store.Load(context.Background(), dialog.Identity{UserID: 99, ChatID: 99})
	assert.ErrorIs(t, err, dialog.ErrSessionNotFound)
}

func TestStore_SaveIsolatesCaller(t *testing.T) {
	store := NewStore()
	identity := dialog.Identity{UserID: 1, ChatID: 1}

	sess := dialog.NewSession(identity, "registration", "name_step", nil)
	require.NoError(t, store.Save(context.Background(), sess))
	sess.Data["name"] = "mutated after save"

	got, err := store.Load(context.Background(), identity)
	require.NoError(t, err)
	assert.NotContains(t, got.Data, "name")
}

func TestStore_Delete(t *testing.T) {
	store := NewStore()
	identity := dialog.Identity{UserID: 1, ChatID: 1}

	require.NoError(t, store.Save(context.Background(), dialog.NewSession(identity, "registration", "name_step", nil)))
	require.NoError(t, store.Delete(context.Background(), identity))
	require.NoError(t, store.Delete(context.Background(), identity), "deleting twice is a no-op")

	_, err := store.Load(context.Background(), identity)
	assert.ErrorIs(t, err, dialog.ErrSessionNotFound)
}

func TestStore_SweepExpired(t *testing.T) {
	store := NewStore()

	stale := dialog.NewSession(dialog.Identity{UserID: 1, ChatID: 1}, "registration", "name_step", nil)
	stale.UpdatedAt = time.Now().Add(-3 * time.Hour)
	require.NoError(t, store.Save(context.Background(), stale))

	fresh := dialog.NewSession(dialog.Identity{UserID: 2, ChatID: 2}, "registration", "name_step", nil)
	require.NoError(t, store.Save(context.Background(), fresh))

	n, err := store.SweepExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())
}
