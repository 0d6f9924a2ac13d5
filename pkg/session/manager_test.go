package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvi89/stupid-tg-bot/internal/adapters/memory"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
	"github.com/ilvi89/stupid-tg-bot/pkg/ports"
)

func TestManager_WithLock_Serializes(t *testing.T) {
	m := NewManager(memory.NewStore())
	identity := dialog.Identity{UserID: 1, ChatID: 1}

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), identity, func(ctx context.Context) error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter, "increments under the lock must not interleave")
}

func TestManager_LockGarbageCollection(t *testing.T) {
	m := NewManager(memory.NewStore())
	identity := dialog.Identity{UserID: 7, ChatID: 7}

	err := m.WithLock(context.Background(), identity, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks, "lock entries should be collected once unused")
}

func TestManager_Active_NoSession(t *testing.T) {
	m := NewManager(memory.NewStore())

	_, err := m.Active(context.Background(), dialog.Identity{UserID: 1, ChatID: 2})
	assert.ErrorIs(t, err, dialog.ErrNoActiveSession)
}

func TestManager_PutThenActive(t *testing.T) {
	m := NewManager(memory.NewStore())
	identity := dialog.Identity{UserID: 3, ChatID: 4}

	sess := dialog.NewSession(identity, "registration", "name_step", nil)
	require.NoError(t, m.Put(context.Background(), sess))

	got, err := m.Active(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, "registration", got.ChainID)
	assert.Equal(t, "name_step", got.CurrentStepID)
}

func TestManager_Active_ReturnsClone(t *testing.T) {
	m := NewManager(memory.NewStore())
	identity := dialog.Identity{UserID: 5, ChatID: 5}

	sess := dialog.NewSession(identity, "registration", "name_step", nil)
	require.NoError(t, m.Put(context.Background(), sess))

	first, err := m.Active(context.Background(), identity)
	require.NoError(t, err)
	first.Data["name"] = "mutated"

	second, err := m.Active(context.Background(), identity)
	require.NoError(t, err)
	assert.NotContains(t, second.Data, "name", "mutating a returned session must not leak into the cache")
}

func TestManager_Active_TerminalIsNotActive(t *testing.T) {
	store := memory.NewStore()
	m := NewManager(store)
	identity := dialog.Identity{UserID: 6, ChatID: 6}

	sess := dialog.NewSession(identity, "registration", "done", nil)
	sess.State = dialog.StateCancelled
	require.NoError(t, store.Save(context.Background(), sess))

	_, err := m.Active(context.Background(), identity)
	assert.ErrorIs(t, err, dialog.ErrNoActiveSession)
}

func TestManager_Delete(t *testing.T) {
	m := NewManager(memory.NewStore())
	identity := dialog.Identity{UserID: 8, ChatID: 8}

	sess := dialog.NewSession(identity, "registration", "name_step", nil)
	require.NoError(t, m.Put(context.Background(), sess))
	require.NoError(t, m.Delete(context.Background(), identity))

	_, err := m.Active(context.Background(), identity)
	assert.ErrorIs(t, err, dialog.ErrNoActiveSession)
}

func TestManager_SweepExpired(t *testing.T) {
	store := memory.NewStore()
	m := NewManager(store)

	old := dialog.NewSession(dialog.Identity{UserID: 1, ChatID: 1}, "registration", "name_step", nil)
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(context.Background(), old))

	fresh := dialog.NewSession(dialog.Identity{UserID: 2, ChatID: 2}, "registration", "name_step", nil)
	require.NoError(t, m.Put(context.Background(), fresh))

	n, err := m.SweepExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Active(context.Background(), dialog.Identity{UserID: 2, ChatID: 2})
	assert.NoError(t, err, "fresh session must survive the sweep")
}

type recordingLocker struct {
	mu       sync.Mutex
	locked   []string
	unlocked int
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	l.locked = append(l.locked, key)
	l.mu.Unlock()
	return func(context.Context) error {
		l.mu.Lock()
		l.unlocked++
		l.mu.Unlock()
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &recordingLocker{}
	m := NewManager(memory.NewStore(), WithLocker(locker))
	identity := dialog.Identity{UserID: 9, ChatID: 10}

	err := m.WithLock(context.Background(), identity, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"9:10"}, locker.locked)
	assert.Equal(t, 1, locker.unlocked)
}
