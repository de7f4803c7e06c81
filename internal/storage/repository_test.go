package storage

import (
	"charsync/internal/codec"
	"charsync/internal/models"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type repoFactory func(t *testing.T) CharacterRepository

func newMemoryRepo(t *testing.T) CharacterRepository {
	return NewMemoryStore()
}

func newSQLiteRepo(t *testing.T) CharacterRepository {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "charsync.db"))
	require.NoError(t, err)
	zstd, err := codec.NewZstdCompressor()
	require.NoError(t, err)
	store, err := NewSQLiteStore(db, zstd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var repositories = map[string]repoFactory{
	"memory": newMemoryRepo,
	"sqlite": newSQLiteRepo,
}

func forEachRepository(t *testing.T, fn func(t *testing.T, repo CharacterRepository)) {
	for name, factory := range repositories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func signalled(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

func newCharacter(name string) *models.Aggregate {
	return &models.Aggregate{
		Character: models.Character{Name: name, MaxLe: 30, CurrentLe: 30},
		Journal:   []models.JournalEntry{{Timestamp: 1, Category: models.CategoryNote, PlayerMessage: "created"}},
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		created, err := repo.Create(ctx, newCharacter("Alrik"))
		require.NoError(t, err)
		assert.Positive(t, created.Character.ID)
		assert.NotEmpty(t, created.Character.GUID)
		assert.Positive(t, created.Character.LastModifiedDate)

		byID, err := repo.GetByID(ctx, created.Character.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alrik", byID.Character.Name)
		assert.Len(t, byID.Journal, 1)

		byGUID, err := repo.GetByGUID(ctx, created.Character.GUID)
		require.NoError(t, err)
		assert.Equal(t, created.Character.ID, byGUID.Character.ID)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestRepository_NotFound(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		_, err := repo.GetByID(ctx, 99)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = repo.GetByGUID(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = repo.Update(ctx, 99, func(*models.Aggregate) error { return nil })
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestRepository_DuplicateGUIDRejected(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		agg := newCharacter("Alrik")
		agg.Character.GUID = "dup"
		_, err := repo.Create(ctx, agg)
		require.NoError(t, err)
		_, err = repo.Create(ctx, agg)
		assert.Error(t, err)
	})
}

func TestRepository_UpdateTouchesAndNotifies(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		created, err := repo.Create(ctx, newCharacter("Alrik"))
		require.NoError(t, err)

		changes, unsubscribe := repo.Subscribe(created.Character.ID)
		defer unsubscribe()

		updated, err := repo.Update(ctx, created.Character.ID, func(agg *models.Aggregate) error {
			agg.Character.CurrentLe = 12
			agg.Character.GUID = "tampered"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 12, updated.Character.CurrentLe)
		assert.Equal(t, created.Character.GUID, updated.Character.GUID)
		assert.Greater(t, updated.Character.LastModifiedDate, created.Character.LastModifiedDate)
		assert.True(t, signalled(changes))

		stored, err := repo.GetByID(ctx, created.Character.ID)
		require.NoError(t, err)
		assert.Equal(t, 12, stored.Character.CurrentLe)
	})
}

func TestRepository_UpdateMutateErrorAborts(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		created, err := repo.Create(ctx, newCharacter("Alrik"))
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = repo.Update(ctx, created.Character.ID, func(agg *models.Aggregate) error {
			agg.Character.Name = "changed"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := repo.GetByID(ctx, created.Character.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alrik", stored.Character.Name)
	})
}

func TestRepository_TransactUnchangedWritesNothing(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		created, err := repo.Create(ctx, newCharacter("Alrik"))
		require.NoError(t, err)

		changes, unsubscribe := repo.Subscribe(created.Character.ID)
		defer unsubscribe()

		got, err := repo.Transact(ctx, created.Character.GUID, func(local *models.Aggregate) (*models.Aggregate, bool, error) {
			require.NotNil(t, local)
			local.Character.Name = "ignored"
			return local, false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, created.Character.ID, got.Character.ID)
		assert.False(t, signalled(changes))

		stored, err := repo.GetByID(ctx, created.Character.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alrik", stored.Character.Name)
	})
}

func TestRepository_TransactChangedPersistsAndNotifies(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		created, err := repo.Create(ctx, newCharacter("Alrik"))
		require.NoError(t, err)

		changes, unsubscribe := repo.Subscribe(created.Character.ID)
		defer unsubscribe()

		got, err := repo.Transact(ctx, created.Character.GUID, func(local *models.Aggregate) (*models.Aggregate, bool, error) {
			next := local.Clone()
			next.Character.ID = 0
			next.Character.LastModifiedDate = 42
			next.Journal = append(next.Journal, models.JournalEntry{Timestamp: 2, Category: models.CategoryNote, PlayerMessage: "merged"})
			return next, true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, created.Character.ID, got.Character.ID)
		assert.True(t, signalled(changes))

		stored, err := repo.GetByID(ctx, created.Character.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Journal, 2)
		assert.Equal(t, int64(42), stored.Character.LastModifiedDate, "merge writes keep the merged timestamp")
	})
}

func TestRepository_TransactCreatesUnknownGUID(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		got, err := repo.Transact(ctx, "new-guid", func(local *models.Aggregate) (*models.Aggregate, bool, error) {
			assert.Nil(t, local)
			return &models.Aggregate{Character: models.Character{GUID: "new-guid", Name: "Imported"}}, true, nil
		})
		require.NoError(t, err)
		assert.Positive(t, got.Character.ID)

		stored, err := repo.GetByGUID(ctx, "new-guid")
		require.NoError(t, err)
		assert.Equal(t, "Imported", stored.Character.Name)
	})
}

func TestRepository_TransactErrors(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CharacterRepository) {
		ctx := context.Background()
		_, err := repo.Transact(ctx, "g", func(*models.Aggregate) (*models.Aggregate, bool, error) {
			return nil, false, models.ErrUnknownCharacter
		})
		assert.ErrorIs(t, err, models.ErrUnknownCharacter)

		_, err = repo.Transact(ctx, "g", func(*models.Aggregate) (*models.Aggregate, bool, error) {
			return &models.Aggregate{Character: models.Character{GUID: "other"}}, true, nil
		})
		assert.Error(t, err)

		_, err = repo.GetByGUID(ctx, "other")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	created, err := store.Create(ctx, newCharacter("Alrik"))
	require.NoError(t, err)

	created.Character.Name = "mutated"
	created.Journal[0].PlayerMessage = "mutated"

	stored, err := store.GetByID(ctx, created.Character.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alrik", stored.Character.Name)
	assert.Equal(t, "created", stored.Journal[0].PlayerMessage)
}

func TestMemoryStore_LoadKeepsIDs(t *testing.T) {
	store := NewMemoryStore()
	store.Load([]*models.Aggregate{
		{Character: models.Character{ID: 5, GUID: "a"}},
		{Character: models.Character{ID: 9, GUID: "b"}},
		{Character: models.Character{ID: 0, GUID: "skipped"}},
		nil,
	})

	all := store.Dump()
	require.Len(t, all, 2)

	created, err := store.Create(context.Background(), newCharacter("Next"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), created.Character.ID)
}

func TestTouch_IsStrictlyIncreasing(t *testing.T) {
	c := &models.Character{LastModifiedDate: 5_000}
	touch(c, time.UnixMilli(1_000))
	assert.Equal(t, int64(5_001), c.LastModifiedDate)

	touch(c, time.UnixMilli(9_000))
	assert.Equal(t, int64(9_000), c.LastModifiedDate)
}
