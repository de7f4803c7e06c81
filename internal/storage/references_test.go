package storage

import (
	"charsync/internal/codec"
	"charsync/internal/structures"
	"charsync/internal/testutil"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticReferenceTables_Lookup(t *testing.T) {
	refs := NewStaticReferenceTables([]string{"Balsam Salabunde", "Odem Arcanum", "balsam salabunde"}, []string{"Heiltrank"})

	id, ok := refs.SpellIDByName("  BALSAM salabunde ")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = refs.SpellIDByName("Odem Arcanum")
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	_, ok = refs.SpellIDByName("Unbekannt")
	assert.False(t, ok)

	id, ok = refs.RecipeIDByName("heiltrank")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	assert.Equal(t, int64(2), refs.AddRecipe("Zaubertrank"))
	assert.Equal(t, int64(0), refs.AddRecipe("   "))
}

func TestSQLiteStore_ReferenceTables(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "refs.db"))
	require.NoError(t, err)
	store, err := NewSQLiteStore(db, &testutil.MockCompressor{})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SeedReferences(ctx, []string{"Odem Arcanum"}, []string{"Heiltrank", "Schlaftrunk"}))
	require.NoError(t, store.SeedReferences(ctx, []string{"odem arcanum"}, nil))

	id, ok := store.SpellIDByName("ODEM ARCANUM")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = store.RecipeIDByName("Schlaftrunk")
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	_, ok = store.RecipeIDByName("Unbekannt")
	assert.False(t, ok)
}

func TestNewBackend_Drivers(t *testing.T) {
	zstd, err := codec.NewZstdCompressor()
	require.NoError(t, err)
	logger := &testutil.MockLogger{}

	t.Run("memory", func(t *testing.T) {
		conf := &structures.Config{
			Storage:    structures.StorageConfig{Driver: "memory", FilePath: filepath.Join(t.TempDir(), "c.zst")},
			References: structures.ReferencesConfig{Spells: []string{"Odem Arcanum"}},
		}
		b, err := NewBackend(conf, logger, testutil.NewMockMetrics(), zstd)
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, ProvideRepository(b))
		assert.IsType(t, &Scheduler{}, ProvideScheduler(b))
		_, ok := ProvideReferences(b).SpellIDByName("odem arcanum")
		assert.True(t, ok)
	})

	t.Run("sqlite", func(t *testing.T) {
		conf := &structures.Config{
			Storage:    structures.StorageConfig{Driver: "sqlite", FilePath: filepath.Join(t.TempDir(), "c.db")},
			References: structures.ReferencesConfig{Recipes: []string{"Heiltrank"}},
		}
		b, err := NewBackend(conf, logger, testutil.NewMockMetrics(), zstd)
		require.NoError(t, err)
		defer b.Repository.Close()
		assert.IsType(t, &SQLiteStore{}, ProvideRepository(b))
		assert.IsType(t, &noopScheduler{}, ProvideScheduler(b))
		_, ok := ProvideReferences(b).RecipeIDByName("Heiltrank")
		assert.True(t, ok)
	})

	t.Run("unknown", func(t *testing.T) {
		conf := &structures.Config{Storage: structures.StorageConfig{Driver: "etcd"}}
		_, err := NewBackend(conf, logger, testutil.NewMockMetrics(), zstd)
		assert.Error(t, err)
	})
}
