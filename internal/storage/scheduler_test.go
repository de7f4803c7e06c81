package storage

import (
	"charsync/internal/structures"
	"charsync/internal/testutil"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schedulerConfig(path string, interval time.Duration) *structures.Config {
	return &structures.Config{
		Storage: structures.StorageConfig{
			Driver:       "memory",
			FilePath:     path,
			SaveInterval: interval,
		},
	}
}

func TestScheduler_PersistAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "characters.dat")
	metrics := testutil.NewMockMetrics()
	logger := &testutil.MockLogger{}

	src := NewMemoryStore()
	created, err := src.Create(context.Background(), newCharacter("Alrik"))
	require.NoError(t, err)

	s := NewScheduler(schedulerConfig(path, time.Minute), logger, NewFileManager(&testutil.MockCompressor{}, src, logger), metrics)
	require.NoError(t, s.Persist())
	assert.Equal(t, 1, metrics.PersistenceCalls)

	dst := NewMemoryStore()
	restored := NewScheduler(schedulerConfig(path, time.Minute), logger, NewFileManager(&testutil.MockCompressor{}, dst, logger), metrics)
	require.NoError(t, restored.Restore())

	got, err := dst.GetByGUID(context.Background(), created.Character.GUID)
	require.NoError(t, err)
	assert.Equal(t, "Alrik", got.Character.Name)
}

func TestScheduler_RestoreMissingFile(t *testing.T) {
	logger := &testutil.MockLogger{}
	s := NewScheduler(schedulerConfig("/nonexistent/characters.dat", 0), logger,
		NewFileManager(&testutil.MockCompressor{}, NewMemoryStore(), logger), testutil.NewMockMetrics())
	assert.NoError(t, s.Restore())
}

func TestScheduler_PersistErrorIsLogged(t *testing.T) {
	logger := &testutil.MockLogger{}
	s := NewScheduler(schedulerConfig("/nonexistent/dir/characters.dat", 0), logger,
		NewFileManager(&testutil.MockCompressor{}, NewMemoryStore(), logger), testutil.NewMockMetrics())

	assert.Error(t, s.Persist())
	assert.True(t, logger.Contains("error", "Error while persisting data"))
}

func TestScheduler_PeriodicSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "periodic.dat")
	logger := &testutil.MockLogger{}
	s := NewScheduler(schedulerConfig(path, time.Second), logger,
		NewFileManager(&testutil.MockCompressor{}, NewMemoryStore(), logger), testutil.NewMockMetrics())

	s.Init()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNoopScheduler(t *testing.T) {
	s := &noopScheduler{}
	s.Init()
	s.Stop()
	assert.NoError(t, s.Restore())
	assert.NoError(t, s.Persist())
}
