package storage

import (
	"charsync/internal/codec/interfaces"
	"charsync/internal/providers"
	"charsync/internal/structures"
	"context"
	"fmt"
)

// Backend bundles the parts selected by storage.driver.
type Backend struct {
	Repository CharacterRepository
	Scheduler  SchedulerInterface
	References ReferenceTables
}

func NewBackend(conf *structures.Config, logger providers.Logger, metrics providers.MetricsProviderInterface, compressor interfaces.CompressorInterface) (*Backend, error) {
	switch conf.Storage.Driver {
	case "sqlite":
		db, err := OpenSQLite(conf.Storage.FilePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", conf.Storage.FilePath, err)
		}
		store, err := NewSQLiteStore(db, compressor)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := store.SeedReferences(context.Background(), conf.References.Spells, conf.References.Recipes); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed reference tables: %w", err)
		}
		logger.Infof(providers.TypeApp, "Using sqlite store at %s", conf.Storage.FilePath)
		return &Backend{Repository: store, Scheduler: &noopScheduler{}, References: store}, nil

	case "memory", "":
		store := NewMemoryStore()
		fm := NewFileManager(compressor, store, logger)
		logger.Infof(providers.TypeApp, "Using memory store persisted to %s", conf.Storage.FilePath)
		return &Backend{
			Repository: store,
			Scheduler:  NewScheduler(conf, logger, fm, metrics),
			References: NewStaticReferenceTables(conf.References.Spells, conf.References.Recipes),
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", conf.Storage.Driver)
}

func ProvideRepository(b *Backend) CharacterRepository {
	return b.Repository
}

func ProvideScheduler(b *Backend) SchedulerInterface {
	return b.Scheduler
}

func ProvideReferences(b *Backend) ReferenceTables {
	return b.References
}
