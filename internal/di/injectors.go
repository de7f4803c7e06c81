//go:build wireinject
// +build wireinject

package di

import (
	"charsync/internal"
	"charsync/internal/codec"
	"charsync/internal/controllers"
	"charsync/internal/providers"
	"charsync/internal/services"
	"charsync/internal/storage"
	"charsync/internal/structures"
	"charsync/internal/transport"

	wire "github.com/google/wire"
)

func InitApp(cfg *structures.CliFlags) (*internal.App, func(), error) {

	wire.Build(
		providers.NewConfigProvider,
		providers.NewLogProvider,
		providers.NewMetricsProvider,
		providers.NewInstrumentedCacheProvider,

		codec.NewZstdCompressor,
		codec.NewGzipCompressor,
		codec.NewSnapshotCodec,
		storage.NewBackend,
		storage.ProvideRepository,
		storage.ProvideScheduler,
		storage.ProvideReferences,
		transport.NewFactory,
		services.NewMergeEngine,
		services.NewSessionRegistry,
		services.NewCharacterService,
		controllers.NewApiController,
		controllers.NewHealthController,
		internal.InitRoutes,
		internal.NewApp,
	)

	return nil, nil, nil
}
