//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinTreasury/pkg/config"
	"FinTreasury/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideErrorDigest,

		// Infrastructure clients
		ProvideRedisClient,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideInfoCache,
		ProvideLocker,

		// Repositories
		ProvideLedgerStore,
		ProvideJournal,
		ProvideInstructionPublisher,
		ProvideGateway,

		// Use cases
		ProvideDispatcher,
		ProvideTreasuryManager,
		ProvideDepositPipeline,
		ProvideDepositCollector,
		ProvideDepositConsumer,
		ProvideRebalanceQueue,

		// Transport and application server
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
