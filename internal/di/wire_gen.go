//go:build !wireinject
// +build !wireinject

// Injector kept by hand in step with wire.go. Regenerating with
// `go run github.com/google/wire/cmd/wire` replaces this file.

package di

import (
	"FinTreasury/pkg/config"
	"FinTreasury/pkg/server"
)

// Injectors from wire.go:

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	client, err := ProvideRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	clickhouseClient, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	ledgerStore, err := ProvideLedgerStore(cfg, client, logger)
	if err != nil {
		return nil, err
	}
	journal, err := ProvideJournal(cfg, clickhouseClient, logger)
	if err != nil {
		return nil, err
	}
	producer, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	digest := ProvideErrorDigest(cfg, logger, producer)
	instructionPublisher := ProvideInstructionPublisher(cfg, producer, logger)
	locker := ProvideLocker(cfg, client)
	service := ProvideInfoCache(cfg, client)
	gateway := ProvideGateway(cfg, service)
	metrics := ProvideMetrics()
	dispatcher := ProvideDispatcher(cfg, ledgerStore, instructionPublisher, journal, locker, metrics, logger)
	treasuryManager := ProvideTreasuryManager(cfg, ledgerStore, gateway, locker, dispatcher, metrics, logger)
	depositPipeline := ProvideDepositPipeline(cfg, treasuryManager, locker, metrics)
	depositCollector := ProvideDepositCollector(cfg, depositPipeline, treasuryManager, metrics, logger)
	depositConsumer, err := ProvideDepositConsumer(cfg, depositPipeline, logger)
	if err != nil {
		return nil, err
	}
	redisQueue := ProvideRebalanceQueue(cfg, client, treasuryManager, logger)
	handler := ProvideHTTPHandler(cfg, treasuryManager, journal, redisQueue, logger)
	app := ProvideApp(cfg, logger, client, clickhouseClient, ledgerStore, journal, instructionPublisher, locker, service, treasuryManager, dispatcher, depositPipeline, depositCollector, depositConsumer, redisQueue, digest, handler)
	return app, nil
}
