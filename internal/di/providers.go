package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"FinTreasury/internal/domain/models"
	"FinTreasury/internal/domain/repository"
	"FinTreasury/internal/handler/api"
	mid "FinTreasury/internal/middleware"
	internalrepo "FinTreasury/internal/repository"
	"FinTreasury/internal/service/chain"
	apimetrics "FinTreasury/internal/service/metrics"
	"FinTreasury/internal/service/ratelimit"
	"FinTreasury/internal/usecase"
	pkgcache "FinTreasury/pkg/cache"
	pkgch "FinTreasury/pkg/clickhouse"
	"FinTreasury/pkg/config"
	pkghttp "FinTreasury/pkg/http"
	pkgkafka "FinTreasury/pkg/kafka"
	applogger "FinTreasury/pkg/logger"
	"FinTreasury/pkg/metrics"
	"FinTreasury/pkg/queue"
	"FinTreasury/pkg/server"
)

// ProvideLogger creates the structured logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideErrorDigest ships aggregated error logs to Kafka when a digest topic
// is configured.
func ProvideErrorDigest(cfg *config.Config, log *applogger.Logger, producer *pkgkafka.Producer) *applogger.Digest {
	if producer == nil || cfg.Log.Digest.Topic == "" {
		return nil
	}
	d := applogger.NewDigest(applogger.DigestConfig{
		Interval:   cfg.Log.Digest.Interval,
		MaxEntries: cfg.Log.Digest.MaxEntries,
		Topic:      cfg.Log.Digest.Topic,
		Publisher:  producer,
	})
	log.AttachDigest(d)
	return d
}

// ProvideMetrics creates the Prometheus recorder for treasury operations.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisClient connects to Redis when the ledger store or the job queue
// needs it; otherwise it returns nil.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Store.Type != "redis" && !cfg.Queue.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ProvideLedgerStore selects the ledger backend.
func ProvideLedgerStore(cfg *config.Config, rc *redis.Client, log *applogger.Logger) (repository.LedgerStore, error) {
	switch cfg.Store.Type {
	case "memory":
		return internalrepo.NewMemoryLedgerStore(), nil
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("redis store: no redis client")
		}
		s := internalrepo.NewRedisLedgerStore(rc, internalrepo.WithKeyPrefix(cfg.Store.Redis.Prefix))
		s.SetLogger(log)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

// ProvideLocker returns a Redis lock when Redis is available so replicas
// share per-asset locks; an in-process lock otherwise.
func ProvideLocker(cfg *config.Config, rc *redis.Client) repository.Locker {
	if rc != nil {
		return pkgcache.NewRedisCache(rc, cfg.Store.Redis.Prefix+":lock")
	}
	return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(10_000))
}

// ProvideInfoCache caches token metadata read from the chain gateway.
func ProvideInfoCache(cfg *config.Config, rc *redis.Client) pkgcache.Service {
	if rc != nil {
		return pkgcache.NewLayeredCache(
			pkgcache.NewRedisCache(rc, cfg.Store.Redis.Prefix+":cache"),
			pkgcache.WithLayeredMemoryTTL(time.Minute),
		)
	}
	return pkgcache.NewMemoryCache()
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is not configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.KafkaEnabled() {
		return nil, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, p.MaxAttempts),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideInstructionPublisher publishes batches to Kafka, or only logs them
// when no broker is configured.
func ProvideInstructionPublisher(cfg *config.Config, producer *pkgkafka.Producer, log *applogger.Logger) repository.InstructionPublisher {
	if producer != nil {
		return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.InstructionsTopic)
	}
	return internalrepo.NewLogPublisher(func(b *models.InstructionBatch) {
		log.Info("instruction batch",
			applogger.String("id", b.ID),
			applogger.String("command", b.Command),
			applogger.String("asset", b.Asset),
			applogger.Int("instructions", len(b.Instructions)),
			applogger.Int("events", len(b.Events)),
		)
	})
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the journal
// is kept in memory.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideJournal creates the audit journal and its schema.
func ProvideJournal(cfg *config.Config, ch *pkgch.Client, log *applogger.Logger) (repository.Journal, error) {
	var j repository.Journal
	if ch != nil {
		cj := internalrepo.NewCHJournal(ch, cfg.ClickHouse.Table)
		cj.SetLogger(log)
		j = cj
	} else {
		j = internalrepo.NewMemoryJournal(10_000)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.Init(ctx); err != nil {
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return j, nil
}

// ProvideGateway creates the chain gateway client.
func ProvideGateway(cfg *config.Config, infoCache pkgcache.Service) *chain.Gateway {
	return chain.NewGateway(
		cfg.Chain.GatewayURL,
		cfg.Manager.ViewingKey,
		pkghttp.NewClient(
			pkghttp.WithTimeout(cfg.Chain.Timeout),
			pkghttp.WithRetries(cfg.Chain.Retries, cfg.Chain.RetryBackoff),
		),
		chain.WithInfoCache(infoCache, cfg.Chain.InfoCacheTTL),
	)
}

// ProvideDispatcher creates the outbox dispatcher.
func ProvideDispatcher(
	cfg *config.Config,
	store repository.LedgerStore,
	pub repository.InstructionPublisher,
	journal repository.Journal,
	locker repository.Locker,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Dispatcher {
	return usecase.NewDispatcher(store, pub, m,
		usecase.WithJournal(journal),
		usecase.WithDispatchLocker(locker),
		usecase.WithDispatchLogger(log),
		usecase.WithBatchSize(cfg.Manager.OutboxBatch),
	)
}

// ProvideTreasuryManager creates the treasury manager.
func ProvideTreasuryManager(
	cfg *config.Config,
	store repository.LedgerStore,
	gw *chain.Gateway,
	locker repository.Locker,
	dispatcher *usecase.Dispatcher,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.TreasuryManager {
	return usecase.NewTreasuryManager(
		cfg.Manager.Address,
		store,
		gw,
		gw,
		gw.Adapters(),
		m,
		usecase.WithLocker(locker, cfg.Manager.LockTTL),
		usecase.WithDispatcher(dispatcher),
		usecase.WithLogger(log),
		usecase.WithIdentity(cfg.Manager.CodeHash, cfg.Manager.ViewingKey),
	)
}

// ProvideDepositPipeline creates the deposit pipeline shared by every transfer source.
func ProvideDepositPipeline(cfg *config.Config, manager *usecase.TreasuryManager, locker repository.Locker, m repository.Metrics) *mid.DepositPipeline {
	return mid.NewDepositPipeline(usecase.NewDepositProcessor(manager), m,
		mid.WithDedupe(locker, cfg.Pipeline.DedupeTTL),
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithPermanentErrors(usecase.IsRejection),
	)
}

// ProvideDepositCollector streams transfers from the chain websocket, or
// returns nil when no websocket is configured.
func ProvideDepositCollector(
	cfg *config.Config,
	pipe *mid.DepositPipeline,
	manager *usecase.TreasuryManager,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.DepositCollector {
	if cfg.Chain.WebSocketURL == "" {
		return nil
	}
	stream := chain.NewStream(
		cfg.Chain.WebSocketURL,
		cfg.Manager.Address,
		cfg.Manager.ViewingKey,
		cfg.Chain.ReconnectDelay,
		cfg.Chain.PingInterval,
		log,
	)
	return usecase.NewDepositCollector(stream, pipe, manager, m, log)
}

// transfer notifications are a few hundred bytes
const maxNotificationBytes = 64 << 10

// ProvideDepositConsumer consumes transfer notifications from Kafka when a
// deposits topic is configured.
func ProvideDepositConsumer(cfg *config.Config, pipe *mid.DepositPipeline, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.DepositsTopic == "" {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		usecase.NewDepositHandler(cfg.Kafka.DepositsTopic, pipe, log),
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.MaxBytesHook(maxNotificationBytes)))
	return consumer, nil
}

// ProvideRebalanceQueue runs deferred rebalances on the Redis job queue, or
// returns nil when the queue is disabled.
func ProvideRebalanceQueue(cfg *config.Config, rc *redis.Client, manager *usecase.TreasuryManager, log *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(log, queue.Config{
		Workers:       cfg.Queue.Workers,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    cfg.Queue.RetryDelay,
		MaxRetryDelay: cfg.Queue.MaxRetryDelay,
	}, rc, queue.WithKeyPrefix(cfg.Queue.Prefix))
	q.RegisterJob(usecase.NewRebalanceJob(manager, log))
	return q
}

// ProvideHTTPHandler creates the REST handler.
func ProvideHTTPHandler(
	cfg *config.Config,
	manager *usecase.TreasuryManager,
	journal repository.Journal,
	q *queue.RedisQueue,
	log *applogger.Logger,
) pkghttp.Handler {
	apimetrics.Register()
	opts := []api.HandlerOption{
		api.WithAuditLog(usecase.NewAuditLog(journal)),
		api.WithRateLimit(ratelimit.New(), api.RateLimit{
			Burst:     cfg.Server.RateLimit.Burst,
			PerSecond: cfg.Server.RateLimit.PerSecond,
		}),
	}
	if q != nil {
		opts = append(opts, api.WithScheduler(usecase.NewRebalanceScheduler(q)))
	}
	return api.NewTreasuryEchoHandler(log, manager, opts...)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	rc *redis.Client,
	ch *pkgch.Client,
	store repository.LedgerStore,
	journal repository.Journal,
	pub repository.InstructionPublisher,
	locker repository.Locker,
	infoCache pkgcache.Service,
	manager *usecase.TreasuryManager,
	dispatcher *usecase.Dispatcher,
	pipe *mid.DepositPipeline,
	collector *usecase.DepositCollector,
	deposits *pkgkafka.Consumer,
	q *queue.RedisQueue,
	digest *applogger.Digest,
	handler pkghttp.Handler,
) *server.App {
	opts := []server.Option{server.WithPipeline(pipe)}
	if collector != nil {
		opts = append(opts, server.WithCollector(collector))
	}
	if deposits != nil {
		opts = append(opts, server.WithDepositConsumer(deposits))
	}
	if q != nil {
		opts = append(opts, server.WithQueue(q))
	}

	// publisher owns the producer; the Redis-backed caches own the shared client
	if digest != nil {
		opts = append(opts, server.WithCloser("log_digest", digest))
	}
	opts = append(opts,
		server.WithCloser("publisher", pub),
		server.WithCloser("journal", journal),
		server.WithCloser("store", store),
	)
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc))
	} else {
		if c, ok := locker.(io.Closer); ok {
			opts = append(opts, server.WithCloser("locker", c))
		}
		opts = append(opts, server.WithCloser("info_cache", infoCache))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch))
	}

	return server.New(cfg, log, manager, dispatcher, handler, opts...)
}
