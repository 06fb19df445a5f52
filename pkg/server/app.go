package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinTreasury/internal/domain/models"
	mid "FinTreasury/internal/middleware"
	"FinTreasury/internal/usecase"
	"FinTreasury/pkg/config"
	xhttp "FinTreasury/pkg/http"
	pkgkafka "FinTreasury/pkg/kafka"
	applogger "FinTreasury/pkg/logger"
	"FinTreasury/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	manager     *usecase.TreasuryManager
	dispatcher  *usecase.Dispatcher
	pipeline    *mid.DepositPipeline
	collector   *usecase.DepositCollector
	consumer    *pkgkafka.Consumer
	queue       *queue.RedisQueue
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	closers     []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Option attaches optional components.
type Option func(*App)

// WithPipeline retries deposits buffered while the ledger was unavailable.
func WithPipeline(p *mid.DepositPipeline) Option {
	return func(a *App) { a.pipeline = p }
}

// WithCollector streams deposits from the chain websocket.
func WithCollector(c *usecase.DepositCollector) Option {
	return func(a *App) { a.collector = c }
}

// WithDepositConsumer consumes deposits published to Kafka.
func WithDepositConsumer(consumer *pkgkafka.Consumer) Option {
	return func(a *App) { a.consumer = consumer }
}

// WithQueue runs deferred rebalances.
func WithQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.queue = q }
}

// WithCloser registers a resource closed on shutdown, in registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	manager *usecase.TreasuryManager,
	dispatcher *usecase.Dispatcher,
	handler xhttp.Handler,
	opts ...Option,
) *App {
	a := &App{
		cfg:         cfg,
		log:         log,
		manager:     manager,
		dispatcher:  dispatcher,
		httpHandler: handler,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	// Instantiate is idempotent; a restart with the same config is a no-op
	err := a.manager.Instantiate(ctx, models.Config{
		AdminAuth: models.Contract{Address: a.cfg.Manager.AdminAuth.Address, CodeHash: a.cfg.Manager.AdminAuth.CodeHash},
		Treasury:  a.cfg.Manager.Treasury,
	})
	if err != nil {
		return err
	}
	a.log.Info("treasury manager ready",
		applogger.String("manager", a.manager.Self()),
		applogger.String("treasury", a.cfg.Manager.Treasury),
	)

	// Drain anything committed before the last shutdown, then keep polling
	if n, err := a.dispatcher.Flush(ctx); err != nil {
		a.log.Warn("initial outbox flush failed", applogger.Error(err))
	} else if n > 0 {
		a.log.Info("outbox drained", applogger.Int("batches", n))
	}
	go a.dispatcher.Run(ctx, a.cfg.Manager.DispatchInterval)

	if a.pipeline != nil {
		a.pipeline.Start(ctx)
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
	}
	if every := a.cfg.Manager.RebalanceEvery; every > 0 {
		go a.rebalanceLoop(ctx, every)
	}

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.log.Error("deposit collector error", applogger.Error(err))
			}
		}()
		a.log.Info("deposit collector started", applogger.String("url", a.cfg.Chain.WebSocketURL))
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.log),
		xhttp.WithAllowOrigins(a.cfg.Server.AllowOrigins...),
	)
	return a.httpServer.Start()
}

// rebalanceLoop runs RebalanceAll on a fixed schedule as the treasury holder.
func (a *App) rebalanceLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := a.manager.RebalanceAll(ctx, a.cfg.Manager.Treasury)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("scheduled rebalance incomplete", applogger.Int("assets", len(results)), applogger.Error(err))
				continue
			}
			a.log.Debug("scheduled rebalance done", applogger.Int("assets", len(results)))
		}
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.pipeline != nil {
		if n := a.pipeline.Buffered(); n > 0 {
			a.log.Warn("dropping buffered deposits", applogger.Int("count", n))
		}
		a.pipeline.Stop()
	}

	if a.queue != nil {
		if st, err := a.queue.Stats(ctx); err == nil && st.Pending+st.Retrying+st.Dead > 0 {
			a.log.Info("rebalance queue left with work",
				applogger.Int64("pending", st.Pending),
				applogger.Int64("retrying", st.Retrying),
				applogger.Int64("dead", st.Dead),
			)
		}
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}

	// Last chance to hand committed batches to the executor
	if _, err := a.dispatcher.Flush(ctx); err != nil {
		a.log.Warn("final outbox flush failed", applogger.Error(err))
	}

	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", nc.name), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
