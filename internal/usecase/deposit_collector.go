package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	mid "FinTreasury/internal/middleware"
	pkgkafka "FinTreasury/pkg/kafka"
	applogger "FinTreasury/pkg/logger"
)

// DepositProcessor adapts the manager to the deposit pipeline.
type DepositProcessor struct {
	manager *TreasuryManager
}

func NewDepositProcessor(m *TreasuryManager) *DepositProcessor {
	return &DepositProcessor{manager: m}
}

func (p *DepositProcessor) Process(ctx context.Context, n *models.TransferNotification) error {
	_, err := p.manager.ReceiveDeposit(ctx, *n)
	return err
}

var _ mid.Proc = (*DepositProcessor)(nil)

// IsRejection reports whether err is a business rejection rather than an
// infrastructure failure or a busy asset. Rejections are not worth retrying.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	switch errorKind(err) {
	case "internal", "busy", "not_initialized":
		return false
	}
	return true
}

// DepositCollector feeds transfer notifications from the chain stream into
// the deposit pipeline.
type DepositCollector struct {
	stream  drepo.TransferStream
	pipe    *mid.DepositPipeline
	manager *TreasuryManager
	metrics drepo.Metrics
	log     *applogger.Logger
}

// NewDepositCollector creates a new DepositCollector instance.
func NewDepositCollector(stream drepo.TransferStream, pipe *mid.DepositPipeline, manager *TreasuryManager, metrics drepo.Metrics, log *applogger.Logger) *DepositCollector {
	if log == nil {
		log = applogger.Nop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &DepositCollector{stream: stream, pipe: pipe, manager: manager, metrics: metrics, log: log}
}

// IsConnected returns true if the transfer stream is connected.
func (c *DepositCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start subscribes to every registered asset and begins consuming.
func (c *DepositCollector) Start(ctx context.Context) error {
	assets, err := c.manager.Assets(ctx)
	if err != nil && !errors.Is(err, models.ErrNotInitialized) {
		return fmt.Errorf("load assets: %w", err)
	}
	tokens := make([]string, 0, len(assets))
	for _, a := range assets {
		tokens = append(tokens, a.Contract.Address)
	}

	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx, tokens); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	nCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, nCh, errCh)
	return nil
}

func (c *DepositCollector) consume(ctx context.Context, nCh <-chan *models.TransferNotification, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				c.log.Warn("transfer stream error", applogger.Error(err))
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.log.Error("transfer stream reconnect failed", applogger.Error(rerr))
				}
			}
		case n := <-nCh:
			if n == nil {
				continue
			}
			if err := c.pipe.Process(ctx, n); err != nil && !errors.Is(err, mid.ErrBuffered) {
				c.log.Warn("deposit rejected",
					applogger.String("tx_hash", n.TxHash),
					applogger.String("token", n.Token),
					applogger.String("from", n.From),
					applogger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *DepositCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}

// DepositHandler consumes transfer notifications published to Kafka.
type DepositHandler struct {
	topic string
	pipe  *mid.DepositPipeline
	log   *applogger.Logger
}

func NewDepositHandler(topic string, pipe *mid.DepositPipeline, log *applogger.Logger) *DepositHandler {
	if log == nil {
		log = applogger.Nop()
	}
	return &DepositHandler{topic: topic, pipe: pipe, log: log}
}

func (h *DepositHandler) Topic() string { return h.topic }

// Handle returns an error only for deposits that should land in the DLQ.
// Transient ledger failures are retried by the pipeline instead. Malformed
// notifications and rejected deposits are dead-lettered without retries.
func (h *DepositHandler) Handle(ctx context.Context, data []byte) error {
	var n models.TransferNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("decode transfer notification: %w", err))
	}
	err := h.pipe.Process(ctx, &n)
	if errors.Is(err, mid.ErrBuffered) {
		h.log.Warn("deposit buffered",
			applogger.String("trace_id", pkgkafka.TraceIDFrom(ctx)),
			applogger.String("tx_hash", n.TxHash),
			applogger.Error(err),
		)
		return nil
	}
	if errors.Is(err, mid.ErrInvalidNotification) || IsRejection(err) {
		return pkgkafka.Permanent(fmt.Errorf("deposit %s rejected: %w", n.TxHash, err))
	}
	if err != nil {
		return fmt.Errorf("process deposit %s: %w", n.TxHash, err)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*DepositHandler)(nil)
