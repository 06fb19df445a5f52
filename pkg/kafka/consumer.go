package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "FinTreasury/pkg/logger"
)

// MessageHandler handles the messages of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// permanentError marks a handler failure that a retry cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the consumer skips retries and dead-letters the
// message right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	FromLatest  bool // start at the newest offset when the group has none
	Workers     int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	Logger      *applogger.Logger
	FetchWindow time.Duration
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

// WithConsumerWorkers sets how many partitions are handled concurrently.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithConsumerBufferSize sets how many fetched messages each worker may queue.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerRetry sets how often a failing message is retried and the
// backoff range between attempts.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		if backoffMin > 0 {
			c.BackoffMin = backoffMin
		}
		if backoffMax > 0 {
			c.BackoffMax = backoffMax
		}
	}
}

// WithConsumerDLQ dead-letters failed messages to topic. Without one they are
// logged and committed.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if minBytes > 0 {
			c.MinBytes = minBytes
		}
		if maxBytes > 0 {
			c.MaxBytes = maxBytes
		}
	}
}

func WithConsumerFromLatest(latest bool) ConsumerOption {
	return func(c *ConsumerConfig) { c.FromLatest = latest }
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

// Consumer reads one topic in a consumer group. Each partition is pinned to a
// worker, so messages of a partition are handled and committed in order.
type Consumer struct {
	cfg     ConsumerConfig
	log     *applogger.Logger
	handler MessageHandler
	hook    ConsumerHook
	reader  *kafka.Reader
	dlq     *kafka.Writer

	shards   []chan kafka.Message
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	cfg := ConsumerConfig{
		GroupID:     "fintreasury",
		Workers:     1,
		BufferSize:  10,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    10e3,
		MaxBytes:    10e6,
		FetchWindow: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if handler == nil || handler.Topic() == "" {
		return nil, errors.New("a handler with a topic is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}

	c := &Consumer{
		cfg:     cfg,
		log:     cfg.Logger.With(applogger.String("topic", handler.Topic())),
		handler: handler,
		hook:    NoopHook{},
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}, RequiredAcks: kafka.RequireAll}
	}
	initConsumerMetrics()
	return c, nil
}

func (c *Consumer) Topic() string { return c.handler.Topic() }

// WithConsumerHook installs lifecycle hooks. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start begins fetching in the background.
func (c *Consumer) Start() error {
	if c.reader != nil {
		return errors.New("consumer already started")
	}
	start := kafka.FirstOffset
	if c.cfg.FromLatest {
		start = kafka.LastOffset
	}
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		Topic:       c.Topic(),
		GroupID:     c.cfg.GroupID,
		MinBytes:    c.cfg.MinBytes,
		MaxBytes:    c.cfg.MaxBytes,
		StartOffset: start,
	})
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.shards = make([]chan kafka.Message, c.cfg.Workers)
	for i := range c.shards {
		c.shards[i] = make(chan kafka.Message, c.cfg.BufferSize)
		c.wg.Add(1)
		go c.work(c.shards[i])
	}
	c.wg.Add(1)
	go c.fetch()

	c.log.Info("kafka consumer started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("workers", c.cfg.Workers),
	)
	return nil
}

// Stop stops fetching and waits for in-flight messages. Queued messages stay
// uncommitted and are redelivered to the group.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.reader == nil {
			return
		}
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for kafka consumer: %w", ctx.Err())
		}

		if cerr := c.reader.Close(); cerr != nil {
			c.log.Warn("kafka consumer: close reader", applogger.Error(cerr))
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close dlq writer", applogger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) fetch() {
	defer c.wg.Done()
	defer func() {
		for _, s := range c.shards {
			close(s)
		}
	}()

	for {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchWindow)
		km, err := c.reader.FetchMessage(ctx)
		cancel()
		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				c.log.Warn("kafka consumer: fetch", applogger.Error(err))
			}
			continue
		}

		shard := c.shards[km.Partition%len(c.shards)]
		select {
		case shard <- km:
			consumerQueueDepth.WithLabelValues(c.Topic()).Set(float64(len(shard)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(msgs <-chan kafka.Message) {
	defer c.wg.Done()
	for km := range msgs {
		if c.ctx.Err() != nil {
			continue
		}
		start := time.Now()
		c.process(km)
		consumerHandleLatency.WithLabelValues(c.Topic()).Observe(time.Since(start).Seconds())
	}
}

var errStopping = errors.New("consumer stopping")

func (c *Consumer) process(km kafka.Message) {
	attempts, err := c.handleWithRetry(km)
	if errors.Is(err, errStopping) {
		return
	}
	if err != nil {
		consumerFailuresTotal.WithLabelValues(c.Topic()).Inc()
		c.log.Error("kafka consumer: message failed",
			applogger.Int("attempts", attempts),
			applogger.Int("partition", km.Partition),
			applogger.Int64("offset", km.Offset),
			applogger.Bool("permanent", IsPermanent(err)),
			applogger.Error(err),
		)
		if !c.deadLetter(km, err) {
			return
		}
	}
	c.commit(km)
}

func (c *Consumer) handleWithRetry(km kafka.Message) (int, error) {
	attempts := 0
	for {
		attempts++
		err := c.handleOnce(km)
		if err == nil || IsPermanent(err) || attempts > c.cfg.RetryMax {
			return attempts, err
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.ctx.Done():
			c.log.Debug("kafka consumer: retry abandoned", applogger.Error(err))
			return attempts, errStopping
		}
	}
}

func (c *Consumer) handleOnce(km kafka.Message) (err error) {
	topic := c.Topic()
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()

	ctx, hkm, data, err := c.hook.BeforeHandle(c.ctx, topic, km, km.Value)
	if err != nil {
		c.hook.OnError(ctx, topic, hkm, data, err)
		return Permanent(err)
	}
	err = c.handler.Handle(ctx, data)
	c.hook.AfterHandle(ctx, topic, hkm, data, err)
	if err != nil {
		c.hook.OnError(ctx, topic, hkm, data, err)
	}
	return err
}

// deadLetter reports whether the message may be committed.
func (c *Consumer) deadLetter(km kafka.Message, cause error) bool {
	if c.dlq == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   km.Key,
		Value: km.Value,
		Time:  time.Now().UTC(),
		Headers: append(km.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(km.Topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
	if err != nil {
		c.log.Error("kafka consumer: dlq write", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(km kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = c.reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka consumer: commit failed", applogger.Int64("offset", km.Offset), applogger.Error(err))
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	// up to 50% jitter
	return exp - time.Duration(rand.Int63n(int64(exp)/2+1))
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerFailuresTotal *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          sync.Once
)

func initConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fintreasury_kafka_consumer_queue_depth",
			Help: "Fetched messages waiting for a worker",
		}, []string{"topic"})
		consumerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fintreasury_kafka_consumer_failures_total",
			Help: "Messages that failed permanently or exhausted retries",
		}, []string{"topic"})
		consumerHandleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "fintreasury_kafka_consumer_handle_seconds",
			Help: "Handling time per message including retries",
		}, []string{"topic"})
	})
}
