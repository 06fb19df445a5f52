package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"FinTreasury/pkg/logger"
)

// promoteScript moves due retries back to the work list atomically so that
// several replicas polling the same retry set never duplicate a message.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

const promoteBatch = 100

// Stats reports queue depth.
type Stats struct {
	Pending  int64 `json:"pending"`
	Retrying int64 `json:"retrying"`
	Dead     int64 `json:"dead"`
}

// RedisQueue keeps work in a Redis list, delayed retries in a sorted set
// scored by due time, and exhausted messages in a dead-letter list.
type RedisQueue struct {
	logger    *logger.Logger
	config    Config
	client    *redis.Client
	keyPrefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

var _ Publisher = (*RedisQueue)(nil)

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, cfg Config, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = 10 * cfg.RetryDelay
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = time.Hour
	}

	rq := &RedisQueue{
		logger:    lgr,
		config:    cfg,
		client:    client,
		keyPrefix: "fintreasury:queue",
		jobs:      make(map[string]Job),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob registers the handler for job.Type(). A second job for the
// same type is ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("type", job.Type()))
}

// Start pings Redis and launches the workers and the retry poller.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryPoller()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("prefix", r.keyPrefix))
	return nil
}

// Stop cancels in-flight handlers and waits for the workers to exit.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Publish implements Publisher.
func (r *RedisQueue) Publish(ctx context.Context, msgType, key string, payload interface{}) error {
	r.mu.RLock()
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Key:        key,
		Payload:    raw,
		EnqueuedAt: r.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if key != "" {
		ok, err := r.client.SetNX(ctx, r.pendingKey(msgType, key), msg.ID, r.config.PendingTTL).Result()
		if err != nil {
			return fmt.Errorf("setnx pending: %w", err)
		}
		if !ok {
			return ErrAlreadyQueued
		}
	}

	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		if key != "" {
			_ = r.client.Del(ctx, r.pendingKey(msgType, key)).Err()
		}
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// Stats returns the current queue depth.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.queueKey())
	retrying := pipe.ZCard(ctx, r.retryKey())
	dead := pipe.LLen(ctx, r.deadLetterKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Retrying: retrying.Val(), Dead: dead.Val()}, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		res, err := r.client.BRPop(r.ctx, time.Second, r.queueKey()).Result()
		switch {
		case errors.Is(err, redis.Nil), errors.Is(err, context.Canceled):
			continue
		case err != nil:
			r.logger.Error("brpop error", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-r.ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		case len(res) < 2:
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("unmarshal message", logger.Error(err))
			continue
		}
		r.process(msg)
	}
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(msg, errors.New("no job registered"))
		return
	}

	// Released before running so a request arriving mid-run is queued again.
	if msg.Key != "" && msg.Attempts == 0 {
		_ = r.client.Del(r.ctx, r.pendingKey(msg.Type, msg.Key)).Err()
	}

	start := r.now()
	err := job.Handle(r.ctx, msg.Payload)
	switch {
	case err == nil:
		r.logger.Debug("message processed",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Duration("elapsed", r.now().Sub(start)))
	case errors.Is(err, context.Canceled):
		// shutting down; run it again after restart
		r.retry(msg, err, 0)
	case IsPermanent(err) || msg.Attempts >= r.config.RetryLimit:
		r.logger.Error("message failed",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempts", msg.Attempts+1),
			logger.Error(err))
		r.deadLetter(msg, err)
	default:
		msg.Attempts++
		delay := retryDelay(r.config.RetryDelay, r.config.MaxRetryDelay, msg.Attempts)
		r.logger.Warn("message retry scheduled",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempt", msg.Attempts),
			logger.Duration("delay", delay),
			logger.Error(err))
		r.retry(msg, err, delay)
	}
}

func (r *RedisQueue) retry(msg Message, cause error, delay time.Duration) {
	msg.LastError = cause.Error()
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	// the queue context may already be cancelled
	err = r.client.ZAdd(context.Background(), r.retryKey(), redis.Z{
		Score:  float64(r.now().Add(delay).UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message, cause error) {
	msg.LastError = cause.Error()
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dead letter", logger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), r.deadLetterKey(), data).Err(); err != nil {
		r.logger.Error("lpush dead letter", logger.Error(err))
	}
}

func (r *RedisQueue) retryPoller() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			n, err := promoteScript.Run(r.ctx, r.client,
				[]string{r.retryKey(), r.queueKey()},
				strconv.FormatInt(r.now().UnixMilli(), 10), promoteBatch,
			).Int()
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("promote retries", logger.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Debug("retries promoted", logger.Int("count", n))
			}
		}
	}
}

func (r *RedisQueue) queueKey() string      { return r.keyPrefix + ":messages" }
func (r *RedisQueue) retryKey() string      { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string { return r.keyPrefix + ":dlq" }

func (r *RedisQueue) pendingKey(msgType, key string) string {
	return r.keyPrefix + ":pending:" + msgType + ":" + key
}
