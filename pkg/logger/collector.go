package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships digest batches, typically to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// DigestConfig controls how error entries are aggregated before shipping.
type DigestConfig struct {
	Interval   time.Duration // flush interval
	MaxEntries int           // distinct entries that force an early flush
	Topic      string
	Publisher  Publisher
}

// DigestEntry is one distinct error with how often it occurred in the window.
// Entries are distinct by level, message and fields; Caller is where the
// error was first logged.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// Digest folds repeated errors into counted entries so that a failing
// dependency produces one alert per window instead of one per request.
type Digest struct {
	cfg     DigestConfig
	mu      sync.Mutex
	entries map[uint64]*DigestEntry
	flushCh chan []DigestEntry
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	now     func() time.Time
}

func NewDigest(cfg DigestConfig) *Digest {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	d := &Digest{
		cfg:     cfg,
		entries: make(map[uint64]*DigestEntry),
		flushCh: make(chan []DigestEntry, 4),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Add records one occurrence.
func (d *Digest) Add(level, message string, fields map[string]interface{}, caller string) {
	now := d.now()
	key := digestKey(level, message, fields)

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	d.entries[key] = &DigestEntry{
		Level:     level,
		Message:   message,
		Fields:    fields,
		Caller:    caller,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if len(d.entries) >= d.cfg.MaxEntries {
		d.queueLocked()
	}
}

// Pending returns the number of distinct entries not yet flushed.
func (d *Digest) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func digestKey(level, message string, fields map[string]interface{}) uint64 {
	h := fnv.New64a()
	// map keys are sorted by encoding/json, so equal fields hash equally
	b, _ := json.Marshal(fields)
	fmt.Fprintf(h, "%s\x00%s\x00", level, message)
	_, _ = h.Write(b)
	return h.Sum64()
}

// queueLocked hands the current window to the shipping goroutine. A full
// channel drops the window rather than blocking the logging caller.
func (d *Digest) queueLocked() {
	if len(d.entries) == 0 {
		return
	}
	batch := make([]DigestEntry, 0, len(d.entries))
	for _, e := range d.entries {
		batch = append(batch, *e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	d.entries = make(map[uint64]*DigestEntry)

	select {
	case d.flushCh <- batch:
	default:
		fmt.Fprintf(os.Stderr, "log digest: dropped %d entries\n", len(batch))
	}
}

func (d *Digest) loop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			d.queueLocked()
			d.mu.Unlock()
		case batch := <-d.flushCh:
			d.ship(batch)
		case <-d.stopCh:
			d.mu.Lock()
			d.queueLocked()
			d.mu.Unlock()
			for {
				select {
				case batch := <-d.flushCh:
					d.ship(batch)
				default:
					return
				}
			}
		}
	}
}

func (d *Digest) ship(batch []DigestEntry) {
	if d.cfg.Publisher == nil || len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.cfg.Publisher.PublishMessage(ctx, d.cfg.Topic, batch); err != nil {
		// the logger cannot log its own failures
		fmt.Fprintf(os.Stderr, "log digest: publish %d entries: %v\n", len(batch), err)
	}
}

// Close flushes what is pending and stops the digest.
func (d *Digest) Close() error {
	d.once.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
	})
	return nil
}
