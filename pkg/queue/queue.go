// Package queue is a small Redis-backed job queue with delayed retries and a
// dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyQueued is returned by Publish when a message with the same key
// is still waiting to run.
var ErrAlreadyQueued = errors.New("queue: already queued")

// Publisher enqueues messages for registered jobs.
type Publisher interface {
	// Publish enqueues payload for msgType. A non-empty key coalesces
	// messages: while one with the same type and key is pending, later ones
	// are rejected with ErrAlreadyQueued.
	Publish(ctx context.Context, msgType, key string, payload interface{}) error
}

// Config contains the configuration for the queue.
type Config struct {
	Workers       int           // number of workers
	RetryLimit    int           // retries before a message is dead-lettered
	RetryDelay    time.Duration // delay before the first retry; doubles per attempt
	MaxRetryDelay time.Duration
	PendingTTL    time.Duration // upper bound on how long a coalescing key is held
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Decode unmarshals a message payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, errors.New("empty payload")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to the
// dead-letter list.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// retryDelay doubles base per attempt, capped at max.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}
