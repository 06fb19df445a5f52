package queue

import (
	"context"
	"encoding/json"
)

// Job handles messages of one type.
type Job interface {
	// Type returns the message type the job handles.
	Type() string

	// Handle processes one message. Returning an error schedules a retry
	// unless it is wrapped with Permanent.
	Handle(ctx context.Context, payload json.RawMessage) error
}
