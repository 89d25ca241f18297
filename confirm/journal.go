package confirm

import (
	"context"
	"time"
)

// Entry is one journalled lookup outcome.
type Entry struct {
	Identifier string
	Outcome    State
	Status     int // HTTP status, 0 on transport failure
	Elapsed    time.Duration
	Error      string
	At         time.Time
}

// Journal records lookup outcomes. Errors are logged, never propagated.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}
