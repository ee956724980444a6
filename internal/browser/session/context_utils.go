package session

import (
	"context"
	"time"
)

// CombineContext derives a context from primary that is canceled when either
// primary or secondary is done. primary carries the CDP connection values, so
// it must be the base; secondary typically carries an operational deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// valueOnlyContext inherits values (including CDP target info) from its
// parent but ignores the parent's deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

// Detach returns a context usable for background CDP calls that must not be
// interrupted when the caller's operational context ends.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
