package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Job is a unit of work executed by an Executor.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context) error

// Run implements Job for JobFunc.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// ErrQueueFull reports back-pressure: the shard queue stayed full for the
// whole enqueue timeout.
var ErrQueueFull = errors.New("dispatch: shard queue full")

// ErrExecutorClosed reports that the executor has been stopped.
var ErrExecutorClosed = errors.New("dispatch: executor closed")

// QueueFullError carries diagnostics while satisfying errors.Is(_, ErrQueueFull).
type QueueFullError struct {
	Shard    int
	Length   int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("dispatch: shard queue %d full (len=%d cap=%d)", e.Shard, e.Length, e.Capacity)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dispatch: job panicked: %v", e.Value)
}
