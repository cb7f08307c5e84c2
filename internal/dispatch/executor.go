// Package dispatch runs per-user work on sharded worker goroutines. Jobs for
// the same key always land on the same shard and run one at a time in the
// order they were enqueued; different shards run in parallel.
package dispatch

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Config sizes an Executor. Zero values take defaults.
type Config struct {
	Shards         int
	QueueSize      int
	EnqueueTimeout time.Duration
	// ErrorHandler receives errors returned by jobs submitted with Submit.
	ErrorHandler func(key string, err error)
}

type queuedJob struct {
	ctx context.Context
	key string
	job Job
}

// Executor executes Jobs partitioned by a stable hash of their key.
type Executor struct {
	cfg    Config
	queues []chan queuedJob

	done   chan struct{}
	closed atomic.Bool

	wg sync.WaitGroup
}

// New constructs the executor and starts its shard workers.
func New(cfg Config) *Executor {
	if cfg.Shards <= 0 {
		cfg.Shards = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = time.Second
	}

	e := &Executor{
		cfg:    cfg,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		e.queues[i] = ch
		e.wg.Add(1)
		go e.runWorker(i, ch)
	}
	return e
}

// Submit enqueues job on the shard for key.
//
//   - Returns ErrExecutorClosed once Stop has been called.
//   - Returns a *QueueFullError if the shard stays full for EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled while waiting for space.
func (e *Executor) Submit(ctx context.Context, key string, job Job) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	select {
	case <-e.done:
		return ErrExecutorClosed
	default:
	}

	shard := e.shardFor(key)
	ch := e.queues[shard]

	timer := time.NewTimer(e.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, key: key, job: job}:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-e.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Do submits fn on the shard for key and waits for it to finish, returning
// its error. If ctx ends first, Do returns ctx.Err(); a job that has not yet
// started is then skipped.
func (e *Executor) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	job := JobFunc(func(ctx context.Context) error {
		result <- callSafely(ctx, key, fn)
		return nil
	})
	if err := e.Submit(ctx, key, job); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new work, lets every worker drain its queue and waits for
// them to exit. It is idempotent.
func (e *Executor) Stop() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	log.Debug().Int("shards", e.cfg.Shards).Msg("Stopping dispatcher, draining shards")
	close(e.done)
	e.wg.Wait()
	log.Debug().Msg("Dispatcher stopped")
}

// Close lets Executor satisfy io.Closer.
func (e *Executor) Close() error {
	e.Stop()
	return nil
}

func (e *Executor) runWorker(idx int, ch <-chan queuedJob) {
	defer e.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			e.execute(label, qj)
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-e.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					e.execute(label, qj)
					drained++
				default:
					if drained > 0 {
						log.Debug().Int("shard", idx).Int("drained", drained).Msg("Drained shard queue")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

func (e *Executor) execute(label string, qj queuedJob) {
	if qj.job == nil {
		return
	}
	// A cancelled caller must not stall the shard.
	if err := qj.ctx.Err(); err != nil {
		e.handleError(qj.key, err)
		return
	}

	start := time.Now()
	err := e.runSafely(qj)
	runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	e.handleError(qj.key, err)
}

func (e *Executor) runSafely(qj queuedJob) error {
	return callSafely(qj.ctx, qj.key, qj.job.Run)
}

func callSafely(ctx context.Context, key string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("key", key).Interface("panic", r).Msg("Dispatcher job panicked")
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx)
}

func (e *Executor) handleError(key string, err error) {
	if err == nil {
		return
	}
	if e.cfg.ErrorHandler == nil {
		log.Warn().Err(err).Str("key", key).Msg("Dispatcher job failed")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Dispatcher error handler panicked")
		}
	}()
	e.cfg.ErrorHandler(key, err)
}

func (e *Executor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(e.cfg.Shards))
}
