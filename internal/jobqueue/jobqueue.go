/*
Package jobqueue delivers chat responses through a River job queue so a
platform outage does not lose replies. Jobs live in Postgres and are retried
by River with its default backoff.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/internal/retry"
	"github.com/timeprofiler/pkg/models"
)

// DeliveryJobArgs represents the arguments for a response delivery job
type DeliveryJobArgs struct {
	Platform models.Platform `json:"platform"`
	UserID   string          `json:"user_id"`
	Response models.Response `json:"response"`
}

// Kind returns the job kind for River
func (DeliveryJobArgs) Kind() string {
	return "chat_delivery"
}

// DeliveryWorker handles delivery jobs
type DeliveryWorker struct {
	river.WorkerDefaults[DeliveryJobArgs]
	registry *platform.Registry
	timeout  time.Duration
}

// NewDeliveryWorker returns a worker resolving adapters from registry.
func NewDeliveryWorker(registry *platform.Registry, timeout time.Duration) *DeliveryWorker {
	return &DeliveryWorker{registry: registry, timeout: timeout}
}

func (w *DeliveryWorker) Timeout(*river.Job[DeliveryJobArgs]) time.Duration {
	return w.timeout
}

// Work sends one response. Errors that retrying cannot fix cancel the job.
func (w *DeliveryWorker) Work(ctx context.Context, job *river.Job[DeliveryJobArgs]) error {
	args := job.Args
	adapter, ok := w.registry.Get(args.Platform)
	if !ok {
		return river.JobCancel(fmt.Errorf("no adapter registered for %q", args.Platform))
	}

	logger := log.With().Str("platform", string(args.Platform)).Str("user_id", args.UserID).Logger()

	sender, ok := adapter.(platform.Sender)
	if !ok {
		if !adapter.Deliver(ctx, args.UserID, args.Response) {
			return fmt.Errorf("%s adapter reported failure", args.Platform)
		}
		logger.Debug().Msg("Queued response delivered")
		return nil
	}

	if err := sender.Send(ctx, args.UserID, args.Response); err != nil {
		if retry.IsPermanent(err) {
			logger.Warn().Err(err).Msg("Queued delivery failed permanently")
			return river.JobCancel(err)
		}
		return err
	}
	logger.Debug().Msg("Queued response delivered")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config Config
}

// New connects to Postgres, optionally migrates River's tables and builds
// a client whose workers deliver through registry.
func New(ctx context.Context, config Config, registry *platform.Registry) (*JobQueue, error) {
	config = config.withDefaults()
	if config.DatabaseURL == "" {
		return nil, errors.New("jobqueue: database url is required")
	}

	pool, err := pgxpool.New(ctx, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	driver := riverpgxv5.New(pool)
	if config.Migrate {
		migrator, err := rivermigrate.New(driver, nil)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create River migrator: %w", err)
		}
		res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate River schema: %w", err)
		}
		log.Info().Int("versions", len(res.Versions)).Msg("River schema migrated")
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewDeliveryWorker(registry, config.JobTimeout))

	client, err := river.NewClient(driver, &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop waits for running jobs and releases the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// Deliver queues resp for delivery through adapter.
func (jq *JobQueue) Deliver(ctx context.Context, adapter platform.Adapter, userID string, resp models.Response) error {
	args := DeliveryJobArgs{
		Platform: adapter.Name(),
		UserID:   userID,
		Response: resp,
	}
	if _, err := jq.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue delivery job: %w", err)
	}
	return nil
}
