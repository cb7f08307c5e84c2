// Package app assembles the engine, storage, platforms and HTTP server from
// configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/timeprofiler/internal/allocation"
	"github.com/timeprofiler/internal/api"
	"github.com/timeprofiler/internal/chatbot"
	"github.com/timeprofiler/internal/classifier"
	"github.com/timeprofiler/internal/config"
	"github.com/timeprofiler/internal/conversation"
	"github.com/timeprofiler/internal/dispatch"
	"github.com/timeprofiler/internal/jobqueue"
	"github.com/timeprofiler/internal/logging"
	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/internal/platform/slack"
	"github.com/timeprofiler/internal/platform/teams"
	"github.com/timeprofiler/internal/platform/web"
	"github.com/timeprofiler/internal/problems"
	"github.com/timeprofiler/internal/storage"
	"github.com/timeprofiler/internal/storage/memory"
	"github.com/timeprofiler/internal/storage/postgres"
	"github.com/timeprofiler/internal/storage/sqlite"
	"github.com/timeprofiler/internal/storage/sqlstore"
)

// App is a fully wired service.
type App struct {
	Config     *config.Config
	Store      storage.Store
	States     *conversation.Store
	Dispatcher *dispatch.Executor
	Aggregator *problems.Aggregator
	Registry   *platform.Registry
	Engine     *chatbot.Engine
	Server     *api.Server
	Queue      *jobqueue.JobQueue

	closeOnce sync.Once
}

// OpenStore opens the configured storage driver.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory, "":
		return memory.New(), nil
	case config.DriverSQLite:
		return sqlite.New(ctx, cfg.Storage.Path)
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// NewAggregator builds the problem aggregator the way the service does.
func NewAggregator(cfg *config.Config, store storage.ProblemStore) *problems.Aggregator {
	return problems.NewAggregator(store, problems.WithThreshold(cfg.Engine.SimilarityThreshold))
}

// NewClassifier builds the classifier with configured keyword overrides.
func NewClassifier(cfg *config.Config) *classifier.Classifier {
	return classifier.New(cfg.Engine.Keywords.Classifier())
}

// New wires every component. The caller owns the returned App and must
// Close it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{Config: cfg, Store: store}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	var webAdapter *web.Adapter
	a.Registry = platform.NewRegistry()
	if cfg.Platforms.Web.Enabled {
		webAdapter = web.New(cfg.Platforms.Web.Config)
		a.Registry.Register(webAdapter)
	}
	if cfg.Platforms.Slack.Enabled {
		a.Registry.Register(slack.New(cfg.Platforms.Slack.Config, httpClient))
	}
	if cfg.Platforms.Teams.Enabled {
		a.Registry.Register(teams.New(cfg.Platforms.Teams.Config, httpClient))
	}

	a.States = conversation.NewStore()
	a.Aggregator = NewAggregator(cfg, store)
	a.Dispatcher = dispatch.New(dispatch.Config{
		Shards:         cfg.Dispatch.Shards,
		QueueSize:      cfg.Dispatch.QueueSize,
		EnqueueTimeout: cfg.Dispatch.EnqueueTimeout,
	})

	var deliverer chatbot.Deliverer = &chatbot.InlineDeliverer{
		Timeout: cfg.Engine.DeliveryTimeout,
		Retry:   cfg.Engine.DeliveryRetry,
	}
	if cfg.JobQueue.Enabled {
		qcfg := cfg.JobQueue
		if qcfg.DatabaseURL == "" {
			qcfg.DatabaseURL = cfg.Storage.DSN
		}
		a.Queue, err = jobqueue.New(ctx, qcfg, a.Registry)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("start job queue: %w", err)
		}
		deliverer = a.Queue
	}

	a.Engine, err = chatbot.New(chatbot.Config{
		AllocationRetryLimit: cfg.Engine.AllocationRetryLimit,
		DeliveryTimeout:      cfg.Engine.DeliveryTimeout,
		Prompts:              cfg.Engine.Prompts,
	}, chatbot.Deps{
		Registry:    a.Registry,
		States:      a.States,
		Dispatcher:  a.Dispatcher,
		Aggregator:  a.Aggregator,
		Feedback:    store,
		Allocations: store,
		Classifier:  NewClassifier(cfg),
		Parser:      allocation.NewParser(cfg.Engine.Activities),
		Deliverer:   deliverer,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := api.Deps{Engine: a.Engine, Aggregator: a.Aggregator, Web: webAdapter}
	if s, ok := store.(*sqlstore.Store); ok {
		deps.Health = s.DB()
	}
	a.Server = api.NewServer(cfg.Server.Addr, deps)

	logger := logging.New("app")
	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Float64("similarity_threshold", a.Aggregator.Threshold()).
		Interface("platforms", a.Registry.Names()).
		Bool("jobqueue", a.Queue != nil).
		Msg("Service assembled")
	return a, nil
}

// Run serves HTTP, sweeps idle conversations and runs queue workers until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.Queue != nil {
		if err := a.Queue.Start(ctx); err != nil {
			return fmt.Errorf("start job queue workers: %w", err)
		}
	}

	g.Go(func() error {
		a.States.Sweep(ctx, a.Config.Engine.StateIdleTTL, 0)
		return nil
	})
	g.Go(func() error {
		return a.Server.Start(ctx, a.Config.Server.ShutdownTimeout)
	})

	return g.Wait()
}

// Close drains per-user work, stops the queue and closes storage.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.Dispatcher != nil {
			a.Dispatcher.Stop()
		}
		if a.Queue != nil {
			ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
			if qerr := a.Queue.Stop(ctx); qerr != nil {
				log.Warn().Err(qerr).Msg("Job queue did not stop cleanly")
			}
			cancel()
		}
		err = a.Store.Close()
	})
	return err
}
