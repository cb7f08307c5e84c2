// Package chatbot routes inbound chat messages through per-user
// conversation flows and hands the responses back to the originating
// platform.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timeprofiler/internal/allocation"
	"github.com/timeprofiler/internal/classifier"
	"github.com/timeprofiler/internal/conversation"
	"github.com/timeprofiler/internal/dispatch"
	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/internal/problems"
	"github.com/timeprofiler/internal/storage"
	"github.com/timeprofiler/pkg/models"
)

// Config tunes engine behavior.
type Config struct {
	// AllocationRetryLimit abandons the time allocation flow after this many
	// unparseable replies. 0 keeps asking forever.
	AllocationRetryLimit int `koanf:"allocation_retry_limit"`
	// DeliveryTimeout bounds each inline delivery. 0 means no timeout.
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`
	Prompts         Prompts       `koanf:"prompts"`
}

// Deps are the collaborators the engine needs. Classifier, Parser and
// Deliverer are optional.
type Deps struct {
	Registry    *platform.Registry
	States      *conversation.Store
	Dispatcher  *dispatch.Executor
	Aggregator  *problems.Aggregator
	Feedback    storage.FeedbackSink
	Allocations storage.AllocationSink
	Classifier  *classifier.Classifier
	Parser      *allocation.Parser
	Deliverer   Deliverer
}

// Result describes how one inbound message was handled.
type Result struct {
	Response  models.Response
	UserID    string
	Category  models.Category
	Flow      models.Flow // flow after handling
	Delivered bool
	// Ignored is set when the adapter filtered the event out before
	// authentication; nothing was stored or delivered.
	Ignored bool
	// Err collects non-fatal failures (authentication, persistence, delivery).
	Err error
}

// Engine is the conversational router.
type Engine struct {
	cfg     Config
	prompts Prompts

	registry    *platform.Registry
	states      *conversation.Store
	dispatcher  *dispatch.Executor
	aggregator  *problems.Aggregator
	feedback    storage.FeedbackSink
	allocations storage.AllocationSink
	classifier  *classifier.Classifier
	parser      *allocation.Parser
	deliverer   Deliverer

	now func() time.Time
}

// New validates deps and builds an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("chatbot: registry is required")
	case deps.States == nil:
		return nil, errors.New("chatbot: conversation store is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("chatbot: dispatcher is required")
	case deps.Aggregator == nil:
		return nil, errors.New("chatbot: problem aggregator is required")
	case deps.Feedback == nil:
		return nil, errors.New("chatbot: feedback sink is required")
	case deps.Allocations == nil:
		return nil, errors.New("chatbot: allocation sink is required")
	}

	e := &Engine{
		cfg:         cfg,
		prompts:     cfg.Prompts.withDefaults(),
		registry:    deps.Registry,
		states:      deps.States,
		dispatcher:  deps.Dispatcher,
		aggregator:  deps.Aggregator,
		feedback:    deps.Feedback,
		allocations: deps.Allocations,
		classifier:  deps.Classifier,
		parser:      deps.Parser,
		deliverer:   deps.Deliverer,
		now:         time.Now,
	}
	if e.classifier == nil {
		e.classifier = classifier.Default()
	}
	if e.parser == nil {
		e.parser = allocation.NewParser(nil)
	}
	if e.deliverer == nil {
		e.deliverer = NewInlineDeliverer(cfg.DeliveryTimeout)
	}
	return e, nil
}

// HandleMessage runs one inbound webhook through authentication, parsing,
// classification, the user's flow and delivery. It returns a response for
// every event the adapter does not filter out; the error is non-nil only when the message could not be
// processed at all (unknown platform, dispatcher unavailable).
func (e *Engine) HandleMessage(ctx context.Context, name models.Platform, raw platform.RawMessage) (Result, error) {
	adapter, ok := e.registry.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
		return Result{Response: e.apology(), Err: err}, err
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = e.now()
	}
	logger := log.With().Str("platform", string(name)).Logger()

	if f, ok := adapter.(platform.Filter); ok {
		if reason, skip := f.Ignore(ctx, raw); skip {
			ignoredTotal.WithLabelValues(string(name), reason).Inc()
			logger.Debug().Str("reason", reason).Msg("Ignoring webhook event")
			return Result{Ignored: true}, nil
		}
	}

	userID, ok := adapter.Authenticate(ctx, raw)
	if !ok || userID == "" {
		authFailuresTotal.WithLabelValues(string(name)).Inc()
		logger.Info().Msg("Could not authenticate message sender")
		return Result{
			Response: models.NewResponse(e.prompts.AuthFailure, models.CategoryGeneral),
			Err:      ErrAuthentication,
		}, nil
	}

	msg := adapter.Parse(ctx, raw)
	if msg.UserID != userID {
		msg = models.NewMessage(userID, msg.Text, msg.Timestamp, msg.Platform, msg.Category, msg.Metadata)
	}
	msg = msg.WithCategory(e.classifier.Classify(msg.Text))
	messagesTotal.WithLabelValues(string(name), string(msg.Category)).Inc()

	logger = logger.With().Str("user_id", userID).Str("category", string(msg.Category)).Logger()
	logger.Debug().Msg("Message classified")

	res := Result{UserID: userID, Category: msg.Category}

	// The job writes into handled only; it is read after Do returns nil,
	// which guarantees the job has finished.
	var handled struct {
		resp models.Response
		flow models.Flow
		errs []error
	}
	start := time.Now()
	err := e.dispatcher.Do(ctx, userID, func(ctx context.Context) error {
		if err := e.storeFeedback(ctx, msg); err != nil {
			handled.errs = append(handled.errs, err)
		}
		return e.states.Update(userID, func(st *conversation.State) error {
			flow := st.CurrentFlow
			resp, err := e.route(ctx, st, msg)
			if err != nil {
				handlerErrorsTotal.WithLabelValues(flowLabel(string(flow))).Inc()
				logger.Error().Err(err).Str("flow", string(flow)).Msg("Flow handler failed")
				handled.errs = append(handled.errs, err)
				resp = e.apology()
			}
			handled.resp = resp
			handled.flow = st.CurrentFlow
			return nil
		})
	})
	handleDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error().Err(err).Msg("Message could not be dispatched")
		res.Response = e.apology()
		res.Err = err
		return res, fmt.Errorf("dispatch message: %w", err)
	}
	res.Response = handled.resp
	res.Flow = handled.flow
	errs := handled.errs

	logger.Debug().Str("flow", string(res.Flow)).Msg("Message handled")

	// Delivery runs after the state change committed so a slow platform
	// never holds the user's shard.
	if err := e.deliverer.Deliver(ctx, adapter, userID, res.Response); err != nil {
		deliveriesTotal.WithLabelValues(string(name), "failure").Inc()
		logger.Warn().Err(err).Msg("Response delivery failed")
		errs = append(errs, fmt.Errorf("%w: %w", ErrDelivery, err))
	} else {
		deliveriesTotal.WithLabelValues(string(name), "success").Inc()
		res.Delivered = true
	}

	res.Err = errors.Join(errs...)
	return res, nil
}

func (e *Engine) storeFeedback(ctx context.Context, msg models.Message) error {
	fb := models.Feedback{
		UserID:    msg.UserID,
		Text:      msg.Text,
		Category:  msg.Category,
		Platform:  msg.Platform,
		Timestamp: msg.Timestamp,
	}
	if err := e.feedback.StoreFeedback(ctx, fb); err != nil {
		log.Warn().Err(err).Str("user_id", msg.UserID).Msg("Failed to store feedback")
		return fmt.Errorf("%w: store feedback: %w", ErrPersistence, err)
	}
	return nil
}

func (e *Engine) apology() models.Response {
	return models.NewResponse(e.prompts.HandlerFailure, models.CategoryGeneral)
}
