package chatbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/internal/retry"
	"github.com/timeprofiler/pkg/models"
)

// Deliverer pushes a committed response out through an adapter.
type Deliverer interface {
	Deliver(ctx context.Context, adapter platform.Adapter, userID string, resp models.Response) error
}

// InlineDeliverer delivers on the calling goroutine with a bounded timeout.
// Adapters that implement platform.Sender get transient failures retried.
type InlineDeliverer struct {
	Timeout time.Duration
	Retry   retry.Config
}

// NewInlineDeliverer returns a deliverer using retry.DeliveryConfig.
func NewInlineDeliverer(timeout time.Duration) *InlineDeliverer {
	return &InlineDeliverer{Timeout: timeout, Retry: retry.DeliveryConfig()}
}

func (d *InlineDeliverer) Deliver(ctx context.Context, adapter platform.Adapter, userID string, resp models.Response) error {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	sender, ok := adapter.(platform.Sender)
	if !ok {
		if !adapter.Deliver(ctx, userID, resp) {
			return fmt.Errorf("%s adapter reported failure", adapter.Name())
		}
		return nil
	}

	logger := log.With().Str("platform", string(adapter.Name())).Str("user_id", userID).Logger()
	result := retry.Do(ctx, d.Retry, func(ctx context.Context) error {
		return sender.Send(ctx, userID, resp)
	}, logger)
	if !result.Success {
		if result.LastError == nil {
			return errors.New("delivery did not complete")
		}
		return result.LastError
	}
	return nil
}
