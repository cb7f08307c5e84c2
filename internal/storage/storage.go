// Package storage defines the persistence contracts the chatbot engine
// depends on. Drivers live under internal/storage/<driver>/.
package storage

import (
	"context"
	"errors"

	"github.com/timeprofiler/pkg/models"
)

// ErrClosed is returned by drivers after Close.
var ErrClosed = errors.New("storage: store is closed")

// FeedbackSink persists every inbound message, best effort.
type FeedbackSink interface {
	StoreFeedback(ctx context.Context, fb models.Feedback) error
}

// AllocationSink persists successfully parsed time allocations.
type AllocationSink interface {
	StoreAllocation(ctx context.Context, a models.Allocation) error
}

// ProblemStore is the problem record collection used by the aggregator.
type ProblemStore interface {
	// ListProblems returns all records in creation order.
	ListProblems(ctx context.Context) ([]*models.ProblemRecord, error)
	// UpsertProblem inserts the record or replaces the one with the same ID.
	UpsertProblem(ctx context.Context, p *models.ProblemRecord) error
}

// Store bundles every contract a driver implements.
type Store interface {
	FeedbackSink
	AllocationSink
	ProblemStore
	// ListFeedback returns feedback for a user, oldest first. An empty userID lists everything.
	ListFeedback(ctx context.Context, userID string) ([]models.Feedback, error)
	// ListAllocations returns allocations for a user, oldest first.
	ListAllocations(ctx context.Context, userID string) ([]models.Allocation, error)
	Close() error
}
