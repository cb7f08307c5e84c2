// Package problems clusters free-text problem reports by lexical similarity
// and tracks how often and how recently each cluster is reported.
package problems

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timeprofiler/internal/storage"
	"github.com/timeprofiler/pkg/models"
)

// DefaultSimilarityThreshold is the minimum overlap needed to merge a report.
const DefaultSimilarityThreshold = 0.25

// Aggregator records problem reports against a ProblemStore.
type Aggregator struct {
	store     storage.ProblemStore
	threshold float64
	now       func() time.Time
	newID     func() string

	// mu serializes the scan-then-create sequence so concurrent reports of the
	// same problem cannot both miss and create duplicates.
	mu sync.Mutex
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// ValidateThreshold reports whether t can be used as a similarity
// threshold. Zero would merge every report into the first record.
func ValidateThreshold(t float64) error {
	if t <= 0 || t > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1], got %v", t)
	}
	return nil
}

// WithThreshold overrides the similarity threshold. A value rejected by
// ValidateThreshold is logged and the default is kept.
func WithThreshold(t float64) Option {
	return func(a *Aggregator) {
		if err := ValidateThreshold(t); err != nil {
			log.Warn().Err(err).Float64("default", DefaultSimilarityThreshold).Msg("Ignoring similarity threshold")
			return
		}
		a.threshold = t
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store storage.ProblemStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:     store,
		threshold: DefaultSimilarityThreshold,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Threshold returns the configured similarity threshold.
func (a *Aggregator) Threshold() float64 {
	return a.threshold
}

// RecordProblem merges description into the first sufficiently similar record,
// in creation order, or creates a new record.
func (a *Aggregator) RecordProblem(ctx context.Context, description string) (*models.ProblemRecord, error) {
	description = strings.TrimSpace(description)
	incoming := Tokenize(description)

	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.store.ListProblems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}

	now := a.now()
	for _, rec := range records {
		score := Similarity(incoming, Tokenize(rec.Description))
		if score < a.threshold {
			continue
		}
		rec.FrequencyCount++
		rec.LastReported = now
		if err := a.store.UpsertProblem(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to update problem %s: %w", rec.ID, err)
		}
		log.Debug().
			Str("problem_id", rec.ID).
			Float64("similarity", score).
			Int("frequency_count", rec.FrequencyCount).
			Msg("Merged problem report into existing record")
		return rec, nil
	}

	rec := &models.ProblemRecord{
		ID:             a.newID(),
		Description:    description,
		FrequencyCount: 1,
		FirstReported:  now,
		LastReported:   now,
	}
	if err := a.store.UpsertProblem(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create problem: %w", err)
	}
	log.Debug().
		Str("problem_id", rec.ID).
		Int("token_count", len(incoming)).
		Msg("Created new problem record")
	return rec, nil
}

// TrendingProblems returns records reported within the trailing withinDays
// window with at least minReports reports, most frequent first. Records with
// equal counts keep creation order.
func (a *Aggregator) TrendingProblems(ctx context.Context, withinDays, minReports int) ([]*models.ProblemRecord, error) {
	records, err := a.store.ListProblems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}

	since := a.now().Add(-time.Duration(withinDays) * 24 * time.Hour)
	out := make([]*models.ProblemRecord, 0, len(records))
	for _, rec := range records {
		if rec.LastReported.Before(since) {
			continue
		}
		if rec.FrequencyCount < minReports {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FrequencyCount > out[j].FrequencyCount
	})
	return out, nil
}
