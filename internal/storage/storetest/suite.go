// Package storetest is a compliance suite shared by every storage driver.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/timeprofiler/internal/storage"
	"github.com/timeprofiler/pkg/models"
)

// Run exercises a storage.Store implementation. makeStore must return a store
// the suite may write to; it may already contain unrelated rows.
func Run(t *testing.T, makeStore func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("Feedback", func(t *testing.T) { testFeedback(t, makeStore(t)) })
	t.Run("Allocations", func(t *testing.T) { testAllocations(t, makeStore(t)) })
	t.Run("Problems", func(t *testing.T) { testProblems(t, makeStore(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, makeStore(t)) })
}

func testFeedback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	userID := "u-" + uuid.New().String()
	other := "u-" + uuid.New().String()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	want := []models.Feedback{
		{UserID: userID, Text: "I spent 3 hours in meetings", Category: models.CategoryTimeAllocation, Platform: models.PlatformSlack, Timestamp: ts},
		{UserID: userID, Text: "hello", Category: models.CategoryGeneral, Platform: models.PlatformWeb, Timestamp: ts.Add(time.Minute)},
	}
	for _, fb := range want {
		if err := s.StoreFeedback(ctx, fb); err != nil {
			t.Fatalf("StoreFeedback: %v", err)
		}
	}
	if err := s.StoreFeedback(ctx, models.Feedback{UserID: other, Text: "x", Category: models.CategoryGeneral, Platform: models.PlatformTeams, Timestamp: ts}); err != nil {
		t.Fatalf("StoreFeedback other: %v", err)
	}

	got, err := s.ListFeedback(ctx, userID)
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if diff := cmp.Diff(want, got, timeEqual()); diff != "" {
		t.Errorf("ListFeedback mismatch (-want +got):\n%s", diff)
	}

	all, err := s.ListFeedback(ctx, "")
	if err != nil {
		t.Fatalf("ListFeedback all: %v", err)
	}
	if len(all) < 3 {
		t.Errorf("ListFeedback all: want at least 3 rows, got %d", len(all))
	}
}

func testAllocations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	userID := "u-" + uuid.New().String()
	ts := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

	want := []models.Allocation{
		{UserID: userID, Activities: map[string]float64{"meetings": 60, "research": 40}, Unit: models.UnitPercent, RecordedAt: ts},
		{UserID: userID, Activities: map[string]float64{"code review": 2.5}, Unit: models.UnitHours, RecordedAt: ts.Add(time.Hour)},
	}
	for _, a := range want {
		if err := s.StoreAllocation(ctx, a); err != nil {
			t.Fatalf("StoreAllocation: %v", err)
		}
	}

	got, err := s.ListAllocations(ctx, userID)
	if err != nil {
		t.Fatalf("ListAllocations: %v", err)
	}
	if diff := cmp.Diff(want, got, timeEqual()); diff != "" {
		t.Errorf("ListAllocations mismatch (-want +got):\n%s", diff)
	}

	// Mutating the caller's map after storing must not leak into the store.
	want[0].Activities["meetings"] = 0
	got, err = s.ListAllocations(ctx, userID)
	if err != nil {
		t.Fatalf("ListAllocations: %v", err)
	}
	if got[0].Activities["meetings"] != 60 {
		t.Errorf("stored allocation aliased caller map: %v", got[0].Activities)
	}
}

func testProblems(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)

	first := &models.ProblemRecord{ID: uuid.New().String(), Description: "vpn drops", FrequencyCount: 1, FirstReported: now, LastReported: now}
	second := &models.ProblemRecord{ID: uuid.New().String(), Description: "printer jams", FrequencyCount: 1, FirstReported: now, LastReported: now}
	for _, p := range []*models.ProblemRecord{first, second} {
		if err := s.UpsertProblem(ctx, p); err != nil {
			t.Fatalf("UpsertProblem: %v", err)
		}
	}

	// Updating the first record must not move it behind the second.
	updated := first.Clone()
	updated.FrequencyCount = 4
	updated.LastReported = now.Add(48 * time.Hour)
	if err := s.UpsertProblem(ctx, updated); err != nil {
		t.Fatalf("UpsertProblem update: %v", err)
	}

	list, err := s.ListProblems(ctx)
	if err != nil {
		t.Fatalf("ListProblems: %v", err)
	}
	var mine []*models.ProblemRecord
	for _, p := range list {
		if p.ID == first.ID || p.ID == second.ID {
			mine = append(mine, p)
		}
	}
	want := []*models.ProblemRecord{updated, second}
	if diff := cmp.Diff(want, mine, timeEqual()); diff != "" {
		t.Errorf("ListProblems mismatch (-want +got):\n%s", diff)
	}

	// Records handed out are copies.
	mine[0].FrequencyCount = 99
	again, err := s.ListProblems(ctx)
	if err != nil {
		t.Fatalf("ListProblems: %v", err)
	}
	for _, p := range again {
		if p.ID == first.ID && p.FrequencyCount != 4 {
			t.Errorf("ListProblems returned shared record: count=%d", p.FrequencyCount)
		}
	}
}

func testClosed(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.StoreFeedback(ctx, models.Feedback{UserID: "u", Text: "x"}); err == nil {
		t.Errorf("StoreFeedback after Close: want error")
	}
	if _, err := s.ListProblems(ctx); err == nil {
		t.Errorf("ListProblems after Close: want error")
	}
}

func timeEqual() cmp.Option {
	return cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
}
