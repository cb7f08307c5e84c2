package problems

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeprofiler/internal/storage/memory"
	"github.com/timeprofiler/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAggregator(t *testing.T) (*Aggregator, *memory.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	return NewAggregator(store, WithClock(clock.Now)), store, clock
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The app CRASHES on save, the app!")
	assert.Equal(t, TokenSet{"the": {}, "app": {}, "crash": {}, "on": {}, "save": {}}, got)

	assert.Empty(t, Tokenize("   ...  "))
	assert.Empty(t, Tokenize("s es"))
}

func TestSimilarity(t *testing.T) {
	a := Tokenize("app crash on save")
	b := Tokenize("app crash when saving")
	assert.InDelta(t, 0.5, Similarity(a, b), 1e-9)

	assert.Equal(t, 0.0, Similarity(a, TokenSet{}))
	assert.Equal(t, 0.0, Similarity(TokenSet{}, TokenSet{}))
	assert.Equal(t, 1.0, Similarity(Tokenize("crash"), a))
}

func TestRecordProblemMergesSimilarReports(t *testing.T) {
	ctx := context.Background()
	agg, store, clock := newTestAggregator(t)

	first, err := agg.RecordProblem(ctx, "The app crashes on save")
	require.NoError(t, err)
	assert.Equal(t, 1, first.FrequencyCount)
	assert.NotEmpty(t, first.ID)

	clock.Advance(time.Hour)
	second, err := agg.RecordProblem(ctx, "App crash when saving")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.FrequencyCount)
	assert.Equal(t, "The app crashes on save", second.Description)
	assert.Equal(t, first.FirstReported, second.FirstReported)
	assert.Equal(t, clock.Now(), second.LastReported)

	records, err := store.ListProblems(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].FrequencyCount)
}

func TestRecordProblemDuplicateText(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t)

	for i := 0; i < 2; i++ {
		_, err := agg.RecordProblem(ctx, "The system crashes often")
		require.NoError(t, err)
	}

	records, err := store.ListProblems(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].FrequencyCount)
}

func TestRecordProblemDisjointReportsStaySeparate(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t)

	a, err := agg.RecordProblem(ctx, "printer jammed")
	require.NoError(t, err)
	b, err := agg.RecordProblem(ctx, "vpn disconnects constantly")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	records, err := store.ListProblems(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "printer jammed", records[0].Description)
	assert.Equal(t, "vpn disconnects constantly", records[1].Description)
}

func TestRecordProblemEmptyDescriptionNeverMatches(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t)

	_, err := agg.RecordProblem(ctx, "")
	require.NoError(t, err)
	_, err = agg.RecordProblem(ctx, "!!!")
	require.NoError(t, err)

	records, err := store.ListProblems(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRecordProblemFirstFitInCreationOrder(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t)

	wide, err := agg.RecordProblem(ctx, "login page slow and deploy pipeline slow")
	require.NoError(t, err)
	tight, err := agg.RecordProblem(ctx, "reports export times out")
	require.NoError(t, err)
	require.NotEqual(t, wide.ID, tight.ID)

	// Matches both records; the earlier one wins.
	got, err := agg.RecordProblem(ctx, "reports export slow")
	require.NoError(t, err)
	assert.Equal(t, wide.ID, got.ID)

	records, err := store.ListProblems(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].FrequencyCount)
	assert.Equal(t, 1, records[1].FrequencyCount)
}

func TestRecordProblemThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	agg := NewAggregator(store, WithThreshold(0.9))
	assert.Equal(t, 0.9, agg.Threshold())

	_, err := agg.RecordProblem(ctx, "The app crashes on save")
	require.NoError(t, err)
	_, err = agg.RecordProblem(ctx, "App crash when saving")
	require.NoError(t, err)

	records, err := store.ListProblems(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	assert.Equal(t, DefaultSimilarityThreshold, NewAggregator(store, WithThreshold(0)).Threshold())
	assert.Equal(t, 1.0, NewAggregator(store, WithThreshold(1)).Threshold())
}

func TestValidateThreshold(t *testing.T) {
	for _, v := range []float64{0, -0.1, 1.01} {
		assert.Error(t, ValidateThreshold(v), "threshold %v", v)
	}
	for _, v := range []float64{0.01, 0.25, 1} {
		assert.NoError(t, ValidateThreshold(v), "threshold %v", v)
	}
}

func TestRecordProblemConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.RecordProblem(ctx, "build server keeps failing")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := store.ListProblems(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, n, records[0].FrequencyCount)
}

func TestRecordProblemStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Close())

	_, err := NewAggregator(store).RecordProblem(ctx, "anything")
	require.Error(t, err)
}

func TestTrendingProblems(t *testing.T) {
	ctx := context.Background()
	agg, store, clock := newTestAggregator(t)
	now := clock.Now()

	seed := []*models.ProblemRecord{
		{ID: "stale", Description: "stale", FrequencyCount: 5, FirstReported: now.AddDate(0, 0, -40), LastReported: now.AddDate(0, 0, -30)},
		{ID: "rare", Description: "rare", FrequencyCount: 2, FirstReported: now, LastReported: now},
		{ID: "hot-a", Description: "hot a", FrequencyCount: 3, FirstReported: now.AddDate(0, 0, -2), LastReported: now.AddDate(0, 0, -1)},
		{ID: "hotter", Description: "hotter", FrequencyCount: 7, FirstReported: now.AddDate(0, 0, -3), LastReported: now},
		{ID: "hot-b", Description: "hot b", FrequencyCount: 3, FirstReported: now.AddDate(0, 0, -6), LastReported: now.AddDate(0, 0, -6)},
	}
	for _, rec := range seed {
		require.NoError(t, store.UpsertProblem(ctx, rec))
	}

	got, err := agg.TrendingProblems(ctx, 7, 3)
	require.NoError(t, err)

	var ids []string
	for _, rec := range got {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"hotter", "hot-a", "hot-b"}, ids)

	got, err = agg.TrendingProblems(ctx, 60, 1)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, "hotter", got[0].ID)
}

type failingStore struct{}

func (failingStore) ListProblems(context.Context) ([]*models.ProblemRecord, error) {
	return nil, errors.New("db down")
}

func (failingStore) UpsertProblem(context.Context, *models.ProblemRecord) error {
	return errors.New("db down")
}

func TestTrendingProblemsStoreFailure(t *testing.T) {
	_, err := NewAggregator(failingStore{}).TrendingProblems(context.Background(), 7, 1)
	require.ErrorContains(t, err, "db down")
}
