package chatbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeprofiler/internal/conversation"
	"github.com/timeprofiler/internal/dispatch"
	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/internal/problems"
	"github.com/timeprofiler/internal/retry"
	"github.com/timeprofiler/internal/storage/memory"
	"github.com/timeprofiler/pkg/models"
)

// stubAdapter reads {"user_id": ..., "text": ...} bodies and records
// deliveries.
type stubAdapter struct {
	mu        sync.Mutex
	delivered []models.Response
	rejectAll bool
	failSends int
	sendErr   error
	sends     int
}

func (a *stubAdapter) Name() models.Platform { return models.PlatformWeb }

func (a *stubAdapter) Authenticate(_ context.Context, raw platform.RawMessage) (string, bool) {
	if a.rejectAll {
		return "", false
	}
	var p struct {
		UserID string `json:"user_id"`
	}
	_ = json.Unmarshal(raw.Body, &p)
	return p.UserID, p.UserID != ""
}

func (a *stubAdapter) Parse(_ context.Context, raw platform.RawMessage) models.Message {
	var p struct {
		UserID string `json:"user_id"`
		Text   string `json:"text"`
	}
	_ = json.Unmarshal(raw.Body, &p)
	return models.NewMessage(p.UserID, p.Text, raw.ReceivedAt, models.PlatformWeb, "", nil)
}

func (a *stubAdapter) Deliver(ctx context.Context, userID string, resp models.Response) bool {
	return a.Send(ctx, userID, resp) == nil
}

func (a *stubAdapter) Send(_ context.Context, _ string, resp models.Response) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends++
	if a.failSends > 0 {
		a.failSends--
		return a.sendErr
	}
	a.delivered = append(a.delivered, resp)
	return nil
}

func (a *stubAdapter) deliveredCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delivered)
}

// filteringAdapter drops bodies whose "type" is set and not "message", the
// way platform webhooks carry typing indicators next to real messages.
type filteringAdapter struct {
	*stubAdapter
}

func (a filteringAdapter) Ignore(_ context.Context, raw platform.RawMessage) (string, bool) {
	var p struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw.Body, &p)
	if p.Type != "" && p.Type != "message" {
		return "not_message", true
	}
	return "", false
}

// countingStore wraps the memory store to count and optionally fail writes.
type countingStore struct {
	*memory.Store
	allocationCalls atomic.Int32
	failAllocations bool
	failFeedback    bool
}

func (s *countingStore) StoreAllocation(ctx context.Context, a models.Allocation) error {
	s.allocationCalls.Add(1)
	if s.failAllocations {
		return errors.New("disk full")
	}
	return s.Store.StoreAllocation(ctx, a)
}

func (s *countingStore) StoreFeedback(ctx context.Context, fb models.Feedback) error {
	if s.failFeedback {
		return errors.New("feedback table locked")
	}
	return s.Store.StoreFeedback(ctx, fb)
}

type testEnv struct {
	engine  *Engine
	adapter *stubAdapter
	store   *countingStore
	states  *conversation.Store
	exec    *dispatch.Executor
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store := &countingStore{Store: memory.New()}
	adapter := &stubAdapter{}
	states := conversation.NewStore()
	exec := dispatch.New(dispatch.Config{Shards: 4, QueueSize: 16})
	t.Cleanup(exec.Stop)

	deliverer := NewInlineDeliverer(time.Second)
	deliverer.Retry = retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, Retryable: retry.IsRetryableError}

	e, err := New(cfg, Deps{
		Registry:    platform.NewRegistry(adapter),
		States:      states,
		Dispatcher:  exec,
		Aggregator:  problems.NewAggregator(store),
		Feedback:    store,
		Allocations: store,
		Deliverer:   deliverer,
	})
	require.NoError(t, err)
	return &testEnv{engine: e, adapter: adapter, store: store, states: states, exec: exec}
}

func (env *testEnv) send(t *testing.T, userID, text string) Result {
	t.Helper()
	body, err := json.Marshal(map[string]string{"user_id": userID, "text": text})
	require.NoError(t, err)
	res, err := env.engine.HandleMessage(context.Background(), models.PlatformWeb, platform.RawMessage{Body: body})
	require.NoError(t, err)
	return res
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestTimeAllocationRoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{})

	res := env.send(t, "alice", "I want to log time")
	assert.Equal(t, models.CategoryTimeAllocation, res.Category)
	assert.Equal(t, models.FlowTimeAllocation, res.Flow)
	assert.Contains(t, res.Response.Text, "60% meetings, 40% research")
	assert.NoError(t, res.Err)
	assert.True(t, res.Delivered)

	res = env.send(t, "alice", "60% meetings, 40% research")
	assert.Equal(t, models.FlowNone, res.Flow)
	assert.Equal(t, DefaultPrompts().AllocationSaved, res.Response.Text)
	assert.Equal(t, map[string]float64{"meetings": 60, "research": 40}, res.Response.Metadata["activities"])
	assert.Equal(t, "percent", res.Response.Metadata["unit"])

	assert.EqualValues(t, 1, env.store.allocationCalls.Load())
	allocs, err := env.store.ListAllocations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, map[string]float64{"meetings": 60, "research": 40}, allocs[0].Activities)

	st, ok := env.states.Get("alice")
	require.True(t, ok)
	assert.False(t, st.InFlow())

	fb, err := env.store.ListFeedback(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, fb, 2)
	assert.Equal(t, models.CategoryTimeAllocation, fb[0].Category)
	assert.Equal(t, 2, env.adapter.deliveredCount())
}

func TestTimeAllocationRetryKeepsFlow(t *testing.T) {
	env := newTestEnv(t, Config{})

	env.send(t, "bob", "log my time please")
	res := env.send(t, "bob", "mostly stuff")
	assert.Equal(t, DefaultPrompts().AllocationRetry, res.Response.Text)
	assert.Equal(t, models.FlowTimeAllocation, res.Flow)
	assert.EqualValues(t, 0, env.store.allocationCalls.Load())
}

func TestTimeAllocationGivesUpAtLimit(t *testing.T) {
	env := newTestEnv(t, Config{AllocationRetryLimit: 2})

	env.send(t, "carol", "time to log my hours")
	res := env.send(t, "carol", "no idea")
	assert.Equal(t, models.FlowTimeAllocation, res.Flow)

	res = env.send(t, "carol", "still no idea")
	assert.Equal(t, DefaultPrompts().AllocationGiveUp, res.Response.Text)
	assert.Equal(t, models.FlowNone, res.Flow)
}

func TestTimeAllocationStoreFailureKeepsFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.failAllocations = true

	env.send(t, "dave", "log my time")
	res := env.send(t, "dave", "50% coding, 50% meetings")
	assert.Equal(t, DefaultPrompts().HandlerFailure, res.Response.Text)
	assert.ErrorIs(t, res.Err, ErrPersistence)
	assert.Equal(t, models.FlowTimeAllocation, res.Flow)
	assert.True(t, res.Delivered)
}

func TestProblemFlowCountsSimilarReports(t *testing.T) {
	env := newTestEnv(t, Config{})

	res := env.send(t, "erin", "I have a problem")
	assert.Equal(t, models.FlowProblemReport, res.Flow)
	res = env.send(t, "erin", "The app crashes on save")
	assert.Equal(t, models.FlowNone, res.Flow)
	assert.Equal(t, 1, res.Response.Metadata["frequency_count"])
	assert.NotContains(t, res.Response.Text, "reported")

	env.send(t, "frank", "there is an issue")
	res = env.send(t, "frank", "App crash when saving")
	assert.Equal(t, 2, res.Response.Metadata["frequency_count"])
	assert.Contains(t, res.Response.Text, fmt.Sprintf(DefaultPrompts().ProblemRepeated, 2))

	list, err := env.store.ListProblems(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].FrequencyCount)
}

func TestIgnoredEventsLeaveFlowUntouched(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.engine.registry.Register(filteringAdapter{env.adapter})
	ctx := context.Background()

	res := env.send(t, "ivy", "I have a problem")
	require.Equal(t, models.FlowProblemReport, res.Flow)

	res, err := env.engine.HandleMessage(ctx, models.PlatformWeb,
		platform.RawMessage{Body: []byte(`{"type":"typing","user_id":"ivy"}`)})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.NoError(t, res.Err)
	assert.Empty(t, res.Response.Text)

	st, ok := env.states.Get("ivy")
	require.True(t, ok)
	assert.Equal(t, models.FlowProblemReport, st.CurrentFlow)
	list, err := env.store.ListProblems(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	fb, err := env.store.ListFeedback(ctx, "ivy")
	require.NoError(t, err)
	assert.Len(t, fb, 1)
	assert.Equal(t, 1, env.adapter.deliveredCount())

	res = env.send(t, "ivy", "The app crashes on save")
	assert.Equal(t, models.FlowNone, res.Flow)
	list, err = env.store.ListProblems(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "The app crashes on save", list[0].Description)
}

func TestSuccessFlow(t *testing.T) {
	env := newTestEnv(t, Config{})

	res := env.send(t, "gina", "We had a really good launch")
	assert.Equal(t, models.CategorySuccessStory, res.Category)
	assert.Equal(t, DefaultPrompts().SuccessStart, res.Response.Text)

	res = env.send(t, "gina", "the whole team shipped on schedule")
	assert.Equal(t, DefaultPrompts().SuccessThanks, res.Response.Text)
	assert.Equal(t, models.FlowNone, res.Flow)
}

func TestGeneralNeverEntersFlow(t *testing.T) {
	env := newTestEnv(t, Config{})

	res := env.send(t, "hank", "hello there")
	assert.Equal(t, models.CategoryGeneral, res.Category)
	assert.Equal(t, models.FlowNone, res.Flow)
	assert.Equal(t, DefaultPrompts().GeneralActions, res.Response.SuggestedActions)
}

func TestCustomPrompts(t *testing.T) {
	env := newTestEnv(t, Config{Prompts: Prompts{GeneralHelp: "hi!"}})

	res := env.send(t, "ivy", "hello")
	assert.Equal(t, "hi!", res.Response.Text)
	assert.Equal(t, DefaultPrompts().GeneralActions, res.Response.SuggestedActions)
}

func TestAuthenticationFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.adapter.rejectAll = true

	res, err := env.engine.HandleMessage(context.Background(), models.PlatformWeb, platform.RawMessage{Body: []byte(`{"user_id":"x","text":"hello"}`)})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrAuthentication)
	assert.Equal(t, DefaultPrompts().AuthFailure, res.Response.Text)
	assert.False(t, res.Delivered)
	assert.Zero(t, env.states.Len())

	fb, err := env.store.ListFeedback(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, fb)
}

func TestUnknownPlatform(t *testing.T) {
	env := newTestEnv(t, Config{})

	res, err := env.engine.HandleMessage(context.Background(), models.PlatformTeams, platform.RawMessage{})
	require.ErrorIs(t, err, ErrUnknownPlatform)
	assert.Equal(t, DefaultPrompts().HandlerFailure, res.Response.Text)
}

func TestUnknownFlowResetsState(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.NoError(t, env.states.Update("jack", func(st *conversation.State) error {
		st.Enter(models.Flow("onboarding"))
		return nil
	}))

	res := env.send(t, "jack", "hello")
	assert.ErrorIs(t, res.Err, ErrUnknownFlow)
	assert.Equal(t, DefaultPrompts().HandlerFailure, res.Response.Text)
	assert.Equal(t, models.FlowNone, res.Flow)
}

func TestFeedbackFailureStillResponds(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.failFeedback = true

	res := env.send(t, "kate", "hello")
	assert.ErrorIs(t, res.Err, ErrPersistence)
	assert.Equal(t, DefaultPrompts().GeneralHelp, res.Response.Text)
	assert.True(t, res.Delivered)
}

func TestDeliveryRetriesTransientErrors(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.adapter.failSends = 1
	env.adapter.sendErr = errors.New("connection timeout")

	res := env.send(t, "liam", "hello")
	assert.NoError(t, res.Err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 2, env.adapter.sends)
}

func TestDeliveryFailureIsReported(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.adapter.failSends = 10
	env.adapter.sendErr = retry.Permanent(errors.New("channel_not_found"))

	res := env.send(t, "mia", "hello")
	assert.ErrorIs(t, res.Err, ErrDelivery)
	assert.False(t, res.Delivered)
	assert.Equal(t, 1, env.adapter.sends)
	assert.Equal(t, DefaultPrompts().GeneralHelp, res.Response.Text)
}

func TestDispatcherStoppedReturnsError(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.exec.Stop()

	res, err := env.engine.HandleMessage(context.Background(), models.PlatformWeb, platform.RawMessage{Body: []byte(`{"user_id":"ned","text":"hello"}`)})
	require.ErrorIs(t, err, dispatch.ErrExecutorClosed)
	assert.Equal(t, DefaultPrompts().HandlerFailure, res.Response.Text)
}

func TestMessagesFromOneUserAreHandledInOrder(t *testing.T) {
	env := newTestEnv(t, Config{})

	// Interleave many users; each user's flow must see its own messages in order.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		user := fmt.Sprintf("user-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := env.send(t, user, "log my time")
			assert.Equal(t, models.FlowTimeAllocation, res.Flow)
			res = env.send(t, user, "30% email, 70% coding")
			assert.Equal(t, models.FlowNone, res.Flow)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, env.store.allocationCalls.Load())
	all, err := env.store.ListAllocations(context.Background(), "")
	require.NoError(t, err)
	for _, a := range all {
		assert.True(t, strings.HasPrefix(a.UserID, "user-"))
		assert.Equal(t, map[string]float64{"email": 30, "coding": 70}, a.Activities)
	}
}
