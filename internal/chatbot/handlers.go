package chatbot

import (
	"context"
	"fmt"

	"github.com/timeprofiler/internal/conversation"
	"github.com/timeprofiler/pkg/models"
)

const allocationAttemptsKey = "allocation_attempts"

// route picks the handler: an active flow wins over the message category.
func (e *Engine) route(ctx context.Context, st *conversation.State, msg models.Message) (models.Response, error) {
	if st.InFlow() {
		return e.continueFlow(ctx, st, msg)
	}

	switch msg.Category {
	case models.CategoryTimeAllocation:
		st.Enter(models.FlowTimeAllocation)
		return models.NewResponse(e.prompts.AllocationStart, models.CategoryTimeAllocation), nil
	case models.CategoryProblemReport:
		st.Enter(models.FlowProblemReport)
		return models.NewResponse(e.prompts.ProblemStart, models.CategoryProblemReport), nil
	case models.CategorySuccessStory:
		st.Enter(models.FlowSuccessStory)
		return models.NewResponse(e.prompts.SuccessStart, models.CategorySuccessStory), nil
	default:
		return e.general(), nil
	}
}

func (e *Engine) continueFlow(ctx context.Context, st *conversation.State, msg models.Message) (models.Response, error) {
	switch st.CurrentFlow {
	case models.FlowTimeAllocation:
		return e.handleAllocation(ctx, st, msg)
	case models.FlowProblemReport:
		return e.handleProblem(ctx, st, msg)
	case models.FlowSuccessStory:
		st.Reset()
		return models.NewResponse(e.prompts.SuccessThanks, models.CategorySuccessStory), nil
	default:
		flow := st.CurrentFlow
		st.Reset()
		return models.Response{}, fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
	}
}

func (e *Engine) handleAllocation(ctx context.Context, st *conversation.State, msg models.Message) (models.Response, error) {
	activities, unit := e.parser.Parse(msg.Text)
	if len(activities) == 0 {
		attempts := st.ContextInt(allocationAttemptsKey) + 1
		if limit := e.cfg.AllocationRetryLimit; limit > 0 && attempts >= limit {
			st.Reset()
			return models.NewResponse(e.prompts.AllocationGiveUp, models.CategoryTimeAllocation), nil
		}
		st.SetContext(allocationAttemptsKey, attempts)
		return models.NewResponse(e.prompts.AllocationRetry, models.CategoryTimeAllocation), nil
	}

	alloc := models.Allocation{
		UserID:     msg.UserID,
		Activities: activities,
		Unit:       unit,
		RecordedAt: msg.Timestamp,
	}
	if err := e.allocations.StoreAllocation(ctx, alloc); err != nil {
		return models.Response{}, fmt.Errorf("%w: store allocation: %w", ErrPersistence, err)
	}
	st.Reset()

	return models.NewResponse(e.prompts.AllocationSaved, models.CategoryTimeAllocation).
		WithMetadata(map[string]any{
			"activities": activities,
			"unit":       string(unit),
		}), nil
}

func (e *Engine) handleProblem(ctx context.Context, st *conversation.State, msg models.Message) (models.Response, error) {
	st.Reset()

	rec, err := e.aggregator.RecordProblem(ctx, msg.Text)
	if err != nil {
		return models.Response{}, fmt.Errorf("%w: record problem: %w", ErrPersistence, err)
	}

	text := e.prompts.ProblemRecorded
	if rec.FrequencyCount > 1 {
		text += " " + fmt.Sprintf(e.prompts.ProblemRepeated, rec.FrequencyCount)
	}
	return models.NewResponse(text, models.CategoryProblemReport).
		WithMetadata(map[string]any{
			"problem_id":      rec.ID,
			"frequency_count": rec.FrequencyCount,
		}), nil
}

func (e *Engine) general() models.Response {
	return models.NewResponse(e.prompts.GeneralHelp, models.CategoryGeneral, e.prompts.GeneralActions...)
}
