// Package conversation keeps the per-user flow state the chatbot engine
// consults between messages.
package conversation

import (
	"time"

	"github.com/timeprofiler/pkg/models"
)

// State is one user's position in a multi-turn flow.
type State struct {
	UserID       string         `json:"user_id"`
	CurrentFlow  models.Flow    `json:"current_flow"`
	Context      map[string]any `json:"context,omitempty"`
	LastActivity time.Time      `json:"last_activity"`
}

// NewState returns a fresh state with no active flow.
func NewState(userID string, now time.Time) *State {
	return &State{
		UserID:       userID,
		Context:      make(map[string]any),
		LastActivity: now,
	}
}

// Enter switches to flow and clears any context left from a previous flow.
func (s *State) Enter(flow models.Flow) {
	s.CurrentFlow = flow
	clear(s.Context)
}

// Reset leaves the current flow.
func (s *State) Reset() {
	s.Enter(models.FlowNone)
}

// InFlow reports whether a flow is active.
func (s *State) InFlow() bool {
	return s.CurrentFlow != models.FlowNone
}

func (s *State) SetContext(key string, value any) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = value
}

func (s *State) GetContext(key string) (any, bool) {
	v, ok := s.Context[key]
	return v, ok
}

// ContextInt returns an integer context value, or 0.
func (s *State) ContextInt(key string) int {
	v, _ := s.Context[key].(int)
	return v
}

// Clone returns a copy whose context map is not shared.
func (s *State) Clone() *State {
	cp := *s
	cp.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		cp.Context[k] = v
	}
	return &cp
}
