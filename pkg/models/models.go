package models

import (
	"time"
)

// Platform identifies the chat platform a message came from.
type Platform string

const (
	PlatformWeb   Platform = "web"
	PlatformSlack Platform = "slack"
	PlatformTeams Platform = "teams"
)

// Category is the classifier's label for a message.
type Category string

const (
	CategoryTimeAllocation Category = "time_allocation"
	CategoryProblemReport  Category = "problem_report"
	CategorySuccessStory   Category = "success_story"
	CategoryGeneral        Category = "general"
)

// Categories lists every category in classification priority order.
func Categories() []Category {
	return []Category{
		CategoryTimeAllocation,
		CategoryProblemReport,
		CategorySuccessStory,
		CategoryGeneral,
	}
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryTimeAllocation, CategoryProblemReport, CategorySuccessStory, CategoryGeneral:
		return true
	}
	return false
}

// Flow names the multi-turn conversation a user is currently inside.
// FlowNone means the user is not inside any flow.
type Flow string

const (
	FlowNone           Flow = ""
	FlowTimeAllocation Flow = Flow(CategoryTimeAllocation)
	FlowProblemReport  Flow = Flow(CategoryProblemReport)
	FlowSuccessStory   Flow = Flow(CategorySuccessStory)
)

// Message is a platform-neutral inbound chat message.
// Treat it as immutable once built; use NewMessage so metadata is copied.
type Message struct {
	UserID    string         `json:"user_id"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Platform  Platform       `json:"platform"`
	Category  Category       `json:"category,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a Message, copying metadata.
func NewMessage(userID, text string, ts time.Time, platform Platform, category Category, metadata map[string]any) Message {
	return Message{
		UserID:    userID,
		Text:      text,
		Timestamp: ts,
		Platform:  platform,
		Category:  category,
		Metadata:  copyMeta(metadata),
	}
}

// WithCategory returns a copy of m labelled with category.
func (m Message) WithCategory(category Category) Message {
	return NewMessage(m.UserID, m.Text, m.Timestamp, m.Platform, category, m.Metadata)
}

// Meta returns the metadata value stored under key.
func (m Message) Meta(key string) (any, bool) {
	v, ok := m.Metadata[key]
	return v, ok
}

// Response is what a flow handler hands back for delivery.
type Response struct {
	Text             string         `json:"text"`
	Category         Category       `json:"category,omitempty"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// NewResponse builds a Response with optional suggested actions.
func NewResponse(text string, category Category, actions ...string) Response {
	var sa []string
	if len(actions) > 0 {
		sa = append([]string(nil), actions...)
	}
	return Response{Text: text, Category: category, SuggestedActions: sa}
}

// WithMetadata returns a copy of r carrying metadata.
func (r Response) WithMetadata(metadata map[string]any) Response {
	out := r
	out.SuggestedActions = append([]string(nil), r.SuggestedActions...)
	out.Metadata = copyMeta(metadata)
	return out
}

// ProblemRecord is a cluster of similar problem reports.
type ProblemRecord struct {
	ID             string    `json:"id" db:"id"`
	Description    string    `json:"description" db:"description"`
	FrequencyCount int       `json:"frequency_count" db:"frequency_count"`
	FirstReported  time.Time `json:"first_reported" db:"first_reported"`
	LastReported   time.Time `json:"last_reported" db:"last_reported"`
}

// Clone returns an independent copy of p.
func (p *ProblemRecord) Clone() *ProblemRecord {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Feedback is the raw record persisted for every inbound message.
type Feedback struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Text      string    `json:"message_text" db:"message_text"`
	Category  Category  `json:"message_type" db:"message_type"`
	Platform  Platform  `json:"platform" db:"platform"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// AllocationUnit says whether allocation values are percentages or hours.
type AllocationUnit string

const (
	UnitPercent AllocationUnit = "percent"
	UnitHours   AllocationUnit = "hours"
)

// Allocation is a parsed time allocation for one user.
type Allocation struct {
	UserID     string             `json:"user_id" db:"user_id"`
	Activities map[string]float64 `json:"activities" db:"activities"`
	Unit       AllocationUnit     `json:"unit" db:"unit"`
	RecordedAt time.Time          `json:"recorded_at" db:"recorded_at"`
}

func copyMeta(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
