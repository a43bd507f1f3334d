package orchestrator

import (
	"time"

	"github.com/xandylearning/zulip-sub000/internal/agent"
)

// Status tracks pipeline progress. It only moves forward.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPrechecked Status = "prechecked"
	StatusAnalyzed   Status = "analyzed"
	StatusGenerated  Status = "generated"
	StatusDecided    Status = "decided"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusPrechecked: 1,
	StatusAnalyzed:   2,
	StatusGenerated:  3,
	StatusDecided:    4,
	StatusComplete:   5,
	StatusError:      5,
}

func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

const (
	RoleRequester = "requester"
	RoleResponder = "responder"
)

// ChatMessage is one entry of the run's message history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowState belongs to exactly one run and is only touched by the goroutine
// driving it; stage goroutines hand results back over channels.
type WorkflowState struct {
	RunID             string                    `json:"run_id"`
	RequesterID       string                    `json:"requester_id"`
	ResponderID       string                    `json:"responder_id"`
	TenantID          string                    `json:"tenant_id,omitempty"`
	Message           string                    `json:"message"`
	MessageHistory    []ChatMessage             `json:"message_history"`
	StyleProfile      agent.StyleProfile        `json:"style_profile"`
	ContextAssessment agent.ContextAssessment   `json:"context_assessment"`
	Candidates        []agent.ResponseCandidate `json:"candidates,omitempty"`
	Suggestions       []agent.Suggestion        `json:"suggestions"`
	Decision          agent.Decision            `json:"decision"`
	Errors            []agent.StageError        `json:"errors"`
	Status            Status                    `json:"status"`
	StartedAt         time.Time                 `json:"started_at"`
	FinishedAt        time.Time                 `json:"finished_at,omitempty"`
}

func newState(runID string, req Request, now time.Time) *WorkflowState {
	return &WorkflowState{
		RunID:       runID,
		RequesterID: req.RequesterID,
		ResponderID: req.ResponderID,
		TenantID:    req.TenantID,
		Message:     req.Message,
		Suggestions: []agent.Suggestion{},
		Errors:      []agent.StageError{},
		Status:      StatusPending,
		StartedAt:   now,
	}
}

// Advance moves to next if that is a step forward. Terminal states never change.
func (s *WorkflowState) Advance(next Status) bool {
	if s.Status.Terminal() || statusRank[next] <= statusRank[s.Status] {
		return false
	}
	s.Status = next
	return true
}

func (s *WorkflowState) AddError(stage, message string) {
	s.Errors = append(s.Errors, agent.StageError{Stage: stage, Message: message})
}

func (s *WorkflowState) AddErrors(errs []agent.StageError) {
	s.Errors = append(s.Errors, errs...)
}

func (s *WorkflowState) AppendMessage(role, content string, at time.Time) {
	s.MessageHistory = append(s.MessageHistory, ChatMessage{Role: role, Content: content, Timestamp: at})
}

// Outcome is what a run hands back to its caller.
type Outcome struct {
	RunID             string                   `json:"run_id"`
	RequesterID       string                   `json:"requester_id"`
	ResponderID       string                   `json:"responder_id"`
	TenantID          string                   `json:"tenant_id,omitempty"`
	Status            Status                   `json:"status"`
	ShouldRespond     bool                     `json:"should_respond"`
	Reason            string                   `json:"reason"`
	ConfidenceScore   float64                  `json:"confidence_score"`
	Response          *agent.ResponseCandidate `json:"response,omitempty"`
	StyleProfile      agent.StyleProfile       `json:"style_profile"`
	ContextAssessment agent.ContextAssessment  `json:"context_assessment"`
	Suggestions       []agent.Suggestion       `json:"suggestions"`
	Decision          agent.Decision           `json:"decision"`
	MessageHistory    []ChatMessage            `json:"message_history"`
	Errors            []agent.StageError       `json:"errors"`
	Duration          time.Duration            `json:"duration"`
}

func (s *WorkflowState) Outcome() Outcome {
	out := Outcome{
		RunID:             s.RunID,
		RequesterID:       s.RequesterID,
		ResponderID:       s.ResponderID,
		TenantID:          s.TenantID,
		Status:            s.Status,
		ShouldRespond:     s.Decision.ShouldRespond,
		Reason:            s.Decision.Reason,
		ConfidenceScore:   s.Decision.ConfidenceScore,
		StyleProfile:      s.StyleProfile,
		ContextAssessment: s.ContextAssessment,
		Suggestions:       append([]agent.Suggestion{}, s.Suggestions...),
		Decision:          s.Decision,
		MessageHistory:    append([]ChatMessage(nil), s.MessageHistory...),
		Errors:            append([]agent.StageError{}, s.Errors...),
	}
	if s.Decision.ShouldRespond && s.Decision.Selected != nil {
		selected := *s.Decision.Selected
		out.Response = &selected
	}
	if !s.FinishedAt.IsZero() {
		out.Duration = s.FinishedAt.Sub(s.StartedAt)
	}
	return out
}
