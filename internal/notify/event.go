package notify

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Type string

const (
	TypeAutoResponseGenerated Type = "auto_response_generated"
	TypeAutoResponseSkipped   Type = "auto_response_skipped"
	TypeAgentError            Type = "agent_error"
)

// Event announces the outcome of one pipeline run, or one stage failure inside it.
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	RunID           string    `json:"run_id,omitempty"`
	ResponderID     string    `json:"responder_id"`
	RequesterID     string    `json:"requester_id"`
	DecisionReason  string    `json:"decision_reason,omitempty"`
	ConfidenceScore float64   `json:"confidence_score"`
	Stage           string    `json:"stage,omitempty"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewEvent stamps a new event with a time-ordered ID.
func NewEvent(typ Type, at time.Time) Event {
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(at), rand.Reader).String(),
		Type:      typ,
		Timestamp: at,
	}
}

// Summary renders the event as one line of chat text.
func (e Event) Summary() string {
	var b strings.Builder
	switch e.Type {
	case TypeAutoResponseGenerated:
		fmt.Fprintf(&b, "Auto-response sent for %s to %s (confidence %.2f)", e.ResponderID, e.RequesterID, e.ConfidenceScore)
	case TypeAutoResponseSkipped:
		fmt.Fprintf(&b, "No auto-response for %s to %s: %s", e.ResponderID, e.RequesterID, e.DecisionReason)
	default:
		fmt.Fprintf(&b, "Auto-response pipeline error for %s", e.ResponderID)
		if e.Stage != "" {
			fmt.Fprintf(&b, " in %s", e.Stage)
		}
		if e.Message != "" {
			b.WriteString(": " + e.Message)
		} else if e.DecisionReason != "" {
			b.WriteString(": " + e.DecisionReason)
		}
	}
	if e.RunID != "" {
		fmt.Fprintf(&b, " [run %s]", e.RunID)
	}
	return b.String()
}
