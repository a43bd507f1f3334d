package agent

import (
	"context"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/history"
)

// AnalysisStatus records which path produced a profile or assessment.
type AnalysisStatus string

const (
	StatusCached           AnalysisStatus = "cached"
	StatusQuick            AnalysisStatus = "quick"
	StatusLightweight      AnalysisStatus = "lightweight"
	StatusFull             AnalysisStatus = "full"
	StatusFallback         AnalysisStatus = "fallback"
	StatusError            AnalysisStatus = "error"
	StatusInsufficientData AnalysisStatus = "insufficient_data"
	StatusQuickAssessment  AnalysisStatus = "quick_assessment"
)

// StyleProfile describes how a responder writes.
type StyleProfile struct {
	ToneScores           map[string]float64 `json:"tone_scores"`
	ConfidenceScore      float64            `json:"confidence_score"`
	MessageCountAnalyzed int                `json:"message_count_analyzed"`
	AnalysisStatus       AnalysisStatus     `json:"analysis_status"`
	LastUpdated          time.Time          `json:"last_updated"`
	CatchPhrases         []string           `json:"catch_phrases,omitempty"`
	AvgMessageLength     float64            `json:"avg_message_length"`
	Formality            string             `json:"formality,omitempty"`
}

// ContextAssessment describes how pressing the incoming message is.
type ContextAssessment struct {
	UrgencyLevel   float64        `json:"urgency_level"`
	Sentiment      string         `json:"sentiment"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	Indicators     []string       `json:"indicators,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type ResponseCandidate struct {
	Text                 string     `json:"text"`
	ToneVariant          string     `json:"tone_variant"`
	GenerationConfidence float64    `json:"generation_confidence"`
	TokenUsage           TokenUsage `json:"token_usage"`
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Suggestion struct {
	Text     string   `json:"text"`
	Priority Priority `json:"priority"`
	Category string   `json:"category"`
}

// Decision factor keys, in evaluation order.
const (
	FactorMentorAbsence   = "mentor_absence_sufficient"
	FactorDailyLimit      = "daily_limit_ok"
	FactorUrgency         = "urgency_sufficient"
	FactorStyleConfidence = "style_confidence_sufficient"
	FactorNoHumanOverride = "no_human_override"
)

// Decision reasons.
const (
	ReasonAutoResponseGenerated     = "auto_response_generated"
	ReasonNoCandidateAvailable      = "no_candidate_available"
	ReasonMentorRecentlyActive      = "mentor_recently_active"
	ReasonDailyLimitReached         = "daily_limit_reached"
	ReasonUrgencyTooLow             = "urgency_too_low"
	ReasonStyleConfidenceTooLow     = "style_confidence_too_low"
	ReasonHumanInteractionRequested = "human_interaction_requested"
	ReasonInsufficientStyleData     = "insufficient_style_data"
	ReasonDecisionError             = "decision_error"
	ReasonInvalidRequest            = "invalid_request"
)

type Decision struct {
	ShouldRespond   bool               `json:"should_respond"`
	Reason          string             `json:"reason"`
	ConfidenceScore float64            `json:"confidence_score"`
	Factors         map[string]bool    `json:"factors"`
	Selected        *ResponseCandidate `json:"selected,omitempty"`

	// LastAutoResponseAt is set when this pair received an auto-reply moments ago.
	LastAutoResponseAt *time.Time `json:"last_auto_response_at,omitempty"`
}

// StageError is one failure recorded against a pipeline stage.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

const (
	StageStyle      = "style_analysis"
	StageContext    = "context_analysis"
	StageResponse   = "response_generation"
	StageSuggestion = "suggestion"
	StageDecision   = "decision"
	StagePrecheck   = "precheck"
	StageFinalize   = "finalize"
)

// MessageSource is the read side of the message history.
type MessageSource interface {
	FetchRecentMessages(ctx context.Context, userID string, limit int, since time.Time) ([]history.Message, error)
	FetchConversation(ctx context.Context, a, b string, limit int) ([]history.Message, error)
	LastMessageAt(ctx context.Context, userID string) (time.Time, bool, error)
}

// InteractionLog records auto-responses so the daily cap survives cache loss.
type InteractionLog interface {
	RecordAutoResponse(ctx context.Context, rec history.AutoResponse) (history.AutoResponse, error)
	CountAutoResponsesSince(ctx context.Context, responderID string, since time.Time) (int, error)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
