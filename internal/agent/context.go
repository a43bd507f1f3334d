package agent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xandylearning/zulip-sub000/internal/completion"
	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/history"
	"github.com/xandylearning/zulip-sub000/internal/logger"
)

const (
	urgencyCritical = 0.95
	urgencyHelp     = 0.8
	urgencyManyQs   = 0.7
	urgencyQuestion = 0.6
	urgencyBaseline = 0.2

	// Scores below this never reach the model.
	quickAssessmentCutoff = 0.3
	conversationLimit     = 5
)

var (
	criticalKeywords = []string{"urgent", "emergency", "asap", "deadline today", "due today", "due tonight", "immediately", "critical", "right now"}
	helpKeywords     = []string{"stuck", "blocked", "help", "not working", "doesn't work", "can't figure", "cannot figure", "error", "broken"}
	questionKeywords = []string{"how", "what", "why", "when", "where", "which", "could you", "can you", "explain", "clarify"}

	negativeKeywords = []string{"frustrated", "annoyed", "angry", "confused", "worried", "stressed", "upset", "panic", "lost"}
	positiveKeywords = []string{"thanks", "thank you", "great", "awesome", "appreciate", "love", "excited", "glad"}
)

type ContextOptions struct {
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		MaxTokens:    config.DefaultMaxTokensContext,
		Temperature:  config.DefaultCompletionTemperature,
		SystemPrompt: config.DefaultUrgencySystemPrompt,
	}
}

// ContextAnalyzer assesses urgency and sentiment of an incoming message.
type ContextAnalyzer struct {
	messages  MessageSource
	completer completion.Completer
	opts      ContextOptions
}

func NewContextAnalyzer(messages MessageSource, completer completion.Completer, opts ContextOptions) *ContextAnalyzer {
	defaults := DefaultContextOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaults.SystemPrompt
	}
	return &ContextAnalyzer{messages: messages, completer: completer, opts: opts}
}

// QuickUrgency maps the raw text to a fixed score without any I/O.
func QuickUrgency(text string) (float64, []string) {
	m := newKeywordMatcher(text)

	if hits := m.matches(criticalKeywords); len(hits) > 0 {
		return urgencyCritical, hits
	}
	if hits := m.matches(helpKeywords); len(hits) > 0 {
		return urgencyHelp, hits
	}
	if strings.Count(text, "?") >= 3 {
		return urgencyManyQs, []string{"multiple_questions"}
	}
	if hits := m.matches(questionKeywords); len(hits) > 0 {
		return urgencyQuestion, hits
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		return urgencyQuestion, []string{"question_mark"}
	}
	return urgencyBaseline, nil
}

// Assess never fails; model problems fall back to keyword counting.
func (a *ContextAnalyzer) Assess(ctx context.Context, text, requesterID, responderID string) (ContextAssessment, []StageError) {
	log := logger.From(ctx).With("stage", StageContext)

	quick, indicators := QuickUrgency(text)
	if quick < quickAssessmentCutoff {
		log.Debug("Low urgency, skipping model assessment", "urgency", quick)
		return ContextAssessment{
			UrgencyLevel:   quick,
			Sentiment:      detectSentiment(text),
			AnalysisStatus: StatusQuickAssessment,
			Indicators:     indicators,
		}, nil
	}

	convo, err := a.messages.FetchConversation(ctx, requesterID, responderID, conversationLimit)
	if err != nil {
		log.Warn("Failed to fetch conversation, assessing message alone", "error", err)
		convo = nil
	}

	res, err := a.completer.Complete(ctx, completion.Request{
		System:      a.opts.SystemPrompt,
		Prompt:      buildUrgencyPrompt(text, convo),
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
		JSON:        true,
	})
	if err != nil {
		log.Warn("Urgency completion failed, using keyword heuristic", "error", err)
		return FallbackAssessment(text), nil
	}

	var payload urgencyPayload
	if _, ok := decodeModelJSON(res.Text, '{', '}', &payload); !ok || payload.UrgencyLevel == nil || math.IsNaN(*payload.UrgencyLevel) {
		log.Warn("Urgency output was not usable, using keyword heuristic")
		return FallbackAssessment(text), nil
	}

	sentiment := strings.ToLower(strings.TrimSpace(payload.Sentiment))
	if sentiment == "" {
		sentiment = detectSentiment(text)
	}
	if len(payload.Indicators) > 0 {
		indicators = payload.Indicators
	}

	return ContextAssessment{
		UrgencyLevel:   clamp01(*payload.UrgencyLevel),
		Sentiment:      sentiment,
		AnalysisStatus: StatusFull,
		Indicators:     indicators,
	}, nil
}

type urgencyPayload struct {
	UrgencyLevel *float64 `json:"urgency_level"`
	Sentiment    string   `json:"sentiment"`
	Reasoning    string   `json:"reasoning"`
	Indicators   []string `json:"indicators"`
}

// FallbackAssessment scores urgency by counting keyword hits on top of the quick score.
func FallbackAssessment(text string) ContextAssessment {
	quick, indicators := QuickUrgency(text)
	m := newKeywordMatcher(text)

	hits := len(m.matches(criticalKeywords)) + len(m.matches(helpKeywords)) + len(m.matches(questionKeywords))
	extra := 0
	if hits > 1 {
		extra = hits - 1
	}

	return ContextAssessment{
		UrgencyLevel:   clamp01(quick + 0.05*float64(extra)),
		Sentiment:      detectSentiment(text),
		AnalysisStatus: StatusFallback,
		Indicators:     indicators,
	}
}

func detectSentiment(text string) string {
	m := newKeywordMatcher(text)
	neg := len(m.matches(negativeKeywords))
	pos := len(m.matches(positiveKeywords))
	switch {
	case neg > pos:
		return "negative"
	case pos > neg:
		return "positive"
	default:
		return "neutral"
	}
}

func buildUrgencyPrompt(text string, convo []history.Message) string {
	var b strings.Builder
	if len(convo) > 0 {
		b.WriteString("Earlier messages between the two people, oldest first:\n")
		for i := len(convo) - 1; i >= 0; i-- {
			speaker := "them"
			if convo[i].Role == history.RoleSelf {
				speaker = "sender"
			}
			fmt.Fprintf(&b, "[%s] %s\n", speaker, truncateRunes(convo[i].Content, promptMessageChars))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "New message from the sender:\n%s\n\n", text)
	b.WriteString(`Return only a JSON object: {"urgency_level": number between 0 and 1, "sentiment": "positive" | "neutral" | "negative", "reasoning": one sentence, "indicators": [short strings]}`)
	return b.String()
}
