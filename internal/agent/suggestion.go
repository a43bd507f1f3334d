package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/xandylearning/zulip-sub000/internal/completion"
	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/logger"
)

const (
	CategoryAnswer      = "answer"
	CategoryExplain     = "explain"
	CategorySupport     = "support"
	CategoryAcknowledge = "acknowledge"
	CategoryAction      = "action"

	modelSuggestionUrgency = 0.5
	maxSuggestions         = 3
)

var confusionKeywords = []string{"confused", "confusing", "don't understand", "do not understand", "lost", "unclear", "makes no sense", "doesn't make sense"}

type SuggestionOptions struct {
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

func DefaultSuggestionOptions() SuggestionOptions {
	return SuggestionOptions{
		MaxTokens:    config.DefaultMaxTokensSuggestions,
		Temperature:  config.DefaultCompletionTemperature,
		SystemPrompt: config.DefaultSuggestionSystemPrompt,
	}
}

// SuggestionGenerator proposes next actions for the human responder.
type SuggestionGenerator struct {
	completer completion.Completer
	opts      SuggestionOptions
}

func NewSuggestionGenerator(completer completion.Completer, opts SuggestionOptions) *SuggestionGenerator {
	defaults := DefaultSuggestionOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaults.SystemPrompt
	}
	return &SuggestionGenerator{completer: completer, opts: opts}
}

// PriorityFor maps an urgency score to a suggestion priority.
func PriorityFor(urgency float64) Priority {
	switch {
	case urgency >= 0.7:
		return PriorityHigh
	case urgency >= 0.4:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// RuleSuggestions builds suggestions without a model call. It always returns at least one.
func RuleSuggestions(assessment ContextAssessment, message string) []Suggestion {
	priority := PriorityFor(assessment.UrgencyLevel)
	m := newKeywordMatcher(message)

	var out []Suggestion
	if strings.Contains(message, "?") || m.any(questionKeywords) {
		out = append(out, Suggestion{Text: "Answer the question directly", Priority: priority, Category: CategoryAnswer})
	}
	if m.any(confusionKeywords) {
		out = append(out, Suggestion{Text: "Break down the concept step by step", Priority: priority, Category: CategoryExplain})
	}
	if m.any(helpKeywords) {
		out = append(out, Suggestion{Text: "Offer to walk through it together", Priority: priority, Category: CategorySupport})
	}
	if len(out) == 0 {
		out = append(out, Suggestion{Text: "Acknowledge the message and follow up soon", Priority: priority, Category: CategoryAcknowledge})
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

// Suggest returns between one and three suggestions.
func (g *SuggestionGenerator) Suggest(ctx context.Context, assessment ContextAssessment, message string) []Suggestion {
	log := logger.From(ctx).With("stage", StageSuggestion)

	if assessment.UrgencyLevel < modelSuggestionUrgency {
		return RuleSuggestions(assessment, message)
	}

	res, err := g.completer.Complete(ctx, completion.Request{
		System:      g.opts.SystemPrompt,
		Prompt:      buildSuggestionPrompt(assessment, message),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
		JSON:        true,
	})
	if err != nil {
		log.Warn("Suggestion completion failed, using rules", "error", err)
		return RuleSuggestions(assessment, message)
	}

	texts := parseSuggestionTexts(res.Text)
	if len(texts) == 0 {
		log.Warn("Suggestion output was not usable, using rules")
		return RuleSuggestions(assessment, message)
	}

	priority := PriorityFor(assessment.UrgencyLevel)
	out := make([]Suggestion, 0, maxSuggestions)
	for _, text := range texts {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, Suggestion{Text: text, Priority: priority, Category: categorize(text)})
	}
	return out
}

type suggestionItem struct {
	Text       string `json:"text"`
	Suggestion string `json:"suggestion"`
}

// parseSuggestionTexts accepts a JSON array of strings or objects, an object with
// a "suggestions" field, or plain lines.
func parseSuggestionTexts(raw string) []string {
	var strs []string
	if _, ok := decodeModelJSON(raw, '[', ']', &strs); ok {
		if out := compactTexts(strs); len(out) > 0 {
			return out
		}
	}

	var items []suggestionItem
	if _, ok := decodeModelJSON(raw, '[', ']', &items); ok {
		if out := compactTexts(itemTexts(items)); len(out) > 0 {
			return out
		}
	}

	var wrapped struct {
		Suggestions []any `json:"suggestions"`
	}
	if _, ok := decodeModelJSON(raw, '{', '}', &wrapped); ok && len(wrapped.Suggestions) > 0 {
		texts := make([]string, 0, len(wrapped.Suggestions))
		for _, s := range wrapped.Suggestions {
			switch v := s.(type) {
			case string:
				texts = append(texts, v)
			case map[string]any:
				if t, ok := v["text"].(string); ok {
					texts = append(texts, t)
				} else if t, ok := v["suggestion"].(string); ok {
					texts = append(texts, t)
				}
			}
		}
		if out := compactTexts(texts); len(out) > 0 {
			return out
		}
	}

	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return nil
	}
	return compactTexts(splitListLines(raw))
}

func itemTexts(items []suggestionItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Text != "" {
			out = append(out, it.Text)
		} else {
			out = append(out, it.Suggestion)
		}
	}
	return out
}

func compactTexts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func categorize(text string) string {
	m := newKeywordMatcher(text)
	switch {
	case m.any([]string{"answer", "reply", "respond"}):
		return CategoryAnswer
	case m.any([]string{"explain", "break down", "clarify", "example"}):
		return CategoryExplain
	case m.any([]string{"walk through", "pair", "call", "meet", "together"}):
		return CategorySupport
	case m.any([]string{"acknowledge", "thank", "let them know"}):
		return CategoryAcknowledge
	default:
		return CategoryAction
	}
}

func buildSuggestionPrompt(assessment ContextAssessment, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Urgency: %.2f, sentiment: %s\n", assessment.UrgencyLevel, assessment.Sentiment)
	fmt.Fprintf(&b, "Message:\n%s\n\n", message)
	b.WriteString("Give exactly 3 short, concrete suggestions for how to respond. Return only a JSON object of the form {\"suggestions\": [\"...\", \"...\", \"...\"]}.")
	return b.String()
}
