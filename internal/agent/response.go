package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xandylearning/zulip-sub000/internal/completion"
	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/logger"
)

const (
	ToneSupportive  = "supportive"
	ToneInformative = "informative"
	ToneEncouraging = "encouraging"

	minGenerationConfidence = 0.3
	supportiveUrgency       = 0.7
)

type ResponseOptions struct {
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

func DefaultResponseOptions() ResponseOptions {
	return ResponseOptions{
		MaxTokens:    config.DefaultMaxTokensResponse,
		Temperature:  config.DefaultCompletionTemperature,
		SystemPrompt: config.DefaultResponseSystemPrompt,
	}
}

// ResponseGenerator drafts one reply in the responder's voice.
type ResponseGenerator struct {
	completer completion.Completer
	opts      ResponseOptions
}

func NewResponseGenerator(completer completion.Completer, opts ResponseOptions) *ResponseGenerator {
	defaults := DefaultResponseOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaults.SystemPrompt
	}
	return &ResponseGenerator{completer: completer, opts: opts}
}

// SelectTone picks the reply tone; the first matching rule wins.
func SelectTone(assessment ContextAssessment, message string) string {
	switch {
	case assessment.UrgencyLevel > supportiveUrgency:
		return ToneSupportive
	case strings.Contains(message, "?"):
		return ToneInformative
	default:
		return ToneEncouraging
	}
}

// Generate returns at most one candidate. Thin style data or a failed call yields none.
func (g *ResponseGenerator) Generate(ctx context.Context, profile StyleProfile, assessment ContextAssessment, message string) []ResponseCandidate {
	log := logger.From(ctx).With("stage", StageResponse)

	if profile.ConfidenceScore < minGenerationConfidence {
		log.Debug("Style confidence too low to imitate", "confidence", profile.ConfidenceScore)
		return nil
	}

	tone := SelectTone(assessment, message)
	res, err := g.completer.Complete(ctx, completion.Request{
		System:      g.opts.SystemPrompt,
		Prompt:      buildResponsePrompt(profile, tone, message),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		log.Warn("Response completion failed, no candidate produced", "error", err)
		return nil
	}

	text := strings.Trim(strings.TrimSpace(res.Text), `"`)
	if text == "" {
		log.Warn("Response completion returned empty text")
		return nil
	}

	return []ResponseCandidate{{
		Text:                 text,
		ToneVariant:          tone,
		GenerationConfidence: GenerationConfidence(profile, text),
		TokenUsage: TokenUsage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
		},
	}}
}

// GenerationConfidence blends how close the reply length is to the responder's
// average with how many of their catch phrases it reuses.
func GenerationConfidence(profile StyleProfile, text string) float64 {
	lengthFit := 0.5
	if profile.AvgMessageLength > 0 {
		ratio := float64(len([]rune(text))) / profile.AvgMessageLength
		lengthFit = 1 - math.Min(1, math.Abs(ratio-1))
	}

	overlap := 0.5
	if len(profile.CatchPhrases) > 0 {
		lower := strings.ToLower(text)
		matched := 0
		for _, phrase := range profile.CatchPhrases {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				matched++
			}
		}
		overlap = float64(matched) / float64(len(profile.CatchPhrases))
	}

	return clamp01(0.6*lengthFit + 0.4*overlap)
}

func buildResponsePrompt(profile StyleProfile, tone, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s reply to the message below.\n", tone)

	if len(profile.ToneScores) > 0 {
		names := make([]string, 0, len(profile.ToneScores))
		for name := range profile.ToneScores {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("Tone scores of the person you write for:")
		for _, name := range names {
			fmt.Fprintf(&b, " %s=%.2f", name, profile.ToneScores[name])
		}
		b.WriteString("\n")
	}
	if len(profile.CatchPhrases) > 0 {
		fmt.Fprintf(&b, "Phrases they often use: %s\n", strings.Join(profile.CatchPhrases, "; "))
	}
	if profile.AvgMessageLength > 0 {
		fmt.Fprintf(&b, "Keep it close to %d characters.\n", int(profile.AvgMessageLength))
	}
	if profile.Formality != "" {
		fmt.Fprintf(&b, "Formality: %s\n", profile.Formality)
	}
	b.WriteString("Do not promise anything on their behalf. Say they will follow up personally.\n\n")
	fmt.Fprintf(&b, "Message:\n%s\n\nReply with the message text only.", message)
	return b.String()
}
