package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/cache"
	"github.com/xandylearning/zulip-sub000/internal/completion"
	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/history"
	"github.com/xandylearning/zulip-sub000/internal/logger"
)

const (
	lightweightConfidence = 0.4
	fallbackConfidence    = 0.3
	lightweightSample     = 5
	promptSample          = 10
	promptMessageChars    = 100
)

// toneKeywords drive the heuristic profiles.
var toneKeywords = map[string][]string{
	"encouraging": {"great", "good job", "well done", "keep going", "nice", "awesome", "proud", "you got this", "excellent"},
	"supportive":  {"don't worry", "happy to help", "no problem", "together", "understand", "take your time", "glad", "here for you"},
	"informative": {"because", "means", "example", "note", "basically", "specifically", "docs", "documentation", "for instance"},
	"formal":      {"regards", "please", "kindly", "thank you", "sincerely", "dear"},
	"casual":      {"hey", "lol", "yeah", "cool", "gonna", "btw", "haha", "yep"},
}

type StyleOptions struct {
	MaxMessages  int
	Lookback     time.Duration
	RecentWindow time.Duration
	MinMessages  int
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	TTLs         cache.TTLs
}

func DefaultStyleOptions() StyleOptions {
	return StyleOptions{
		MaxMessages:  config.DefaultStyleMaxMessages,
		Lookback:     config.MustDuration(config.DefaultStyleLookback),
		RecentWindow: config.MustDuration(config.DefaultStyleRecentWindow),
		MinMessages:  config.DefaultStyleMinMessages,
		MaxTokens:    config.DefaultMaxTokensStyle,
		Temperature:  config.DefaultCompletionTemperature,
		SystemPrompt: config.DefaultStyleSystemPrompt,
		TTLs:         cache.DefaultTTLs(),
	}
}

// StyleAnalyzer builds a responder's style profile, cheapest source first.
type StyleAnalyzer struct {
	cache     cache.Store
	messages  MessageSource
	completer completion.Completer
	opts      StyleOptions
	now       func() time.Time
}

func NewStyleAnalyzer(store cache.Store, messages MessageSource, completer completion.Completer, opts StyleOptions) *StyleAnalyzer {
	defaults := DefaultStyleOptions()
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaults.MaxMessages
	}
	if opts.Lookback <= 0 {
		opts.Lookback = defaults.Lookback
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = defaults.RecentWindow
	}
	if opts.MinMessages <= 0 {
		opts.MinMessages = defaults.MinMessages
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaults.SystemPrompt
	}
	if opts.TTLs == (cache.TTLs{}) {
		opts.TTLs = defaults.TTLs
	}
	return &StyleAnalyzer{
		cache:     store,
		messages:  messages,
		completer: completer,
		opts:      opts,
		now:       time.Now,
	}
}

// Analyze never fails: every path yields a usable profile.
func (a *StyleAnalyzer) Analyze(ctx context.Context, responderID string) (StyleProfile, []StageError) {
	log := logger.From(ctx).With("stage", StageStyle)

	if profile, ok := cache.GetJSON[StyleProfile](ctx, a.cache, cache.StyleFullKey(responderID)); ok {
		profile.AnalysisStatus = StatusCached
		log.Debug("Style profile served from cache")
		return profile, nil
	}
	if profile, ok := cache.GetJSON[StyleProfile](ctx, a.cache, cache.StyleQuickKey(responderID)); ok {
		profile.AnalysisStatus = StatusQuick
		log.Debug("Quick style profile served from cache")
		return profile, nil
	}

	now := a.now()
	msgs, err := a.messages.FetchRecentMessages(ctx, responderID, a.opts.MaxMessages, now.Add(-a.opts.Lookback))
	if err != nil {
		log.Error("Failed to fetch responder history", "error", err)
		return ErrorStyleProfile(now), []StageError{{Stage: StageStyle, Message: fmt.Sprintf("fetch history: %v", err)}}
	}

	if len(msgs) < a.opts.MinMessages {
		profile := StyleProfile{
			ToneScores:           map[string]float64{},
			ConfidenceScore:      0,
			MessageCountAnalyzed: len(msgs),
			AnalysisStatus:       StatusInsufficientData,
			LastUpdated:          now,
		}
		cache.SetJSON(ctx, a.cache, cache.StyleQuickKey(responderID), profile, a.opts.TTLs.StyleQuick)
		log.Info("Not enough history for a style profile", "messages", len(msgs))
		return profile, nil
	}

	if now.Sub(msgs[0].SentAt) < a.opts.RecentWindow {
		profile := heuristicProfile(msgs[:min(lightweightSample, len(msgs))], lightweightConfidence, StatusLightweight, now)
		cache.SetJSON(ctx, a.cache, cache.StyleQuickKey(responderID), profile, a.opts.TTLs.StyleQuick)
		log.Debug("Built lightweight style profile", "messages", profile.MessageCountAnalyzed)
		return profile, nil
	}

	res, err := a.completer.Complete(ctx, completion.Request{
		System:      a.opts.SystemPrompt,
		Prompt:      buildStylePrompt(msgs[:min(promptSample, len(msgs))]),
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
		JSON:        true,
	})
	if err != nil {
		log.Warn("Style completion failed, using heuristic profile", "error", err)
		return heuristicProfile(msgs[:min(lightweightSample, len(msgs))], fallbackConfidence, StatusFallback, now), nil
	}

	var payload stylePayload
	mode, ok := decodeModelJSON(res.Text, '{', '}', &payload)
	if !ok {
		log.Warn("Style output was not valid JSON, using heuristic profile")
		return heuristicProfile(msgs[:min(lightweightSample, len(msgs))], fallbackConfidence, StatusFallback, now), nil
	}
	log.Debug("Parsed style output", "parse_mode", mode)

	profile := StyleProfile{
		ToneScores:           normalizeToneScores(payload.ToneScores),
		ConfidenceScore:      StyleConfidence(msgs),
		MessageCountAnalyzed: len(msgs),
		AnalysisStatus:       StatusFull,
		LastUpdated:          now,
		CatchPhrases:         normalizePhrases(payload.CatchPhrases),
		AvgMessageLength:     averageLength(msgs),
		Formality:            strings.TrimSpace(payload.Formality),
	}
	if len(profile.ToneScores) == 0 {
		profile.ToneScores = scoreTones(msgs[:min(lightweightSample, len(msgs))])
	}
	if len(profile.CatchPhrases) == 0 {
		profile.CatchPhrases = frequentOpenings(msgs)
	}

	cache.SetJSON(ctx, a.cache, cache.StyleFullKey(responderID), profile, a.opts.TTLs.StyleFull)
	log.Info("Built full style profile", "messages", len(msgs), "confidence", profile.ConfidenceScore)
	return profile, nil
}

// ErrorStyleProfile is the profile used when analysis could not run at all.
func ErrorStyleProfile(now time.Time) StyleProfile {
	return StyleProfile{
		ToneScores:     map[string]float64{},
		AnalysisStatus: StatusError,
		LastUpdated:    now,
	}
}

// FallbackStyleProfile stands in for a style stage that did not return in time.
func FallbackStyleProfile(now time.Time) StyleProfile {
	return heuristicProfile(nil, fallbackConfidence, StatusFallback, now)
}

type stylePayload struct {
	ToneScores   map[string]float64 `json:"tone_scores"`
	CatchPhrases []string           `json:"catch_phrases"`
	Formality    string             `json:"formality"`
}

// StyleConfidence averages sample size, date spread and content volume, each capped at 1.
// msgs must be ordered newest first.
func StyleConfidence(msgs []history.Message) float64 {
	if len(msgs) == 0 {
		return 0
	}

	countRatio := math.Min(1, float64(len(msgs))/20)

	newest, oldest := msgs[0].SentAt, msgs[0].SentAt
	for _, m := range msgs {
		if m.SentAt.After(newest) {
			newest = m.SentAt
		}
		if m.SentAt.Before(oldest) {
			oldest = m.SentAt
		}
	}
	spreadDays := newest.Sub(oldest).Hours() / 24
	spreadRatio := math.Min(1, spreadDays/7)

	chars := 0
	for _, m := range msgs[:min(5, len(msgs))] {
		chars += len([]rune(m.Content))
	}
	volumeRatio := math.Min(1, float64(chars)/1000)

	return clamp01((countRatio + spreadRatio + volumeRatio) / 3)
}

func buildStylePrompt(msgs []history.Message) string {
	var b strings.Builder
	b.WriteString("Recent messages written by the person, newest first:\n")
	for i, m := range msgs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, truncateRunes(m.Content, promptMessageChars))
	}
	b.WriteString("\nReturn only a JSON object with keys: ")
	b.WriteString(`"tone_scores" (object mapping tone names such as encouraging, supportive, informative, formal, casual to scores between 0 and 1), `)
	b.WriteString(`"catch_phrases" (up to 5 short phrases they reuse), `)
	b.WriteString(`"formality" (one of formal, neutral, casual).`)
	return b.String()
}

func heuristicProfile(msgs []history.Message, confidence float64, status AnalysisStatus, now time.Time) StyleProfile {
	return StyleProfile{
		ToneScores:           scoreTones(msgs),
		ConfidenceScore:      confidence,
		MessageCountAnalyzed: len(msgs),
		AnalysisStatus:       status,
		LastUpdated:          now,
		CatchPhrases:         frequentOpenings(msgs),
		AvgMessageLength:     averageLength(msgs),
	}
}

// scoreTones is the share of messages that use each tone's keywords.
func scoreTones(msgs []history.Message) map[string]float64 {
	scores := make(map[string]float64, len(toneKeywords))
	if len(msgs) == 0 {
		return scores
	}
	for tone, keywords := range toneKeywords {
		hits := 0
		for _, m := range msgs {
			if newKeywordMatcher(m.Content).any(keywords) {
				hits++
			}
		}
		scores[tone] = clamp01(float64(hits) / float64(len(msgs)))
	}
	return scores
}

// frequentOpenings returns two-word message openings used more than once.
func frequentOpenings(msgs []history.Message) []string {
	counts := make(map[string]int)
	for _, m := range msgs {
		words := strings.Fields(strings.ToLower(m.Content))
		if len(words) < 2 {
			continue
		}
		opening := strings.Trim(words[0]+" "+words[1], ".,!?;:")
		counts[opening]++
	}

	var out []string
	for phrase, n := range counts {
		if n > 1 {
			out = append(out, phrase)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func averageLength(msgs []history.Message) float64 {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, m := range msgs {
		total += len([]rune(m.Content))
	}
	return float64(total) / float64(len(msgs))
}

func normalizeToneScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for tone, score := range in {
		name := strings.ToLower(strings.TrimSpace(tone))
		if name == "" || math.IsNaN(score) {
			continue
		}
		out[name] = clamp01(score)
	}
	return out
}

func normalizePhrases(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		clean := strings.ToLower(strings.TrimSpace(p))
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
		if len(out) == 5 {
			break
		}
	}
	return out
}
