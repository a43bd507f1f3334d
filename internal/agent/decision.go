package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/logger"
)

// DecisionPolicy holds the gating thresholds.
type DecisionPolicy struct {
	MinAbsence          time.Duration
	DailyLimit          int
	UrgencyThreshold    float64
	ConfidenceThreshold float64
	HumanPhrases        []string
}

func DefaultDecisionPolicy() DecisionPolicy {
	return DecisionPolicy{
		MinAbsence:          config.MustDuration(config.DefaultDecisionMinAbsence),
		DailyLimit:          config.DefaultDecisionDailyLimit,
		UrgencyThreshold:    config.DefaultDecisionUrgencyThreshold,
		ConfidenceThreshold: config.DefaultDecisionConfidenceThreshold,
		HumanPhrases:        append([]string(nil), config.DefaultHumanPhrases...),
	}
}

func DecisionPolicyFromConfig(cfg config.DecisionConfig) (DecisionPolicy, error) {
	minAbsence, err := config.DurationOrDefault(cfg.MinAbsence, config.DefaultDecisionMinAbsence)
	if err != nil {
		return DecisionPolicy{}, err
	}
	phrases := cfg.HumanPhrases
	if len(phrases) == 0 {
		phrases = config.DefaultHumanPhrases
	}
	return DecisionPolicy{
		MinAbsence:          minAbsence,
		DailyLimit:          cfg.DailyLimit,
		UrgencyThreshold:    cfg.UrgencyThreshold,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		HumanPhrases:        append([]string(nil), phrases...),
	}, nil
}

// MatchesHumanOverride reports whether the message asks for a person instead of a bot.
func MatchesHumanOverride(message string, phrases []string) bool {
	lower := strings.ToLower(normalizeApostrophes(message))
	for _, phrase := range phrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" && strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ActivitySource supplies the two history-backed factors.
type ActivitySource interface {
	Absence(ctx context.Context, responderID string) (time.Duration, bool, error)
	DailyCount(ctx context.Context, responderID string) (int, error)
}

// PairActivity is implemented by activity sources that remember per-pair replies.
type PairActivity interface {
	LastAutoResponse(ctx context.Context, responderID, requesterID string) (time.Time, bool)
}

type DecisionInput struct {
	ResponderID string
	RequesterID string
	Message     string
	Profile     StyleProfile
	Assessment  ContextAssessment
	Candidates  []ResponseCandidate
}

// DecisionMaker evaluates the five factors in a single pass.
type DecisionMaker struct {
	policy   DecisionPolicy
	activity ActivitySource
}

func NewDecisionMaker(policy DecisionPolicy, activity ActivitySource) *DecisionMaker {
	return &DecisionMaker{policy: policy, activity: activity}
}

func (d *DecisionMaker) Policy() DecisionPolicy {
	return d.policy
}

// AbsenceSufficient is factor one. A responder with no recorded activity is absent.
func (d *DecisionMaker) AbsenceSufficient(ctx context.Context, responderID string) (bool, error) {
	absence, ok, err := d.activity.Absence(ctx, responderID)
	if err != nil {
		return false, err
	}
	return !ok || absence >= d.policy.MinAbsence, nil
}

// DailyLimitOK is factor two.
func (d *DecisionMaker) DailyLimitOK(ctx context.Context, responderID string) (bool, error) {
	n, err := d.activity.DailyCount(ctx, responderID)
	if err != nil {
		return false, err
	}
	return n < d.policy.DailyLimit, nil
}

// NoHumanOverride is factor five.
func (d *DecisionMaker) NoHumanOverride(message string) bool {
	return !MatchesHumanOverride(message, d.policy.HumanPhrases)
}

// Decide returns an error only when the activity lookups fail.
func (d *DecisionMaker) Decide(ctx context.Context, in DecisionInput) (Decision, error) {
	absence, err := d.AbsenceSufficient(ctx, in.ResponderID)
	if err != nil {
		return Decision{}, fmt.Errorf("absence factor: %w", err)
	}
	dailyOK, err := d.DailyLimitOK(ctx, in.ResponderID)
	if err != nil {
		return Decision{}, fmt.Errorf("daily limit factor: %w", err)
	}

	factors := map[string]bool{
		FactorMentorAbsence:   absence,
		FactorDailyLimit:      dailyOK,
		FactorUrgency:         in.Assessment.UrgencyLevel >= d.policy.UrgencyThreshold,
		FactorStyleConfidence: in.Profile.ConfidenceScore >= d.policy.ConfidenceThreshold,
		FactorNoHumanOverride: d.NoHumanOverride(in.Message),
	}

	decision := Decision{
		Reason:          FirstFailingReason(factors),
		ConfidenceScore: in.Profile.ConfidenceScore,
		Factors:         factors,
	}

	if pair, ok := d.activity.(PairActivity); ok {
		if at, ok := pair.LastAutoResponse(ctx, in.ResponderID, in.RequesterID); ok {
			decision.LastAutoResponseAt = &at
		}
	}

	if decision.Reason == "" {
		best := bestCandidate(in.Candidates)
		if best == nil {
			decision.Reason = ReasonNoCandidateAvailable
		} else {
			decision.ShouldRespond = true
			decision.Reason = ReasonAutoResponseGenerated
			decision.Selected = best
			decision.ConfidenceScore = (in.Profile.ConfidenceScore + best.GenerationConfidence) / 2
		}
	}

	logger.From(ctx).Debug("Decision evaluated",
		"stage", StageDecision,
		"should_respond", decision.ShouldRespond,
		"reason", decision.Reason,
	)
	return decision, nil
}

var factorOrder = []struct {
	factor string
	reason string
}{
	{FactorMentorAbsence, ReasonMentorRecentlyActive},
	{FactorDailyLimit, ReasonDailyLimitReached},
	{FactorUrgency, ReasonUrgencyTooLow},
	{FactorStyleConfidence, ReasonStyleConfidenceTooLow},
	{FactorNoHumanOverride, ReasonHumanInteractionRequested},
}

// FirstFailingReason returns the reason for the first false factor in precedence
// order, or "" when every factor holds. Missing factors are skipped.
func FirstFailingReason(factors map[string]bool) string {
	for _, f := range factorOrder {
		if ok, present := factors[f.factor]; present && !ok {
			return f.reason
		}
	}
	return ""
}

func bestCandidate(candidates []ResponseCandidate) *ResponseCandidate {
	var best *ResponseCandidate
	for i := range candidates {
		c := candidates[i]
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		if best == nil || c.GenerationConfidence > best.GenerationConfidence {
			best = &c
		}
	}
	return best
}
