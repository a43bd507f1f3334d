package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xandylearning/zulip-sub000/internal/cache"
	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/history"
)

func passingInput() DecisionInput {
	return DecisionInput{
		ResponderID: "mentor",
		RequesterID: "student",
		Message:     "The build is failing and the demo is in an hour",
		Profile:     StyleProfile{ConfidenceScore: 0.8},
		Assessment:  ContextAssessment{UrgencyLevel: 0.9},
		Candidates: []ResponseCandidate{
			{Text: "low", GenerationConfidence: 0.4},
			{Text: "high", GenerationConfidence: 0.7},
		},
	}
}

func TestDecide_AllFactorsPass(t *testing.T) {
	d := NewDecisionMaker(DefaultDecisionPolicy(), fakeActivity{absence: 300 * time.Minute, known: true})

	got, err := d.Decide(context.Background(), passingInput())
	require.NoError(t, err)
	assert.True(t, got.ShouldRespond)
	assert.Equal(t, ReasonAutoResponseGenerated, got.Reason)
	require.NotNil(t, got.Selected)
	assert.Equal(t, "high", got.Selected.Text)
	assert.InDelta(t, 0.75, got.ConfidenceScore, 0.0001)
	assert.Len(t, got.Factors, 5)
}

func TestDecide_FirstFailingFactorWins(t *testing.T) {
	cases := []struct {
		name     string
		activity fakeActivity
		mutate   func(*DecisionInput)
		want     string
	}{
		{"recently active", fakeActivity{absence: 10 * time.Minute, known: true, count: 9}, func(in *DecisionInput) {
			in.Assessment.UrgencyLevel = 0
		}, ReasonMentorRecentlyActive},
		{"daily cap", fakeActivity{absence: 5 * time.Hour, known: true, count: 3}, func(in *DecisionInput) {
			in.Profile.ConfidenceScore = 0
		}, ReasonDailyLimitReached},
		{"urgency", fakeActivity{known: false}, func(in *DecisionInput) {
			in.Assessment.UrgencyLevel = 0.69
			in.Message = "talk to a human"
		}, ReasonUrgencyTooLow},
		{"confidence", fakeActivity{known: false}, func(in *DecisionInput) {
			in.Profile.ConfidenceScore = 0.59
		}, ReasonStyleConfidenceTooLow},
		{"human override", fakeActivity{known: false}, func(in *DecisionInput) {
			in.Message = "Can I Speak To A Real Person please"
		}, ReasonHumanInteractionRequested},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := passingInput()
			tc.mutate(&in)

			got, err := NewDecisionMaker(DefaultDecisionPolicy(), tc.activity).Decide(context.Background(), in)
			require.NoError(t, err)
			assert.False(t, got.ShouldRespond)
			assert.Equal(t, tc.want, got.Reason)
			assert.Nil(t, got.Selected)
			assert.Equal(t, in.Profile.ConfidenceScore, got.ConfidenceScore)
		})
	}
}

func TestDecide_ReportsRecentPairReply(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 15, 0, 0, 0, time.UTC)
	tracker := NewActivityTracker(cache.NewMemoryStore(), &fakeMessages{}, &fakeInteractionLog{}, cache.TTLs{})
	tracker.now = func() time.Time { return now }
	d := NewDecisionMaker(DefaultDecisionPolicy(), tracker)

	got, err := d.Decide(ctx, passingInput())
	require.NoError(t, err)
	assert.Nil(t, got.LastAutoResponseAt)

	require.NoError(t, tracker.RecordAutoResponse(ctx, history.AutoResponse{
		ResponderID: "mentor",
		RequesterID: "student",
		CreatedAt:   now,
	}))

	got, err = d.Decide(ctx, passingInput())
	require.NoError(t, err)
	require.NotNil(t, got.LastAutoResponseAt)
	assert.True(t, got.LastAutoResponseAt.Equal(now))
	assert.Len(t, got.Factors, 5)
}

func TestDecide_NoCandidate(t *testing.T) {
	in := passingInput()
	in.Candidates = []ResponseCandidate{{Text: "  ", GenerationConfidence: 0.9}}

	got, err := NewDecisionMaker(DefaultDecisionPolicy(), fakeActivity{}).Decide(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, got.ShouldRespond)
	assert.Equal(t, ReasonNoCandidateAvailable, got.Reason)
	assert.Nil(t, got.Selected)
}

func TestDecide_ActivityFailure(t *testing.T) {
	_, err := NewDecisionMaker(DefaultDecisionPolicy(), fakeActivity{err: errors.New("cache down")}).Decide(context.Background(), passingInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absence factor")
}

func TestMatchesHumanOverride(t *testing.T) {
	assert.True(t, MatchesHumanOverride("I need to talk to a human", config.DefaultHumanPhrases))
	assert.True(t, MatchesHumanOverride("please, I WANT A HUMAN", config.DefaultHumanPhrases))
	assert.False(t, MatchesHumanOverride("what does a human-readable format look like", config.DefaultHumanPhrases))
	assert.False(t, MatchesHumanOverride("anything", nil))
}

func TestDecisionPolicyFromConfig(t *testing.T) {
	policy, err := DecisionPolicyFromConfig(config.DecisionConfig{
		MinAbsence:          "90m",
		DailyLimit:          5,
		UrgencyThreshold:    0.5,
		ConfidenceThreshold: 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, policy.MinAbsence)
	assert.Equal(t, 5, policy.DailyLimit)
	assert.Equal(t, config.DefaultHumanPhrases, policy.HumanPhrases)

	_, err = DecisionPolicyFromConfig(config.DecisionConfig{MinAbsence: "soon"})
	assert.Error(t, err)
}

func TestFirstFailingReason(t *testing.T) {
	assert.Empty(t, FirstFailingReason(map[string]bool{FactorUrgency: true}))
	assert.Equal(t, ReasonHumanInteractionRequested, FirstFailingReason(map[string]bool{
		FactorMentorAbsence:   true,
		FactorNoHumanOverride: false,
	}))
}
