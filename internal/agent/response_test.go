package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectTone(t *testing.T) {
	assert.Equal(t, ToneSupportive, SelectTone(ContextAssessment{UrgencyLevel: 0.9}, "why?"))
	assert.Equal(t, ToneInformative, SelectTone(ContextAssessment{UrgencyLevel: 0.7}, "why?"))
	assert.Equal(t, ToneEncouraging, SelectTone(ContextAssessment{UrgencyLevel: 0.2}, "done with the task"))
}

func TestResponseGenerator_SkipsThinStyle(t *testing.T) {
	completer := &countingCompleter{text: "Hello"}
	g := NewResponseGenerator(completer, ResponseOptions{})

	got := g.Generate(context.Background(), StyleProfile{ConfidenceScore: 0.29}, ContextAssessment{UrgencyLevel: 0.9}, "help")
	assert.Empty(t, got)
	assert.Equal(t, 0, completer.Calls())
}

func TestResponseGenerator_ProducesCandidate(t *testing.T) {
	completer := &countingCompleter{text: `"Great question! I'm away right now, I'll follow up personally."`}
	g := NewResponseGenerator(completer, ResponseOptions{})
	profile := StyleProfile{
		ConfidenceScore:  0.8,
		ToneScores:       map[string]float64{"encouraging": 0.9, "casual": 0.4},
		CatchPhrases:     []string{"great question", "keep going"},
		AvgMessageLength: 60,
	}

	got := g.Generate(context.Background(), profile, ContextAssessment{UrgencyLevel: 0.9}, "Can you check my PR?")
	require.Len(t, got, 1)
	assert.Equal(t, ToneSupportive, got[0].ToneVariant)
	assert.False(t, strings.HasPrefix(got[0].Text, `"`))
	assert.Greater(t, got[0].GenerationConfidence, 0.0)
	assert.LessOrEqual(t, got[0].GenerationConfidence, 1.0)

	prompt := completer.LastRequest().Prompt
	assert.Contains(t, prompt, "supportive")
	assert.Contains(t, prompt, "casual=0.40 encouraging=0.90")
	assert.Contains(t, prompt, "great question; keep going")
}

func TestResponseGenerator_NoCandidateOnFailure(t *testing.T) {
	profile := StyleProfile{ConfidenceScore: 0.8}

	g := NewResponseGenerator(&countingCompleter{err: errCompletionDown}, ResponseOptions{})
	assert.Empty(t, g.Generate(context.Background(), profile, ContextAssessment{}, "hi"))

	g = NewResponseGenerator(&countingCompleter{text: "   "}, ResponseOptions{})
	assert.Empty(t, g.Generate(context.Background(), profile, ContextAssessment{}, "hi"))
}

func TestGenerationConfidence(t *testing.T) {
	// No style detail: both components default to 0.5.
	assert.InDelta(t, 0.5, GenerationConfidence(StyleProfile{}, "anything"), 0.0001)

	profile := StyleProfile{AvgMessageLength: 10, CatchPhrases: []string{"cheers", "nice one"}}
	// Exact length, one of two phrases.
	assert.InDelta(t, 0.6+0.4*0.5, GenerationConfidence(profile, "Cheers pal"), 0.0001)
	// Triple the length, no phrases.
	assert.InDelta(t, 0.0, GenerationConfidence(profile, strings.Repeat("x", 30)), 0.0001)
}
