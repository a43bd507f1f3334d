package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xandylearning/zulip-sub000/internal/agent"
	"github.com/xandylearning/zulip-sub000/internal/cache"
	"github.com/xandylearning/zulip-sub000/internal/completion"
	"github.com/xandylearning/zulip-sub000/internal/concurrency"
	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/history"
	"github.com/xandylearning/zulip-sub000/internal/notify"
)

type stubStyle struct {
	profile agent.StyleProfile
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubStyle) Analyze(context.Context, string) (agent.StyleProfile, []agent.StageError) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.profile, nil
}

type stubContext struct {
	assessment agent.ContextAssessment
}

func (s *stubContext) Assess(context.Context, string, string, string) (agent.ContextAssessment, []agent.StageError) {
	return s.assessment, nil
}

type stubResponse struct {
	candidates []agent.ResponseCandidate
	calls      atomic.Int32
}

func (s *stubResponse) Generate(context.Context, agent.StyleProfile, agent.ContextAssessment, string) []agent.ResponseCandidate {
	s.calls.Add(1)
	return s.candidates
}

type stubSuggestion struct {
	delay time.Duration
}

func (s *stubSuggestion) Suggest(_ context.Context, assessment agent.ContextAssessment, message string) []agent.Suggestion {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return agent.RuleSuggestions(assessment, message)
}

// stubDecision keeps the real factor logic but lets a test replace Decide.
type stubDecision struct {
	*agent.DecisionMaker
	decide func(ctx context.Context, in agent.DecisionInput) (agent.Decision, error)
}

func (s *stubDecision) Decide(ctx context.Context, in agent.DecisionInput) (agent.Decision, error) {
	if s.decide != nil {
		return s.decide(ctx, in)
	}
	return s.DecisionMaker.Decide(ctx, in)
}

type fakeActivity struct {
	absence time.Duration
	known   bool
	count   int
	err     error
}

func (f fakeActivity) Absence(context.Context, string) (time.Duration, bool, error) {
	return f.absence, f.known, f.err
}

func (f fakeActivity) DailyCount(context.Context, string) (int, error) {
	return f.count, f.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []history.AutoResponse
	err     error
}

func (f *fakeRecorder) RecordAutoResponse(_ context.Context, rec history.AutoResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, evt notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *recordingNotifier) Types() []notify.Type {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Type, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	style      *stubStyle
	context    *stubContext
	response   *stubResponse
	suggestion *stubSuggestion
	decision   *stubDecision
	recorder   *fakeRecorder
	notifier   *recordingNotifier
	timeouts   Timeouts
}

// newHarness is wired for the happy path: absent 300 minutes, nothing sent today,
// urgency 0.9, style confidence 0.8, one good candidate.
func newHarness() *harness {
	return &harness{
		style:   &stubStyle{profile: agent.StyleProfile{ConfidenceScore: 0.8, AnalysisStatus: agent.StatusFull}},
		context: &stubContext{assessment: agent.ContextAssessment{UrgencyLevel: 0.9, Sentiment: "negative", AnalysisStatus: agent.StatusFull}},
		response: &stubResponse{candidates: []agent.ResponseCandidate{
			{Text: "Hang in there, I'll follow up personally tonight.", ToneVariant: agent.ToneSupportive, GenerationConfidence: 0.7},
		}},
		suggestion: &stubSuggestion{},
		decision: &stubDecision{DecisionMaker: agent.NewDecisionMaker(agent.DefaultDecisionPolicy(),
			fakeActivity{absence: 300 * time.Minute, known: true, count: 0})},
		recorder: &fakeRecorder{},
		notifier: &recordingNotifier{},
		timeouts: Timeouts{Analysis: time.Second, Generation: time.Second, Decision: time.Second, Suggestion: time.Second},
	}
}

func (h *harness) withActivity(a fakeActivity) *harness {
	h.decision.DecisionMaker = agent.NewDecisionMaker(agent.DefaultDecisionPolicy(), a)
	return h
}

func (h *harness) pipeline() *Pipeline {
	return NewPipeline(Stages{
		Style:      h.style,
		Context:    h.context,
		Response:   h.response,
		Suggestion: h.suggestion,
		Decision:   h.decision,
		Recorder:   h.recorder,
	}, concurrency.NewPool(3), h.timeouts, h.notifier)
}

var urgentRequest = Request{
	RequesterID: "student-1",
	ResponderID: "mentor-1",
	Message:     "The deploy is broken and my demo is today, urgent!",
}

func TestRun_AbsentResponderGetsReply(t *testing.T) {
	h := newHarness()

	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.Equal(t, StatusComplete, out.Status)
	assert.True(t, out.ShouldRespond)
	assert.Equal(t, agent.ReasonAutoResponseGenerated, out.Reason)
	require.NotNil(t, out.Response)
	assert.Equal(t, h.response.candidates[0].Text, out.Response.Text)
	assert.InDelta(t, 0.75, out.ConfidenceScore, 0.0001)
	assert.NotEmpty(t, out.Suggestions)
	assert.Empty(t, out.Errors)
	assert.Len(t, out.RunID, 26)

	require.Len(t, out.MessageHistory, 2)
	assert.Equal(t, RoleRequester, out.MessageHistory[0].Role)
	assert.Equal(t, RoleResponder, out.MessageHistory[1].Role)

	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, "mentor-1", h.recorder.records[0].ResponderID)
	assert.Equal(t, "student-1", h.recorder.records[0].RequesterID)

	assert.Equal(t, []notify.Type{notify.TypeAutoResponseGenerated}, h.notifier.Types())
	assert.Equal(t, out.RunID, h.notifier.events[0].RunID)
}

func TestRun_DailyCapShortCircuits(t *testing.T) {
	h := newHarness().withActivity(fakeActivity{absence: 300 * time.Minute, known: true, count: 3})

	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.Equal(t, StatusComplete, out.Status)
	assert.False(t, out.ShouldRespond)
	assert.Equal(t, agent.ReasonDailyLimitReached, out.Reason)
	assert.Nil(t, out.Response)
	assert.Empty(t, out.Suggestions)
	assert.Equal(t, int32(0), h.style.calls.Load())
	assert.Equal(t, int32(0), h.response.calls.Load())
	assert.Empty(t, h.recorder.records)
	assert.Equal(t, []notify.Type{notify.TypeAutoResponseSkipped}, h.notifier.Types())
}

func TestRun_HumanOverrideWins(t *testing.T) {
	// Every other factor would fail too; the override is still reported.
	h := newHarness().withActivity(fakeActivity{absence: time.Minute, known: true, count: 10})
	req := urgentRequest
	req.Message = "I need to talk to a human"

	out := h.pipeline().Run(context.Background(), req)

	assert.False(t, out.ShouldRespond)
	assert.Equal(t, agent.ReasonHumanInteractionRequested, out.Reason)
	assert.False(t, out.Decision.Factors[agent.FactorNoHumanOverride])
	assert.Equal(t, int32(0), h.style.calls.Load())
}

func TestRun_RecentlyActiveShortCircuits(t *testing.T) {
	h := newHarness().withActivity(fakeActivity{absence: 30 * time.Minute, known: true})

	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.Equal(t, agent.ReasonMentorRecentlyActive, out.Reason)
	assert.Equal(t, int32(0), h.style.calls.Load())
}

func TestRun_ThinStyleExitsEarly(t *testing.T) {
	h := newHarness()
	h.style.profile = agent.StyleProfile{ConfidenceScore: 0.2, AnalysisStatus: agent.StatusFallback}

	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.Equal(t, StatusComplete, out.Status)
	assert.False(t, out.ShouldRespond)
	assert.Equal(t, agent.ReasonInsufficientStyleData, out.Reason)
	assert.InDelta(t, 0.2, out.ConfidenceScore, 0.0001)
	assert.NotEmpty(t, out.Suggestions)
	assert.Equal(t, int32(0), h.response.calls.Load())
}

func TestRun_NoCandidate(t *testing.T) {
	h := newHarness()
	h.response.candidates = nil

	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.False(t, out.ShouldRespond)
	assert.Equal(t, agent.ReasonNoCandidateAvailable, out.Reason)
	assert.Nil(t, out.Response)
	assert.Len(t, out.MessageHistory, 1)
}

func TestRun_StyleTimeoutFallsBack(t *testing.T) {
	h := newHarness()
	h.style.delay = 300 * time.Millisecond
	h.timeouts.Analysis = 20 * time.Millisecond

	start := time.Now()
	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, agent.StatusFallback, out.StyleProfile.AnalysisStatus)
	assert.InDelta(t, 0.3, out.StyleProfile.ConfidenceScore, 0.0001)
	assert.Equal(t, StatusComplete, out.Status)
	assert.False(t, out.ShouldRespond)
	assert.Equal(t, agent.ReasonStyleConfidenceTooLow, out.Reason)
	assert.Equal(t, int32(1), h.response.calls.Load())
	require.Len(t, out.Errors, 1)
	assert.Equal(t, agent.StageStyle, out.Errors[0].Stage)
	assert.Contains(t, out.Errors[0].Message, "timed out")
	assert.Equal(t, []notify.Type{notify.TypeAutoResponseSkipped, notify.TypeAgentError}, h.notifier.Types())
	assert.Equal(t, agent.StageStyle, h.notifier.events[1].Stage)
}

// Real stages against a completion service that hangs past every stage deadline.
func TestRun_HangingCompletionUsesStageFallbacks(t *testing.T) {
	now := time.Now()
	msgs := &historyStub{}
	for i := 0; i < 10; i++ {
		msgs.recent = append(msgs.recent, history.Message{
			SenderID: "mentor-1",
			Content:  "Nice work, keep going and check the docs.",
			SentAt:   now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	pipe, _ := realPipeline(msgs, blockingCompleter{}, Timeouts{
		Analysis:   500 * time.Millisecond,
		Generation: 500 * time.Millisecond,
		Decision:   300 * time.Millisecond,
		Suggestion: 300 * time.Millisecond,
	})

	out := pipe.Run(context.Background(), urgentRequest)

	assert.Equal(t, agent.StatusFallback, out.StyleProfile.AnalysisStatus)
	assert.InDelta(t, 0.3, out.StyleProfile.ConfidenceScore, 0.0001)
	assert.NotZero(t, out.StyleProfile.MessageCountAnalyzed)
	assert.Equal(t, agent.StatusFallback, out.ContextAssessment.AnalysisStatus)
	assert.Equal(t, StatusComplete, out.Status)
	assert.False(t, out.ShouldRespond)
	assert.NotEmpty(t, out.Suggestions)
	for _, e := range out.Errors {
		assert.NotContains(t, e.Message, "timed out", "stage %s", e.Stage)
	}
}

func TestWorkBudget(t *testing.T) {
	assert.Equal(t, 4500*time.Millisecond, workBudget(5*time.Second))
	assert.Equal(t, 400*time.Millisecond, workBudget(500*time.Millisecond))
	assert.Equal(t, 16*time.Millisecond, workBudget(20*time.Millisecond))
}

func TestRun_DecisionFailureMeansNoReply(t *testing.T) {
	cases := map[string]func(context.Context, agent.DecisionInput) (agent.Decision, error){
		"error": func(context.Context, agent.DecisionInput) (agent.Decision, error) {
			return agent.Decision{}, errors.New("activity store unavailable")
		},
		"panic": func(context.Context, agent.DecisionInput) (agent.Decision, error) {
			panic("nil map")
		},
		"timeout": func(context.Context, agent.DecisionInput) (agent.Decision, error) {
			time.Sleep(300 * time.Millisecond)
			return agent.Decision{ShouldRespond: true, Reason: agent.ReasonAutoResponseGenerated}, nil
		},
	}

	for name, decide := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			h.decision.decide = decide
			h.timeouts.Decision = 50 * time.Millisecond

			out := h.pipeline().Run(context.Background(), urgentRequest)

			assert.Equal(t, StatusError, out.Status)
			assert.False(t, out.ShouldRespond)
			assert.Equal(t, agent.ReasonDecisionError, out.Reason)
			assert.Nil(t, out.Response)
			assert.NotEmpty(t, out.Suggestions)
			require.Len(t, out.Errors, 1)
			assert.Equal(t, agent.StageDecision, out.Errors[0].Stage)
			assert.Empty(t, h.recorder.records)
			assert.Equal(t, []notify.Type{notify.TypeAgentError, notify.TypeAgentError}, h.notifier.Types())
		})
	}
}

func TestRun_SuggestionTimeoutIsNonFatal(t *testing.T) {
	h := newHarness()
	h.suggestion.delay = 300 * time.Millisecond
	h.timeouts.Suggestion = 20 * time.Millisecond

	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.Equal(t, StatusComplete, out.Status)
	assert.True(t, out.ShouldRespond)
	assert.Empty(t, out.Suggestions)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, agent.StageSuggestion, out.Errors[0].Stage)
}

func TestRun_PrecheckLookupFailureDoesNotSkip(t *testing.T) {
	h := newHarness().withActivity(fakeActivity{err: errors.New("redis down")})

	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.Equal(t, int32(1), h.style.calls.Load())
	assert.Equal(t, agent.ReasonDecisionError, out.Reason)
	assert.Equal(t, StatusError, out.Status)
}

func TestRun_RecordFailureIsReported(t *testing.T) {
	h := newHarness()
	h.recorder.err = errors.New("disk full")

	out := h.pipeline().Run(context.Background(), urgentRequest)

	assert.True(t, out.ShouldRespond)
	assert.Equal(t, StatusComplete, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, agent.StageFinalize, out.Errors[0].Stage)
}

func TestRun_InvalidRequest(t *testing.T) {
	h := newHarness()

	for _, req := range []Request{
		{ResponderID: "m", Message: "hi"},
		{RequesterID: "s", Message: "hi"},
		{RequesterID: "same", ResponderID: "same", Message: "hi"},
		{RequesterID: "s", ResponderID: "m", Message: "   "},
	} {
		out := h.pipeline().Run(context.Background(), req)
		assert.Equal(t, StatusError, out.Status)
		assert.Equal(t, agent.ReasonInvalidRequest, out.Reason)
		assert.False(t, out.ShouldRespond)
		require.Len(t, out.Errors, 1)
		assert.Equal(t, agent.StagePrecheck, out.Errors[0].Stage)
	}
	assert.Equal(t, int32(0), h.style.calls.Load())
}

func TestRun_RespondImpliesCandidate(t *testing.T) {
	urgencies := []float64{0.1, 0.69, 0.7, 0.95}
	confidences := []float64{0.1, 0.3, 0.6, 0.9}
	candidateSets := [][]agent.ResponseCandidate{
		nil,
		{{Text: "", GenerationConfidence: 0.9}},
		{{Text: "On it later today.", GenerationConfidence: 0.5}},
	}

	for _, u := range urgencies {
		for _, c := range confidences {
			for _, cands := range candidateSets {
				h := newHarness()
				h.context.assessment.UrgencyLevel = u
				h.style.profile.ConfidenceScore = c
				h.response.candidates = cands

				out := h.pipeline().Run(context.Background(), urgentRequest)
				if out.ShouldRespond {
					require.NotNil(t, out.Response)
					assert.NotEmpty(t, out.Response.Text)
				}
				if u < 0.7 || c < 0.6 {
					assert.False(t, out.ShouldRespond)
				}
			}
		}
	}
}

// Real stages, memory cache and a completion service that always fails.
func TestRun_DegradesWhenCompletionAlwaysFails(t *testing.T) {
	now := time.Now()
	msgs := &historyStub{}
	for i := 0; i < 10; i++ {
		msgs.recent = append(msgs.recent, history.Message{
			SenderID: "mentor-1",
			Content:  "Nice work, keep going and check the docs.",
			SentAt:   now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	pipe, notifier := realPipeline(msgs, failingCompleter{}, Timeouts{})

	out := pipe.Run(context.Background(), urgentRequest)

	assert.Contains(t, []agent.AnalysisStatus{agent.StatusFallback, agent.StatusLightweight, agent.StatusInsufficientData}, out.StyleProfile.AnalysisStatus)
	assert.Equal(t, agent.StatusFallback, out.ContextAssessment.AnalysisStatus)
	assert.NotEmpty(t, out.Suggestions)
	assert.False(t, out.ShouldRespond)
	assert.Equal(t, agent.ReasonStyleConfidenceTooLow, out.Reason)
	assert.Equal(t, StatusComplete, out.Status)
	assert.Equal(t, []notify.Type{notify.TypeAutoResponseSkipped}, notifier.Types())
}

func TestRun_SingleMessageHistory(t *testing.T) {
	msgs := &historyStub{recent: []history.Message{{SenderID: "mentor-1", Content: "hello", SentAt: time.Now().Add(-48 * time.Hour)}}}
	pipe, _ := realPipeline(msgs, failingCompleter{}, Timeouts{})

	out := pipe.Run(context.Background(), urgentRequest)

	assert.Equal(t, agent.StatusInsufficientData, out.StyleProfile.AnalysisStatus)
	assert.Zero(t, out.StyleProfile.ConfidenceScore)
	assert.False(t, out.ShouldRespond)
	assert.Equal(t, agent.ReasonInsufficientStyleData, out.Reason)
	assert.NotEmpty(t, out.Suggestions)
}

func TestWorkflowState_AdvanceIsMonotonic(t *testing.T) {
	s := newState("run", Request{}, time.Now())

	assert.True(t, s.Advance(StatusAnalyzed))
	assert.False(t, s.Advance(StatusPrechecked))
	assert.Equal(t, StatusAnalyzed, s.Status)
	assert.True(t, s.Advance(StatusError))
	assert.False(t, s.Advance(StatusComplete))
	assert.Equal(t, StatusError, s.Status)
}

func TestTimeoutsFromConfig(t *testing.T) {
	got, err := TimeoutsFromConfig(configWithTimeouts("1s", "", "", "500ms"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, got.Analysis)
	assert.Equal(t, DefaultTimeouts().Generation, got.Generation)
	assert.Equal(t, 500*time.Millisecond, got.Suggestion)

	_, err = TimeoutsFromConfig(configWithTimeouts("fast", "", "", ""))
	assert.Error(t, err)
}

func configWithTimeouts(analysis, generation, decision, suggestion string) config.OrchestratorConfig {
	return config.OrchestratorConfig{
		AnalysisTimeout:   analysis,
		GenerationTimeout: generation,
		DecisionTimeout:   decision,
		SuggestionTimeout: suggestion,
	}
}

type historyStub struct {
	recent []history.Message
}

func (h *historyStub) FetchRecentMessages(context.Context, string, int, time.Time) ([]history.Message, error) {
	return h.recent, nil
}

func (h *historyStub) FetchConversation(context.Context, string, string, int) ([]history.Message, error) {
	return nil, nil
}

func (h *historyStub) LastMessageAt(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type failingCompleter struct{}

func (failingCompleter) Complete(context.Context, completion.Request) (completion.Result, error) {
	return completion.Result{}, &completion.Error{Kind: completion.KindTransient, Attempts: 3, Err: errors.New("503 service unavailable")}
}

type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, _ completion.Request) (completion.Result, error) {
	<-ctx.Done()
	return completion.Result{}, &completion.Error{Kind: completion.KindPermanent, Attempts: 1, Err: ctx.Err()}
}

type emptyLog struct{}

func (emptyLog) RecordAutoResponse(_ context.Context, rec history.AutoResponse) (history.AutoResponse, error) {
	return rec, nil
}

func (emptyLog) CountAutoResponsesSince(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func realPipeline(msgs *historyStub, completer completion.Completer, timeouts Timeouts) (*Pipeline, *recordingNotifier) {
	store := cache.NewMemoryStore()
	activity := agent.NewActivityTracker(store, msgs, emptyLog{}, cache.TTLs{})
	notifier := &recordingNotifier{}

	pipe := NewPipeline(Stages{
		Style:      agent.NewStyleAnalyzer(store, msgs, completer, agent.StyleOptions{}),
		Context:    agent.NewContextAnalyzer(msgs, completer, agent.ContextOptions{}),
		Response:   agent.NewResponseGenerator(completer, agent.ResponseOptions{}),
		Suggestion: agent.NewSuggestionGenerator(completer, agent.SuggestionOptions{}),
		Decision:   agent.NewDecisionMaker(agent.DefaultDecisionPolicy(), activity),
		Recorder:   activity,
	}, concurrency.NewPool(3), timeouts, notifier)
	return pipe, notifier
}
