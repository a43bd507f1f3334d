package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xandylearning/zulip-sub000/internal/agent"
	"github.com/xandylearning/zulip-sub000/internal/concurrency"
	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/history"
	"github.com/xandylearning/zulip-sub000/internal/logger"
	"github.com/xandylearning/zulip-sub000/internal/notify"
)

// Scores below this are too thin to imitate.
const minStyleConfidence = 0.3

type Request struct {
	RequesterID string `json:"requester_id"`
	ResponderID string `json:"responder_id"`
	TenantID    string `json:"tenant_id,omitempty"`
	Message     string `json:"message"`
}

type StyleStage interface {
	Analyze(ctx context.Context, responderID string) (agent.StyleProfile, []agent.StageError)
}

type ContextStage interface {
	Assess(ctx context.Context, text, requesterID, responderID string) (agent.ContextAssessment, []agent.StageError)
}

type ResponseStage interface {
	Generate(ctx context.Context, profile agent.StyleProfile, assessment agent.ContextAssessment, message string) []agent.ResponseCandidate
}

type SuggestionStage interface {
	Suggest(ctx context.Context, assessment agent.ContextAssessment, message string) []agent.Suggestion
}

// DecisionStage also exposes the cheap factors used by the pre-checks.
type DecisionStage interface {
	Decide(ctx context.Context, in agent.DecisionInput) (agent.Decision, error)
	AbsenceSufficient(ctx context.Context, responderID string) (bool, error)
	DailyLimitOK(ctx context.Context, responderID string) (bool, error)
	NoHumanOverride(message string) bool
}

// InteractionRecorder persists a sent auto-response.
type InteractionRecorder interface {
	RecordAutoResponse(ctx context.Context, rec history.AutoResponse) error
}

type Stages struct {
	Style      StyleStage
	Context    ContextStage
	Response   ResponseStage
	Suggestion SuggestionStage
	Decision   DecisionStage
	Recorder   InteractionRecorder
}

type Timeouts struct {
	Analysis   time.Duration
	Generation time.Duration
	Decision   time.Duration
	Suggestion time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Analysis:   config.MustDuration(config.DefaultOrchestratorAnalysisTimeout),
		Generation: config.MustDuration(config.DefaultOrchestratorGenerationTimeout),
		Decision:   config.MustDuration(config.DefaultOrchestratorDecisionTimeout),
		Suggestion: config.MustDuration(config.DefaultOrchestratorSuggestionTimeout),
	}
}

func TimeoutsFromConfig(cfg config.OrchestratorConfig) (Timeouts, error) {
	var (
		t   Timeouts
		err error
	)
	if t.Analysis, err = config.DurationOrDefault(cfg.AnalysisTimeout, config.DefaultOrchestratorAnalysisTimeout); err != nil {
		return Timeouts{}, fmt.Errorf("parse orchestrator analysis timeout: %w", err)
	}
	if t.Generation, err = config.DurationOrDefault(cfg.GenerationTimeout, config.DefaultOrchestratorGenerationTimeout); err != nil {
		return Timeouts{}, fmt.Errorf("parse orchestrator generation timeout: %w", err)
	}
	if t.Decision, err = config.DurationOrDefault(cfg.DecisionTimeout, config.DefaultOrchestratorDecisionTimeout); err != nil {
		return Timeouts{}, fmt.Errorf("parse orchestrator decision timeout: %w", err)
	}
	if t.Suggestion, err = config.DurationOrDefault(cfg.SuggestionTimeout, config.DefaultOrchestratorSuggestionTimeout); err != nil {
		return Timeouts{}, fmt.Errorf("parse orchestrator suggestion timeout: %w", err)
	}
	return t, nil
}

// Pipeline runs the auto-response stages for one incoming message at a time.
// One Pipeline is shared by all runs; the worker pool bounds their combined fan-out.
type Pipeline struct {
	stages   Stages
	pool     *concurrency.Pool
	timeouts Timeouts
	notifier notify.Notifier
	now      func() time.Time
}

func NewPipeline(stages Stages, pool *concurrency.Pool, timeouts Timeouts, notifier notify.Notifier) *Pipeline {
	if pool == nil {
		pool = concurrency.NewPool(concurrency.DefaultPoolSize)
	}
	defaults := DefaultTimeouts()
	if timeouts.Analysis <= 0 {
		timeouts.Analysis = defaults.Analysis
	}
	if timeouts.Generation <= 0 {
		timeouts.Generation = defaults.Generation
	}
	if timeouts.Decision <= 0 {
		timeouts.Decision = defaults.Decision
	}
	if timeouts.Suggestion <= 0 {
		timeouts.Suggestion = defaults.Suggestion
	}
	return &Pipeline{
		stages:   stages,
		pool:     pool,
		timeouts: timeouts,
		notifier: notifier,
		now:      time.Now,
	}
}

// Run never fails: every degraded path still yields a complete Outcome.
func (p *Pipeline) Run(ctx context.Context, req Request) Outcome {
	start := p.now()
	runID := ulid.Make().String()
	ctx = logger.WithRunID(ctx, runID)
	ctx = logger.WithResponderID(ctx, req.ResponderID)
	log := logger.From(ctx)

	state := newState(runID, req, start)
	state.AppendMessage(RoleRequester, req.Message, start)
	log.Info("Auto-response run started", "requester_id", req.RequesterID)

	if err := validateRequest(req); err != nil {
		state.AddError(agent.StagePrecheck, err.Error())
		state.Decision = agent.Decision{Reason: agent.ReasonInvalidRequest, Factors: map[string]bool{}}
		return p.finish(ctx, state, StatusError)
	}

	if skip := p.precheck(ctx, state); skip {
		state.Advance(StatusPrechecked)
		return p.finish(ctx, state, StatusComplete)
	}
	state.Advance(StatusPrechecked)

	p.analyze(ctx, state)
	state.Advance(StatusAnalyzed)

	if state.StyleProfile.ConfidenceScore < minStyleConfidence {
		log.Info("Style data too thin, skipping generation", "confidence", state.StyleProfile.ConfidenceScore)
		state.Decision = agent.Decision{
			Reason:          agent.ReasonInsufficientStyleData,
			ConfidenceScore: state.StyleProfile.ConfidenceScore,
			Factors:         map[string]bool{},
		}
		state.Suggestions = agent.RuleSuggestions(state.ContextAssessment, state.Message)
		return p.finish(ctx, state, StatusComplete)
	}

	p.generate(ctx, state)
	state.Advance(StatusGenerated)

	decisionFailed := p.decideAndSuggest(ctx, state)
	state.Advance(StatusDecided)

	if decisionFailed {
		return p.finish(ctx, state, StatusError)
	}
	return p.finish(ctx, state, StatusComplete)
}

func validateRequest(req Request) error {
	switch {
	case strings.TrimSpace(req.RequesterID) == "":
		return fmt.Errorf("requester id is required")
	case strings.TrimSpace(req.ResponderID) == "":
		return fmt.Errorf("responder id is required")
	case req.RequesterID == req.ResponderID:
		return fmt.Errorf("requester and responder must differ")
	case strings.TrimSpace(req.Message) == "":
		return fmt.Errorf("message text is required")
	}
	return nil
}

// precheck evaluates the model-free factors. The override is checked first since
// it needs no lookup. A failed lookup does not skip the run; the decision stage
// evaluates the same factor again.
func (p *Pipeline) precheck(ctx context.Context, state *WorkflowState) bool {
	log := logger.From(ctx).With("stage", agent.StagePrecheck)
	factors := map[string]bool{}
	skip := func(reason string) bool {
		state.Decision = agent.Decision{Reason: reason, Factors: factors}
		log.Info("Pre-check short-circuited the run", "reason", reason)
		return true
	}

	factors[agent.FactorNoHumanOverride] = p.stages.Decision.NoHumanOverride(state.Message)
	if !factors[agent.FactorNoHumanOverride] {
		return skip(agent.ReasonHumanInteractionRequested)
	}

	absent, err := p.stages.Decision.AbsenceSufficient(ctx, state.ResponderID)
	if err != nil {
		log.Warn("Absence lookup failed, continuing", "error", err)
	} else {
		factors[agent.FactorMentorAbsence] = absent
		if !absent {
			return skip(agent.ReasonMentorRecentlyActive)
		}
	}

	withinLimit, err := p.stages.Decision.DailyLimitOK(ctx, state.ResponderID)
	if err != nil {
		log.Warn("Daily count lookup failed, continuing", "error", err)
	} else {
		factors[agent.FactorDailyLimit] = withinLimit
		if !withinLimit {
			return skip(agent.ReasonDailyLimitReached)
		}
	}
	return false
}

// analyze runs style and context analysis side by side.
func (p *Pipeline) analyze(ctx context.Context, state *WorkflowState) {
	log := logger.From(ctx)
	responderID, requesterID, message := state.ResponderID, state.RequesterID, state.Message

	styleCh := startStage(ctx, p.pool, p.timeouts.Analysis, func(ctx context.Context) (agent.StyleProfile, []agent.StageError, error) {
		profile, errs := p.stages.Style.Analyze(ctx, responderID)
		return profile, errs, nil
	})
	contextCh := startStage(ctx, p.pool, p.timeouts.Analysis, func(ctx context.Context) (agent.ContextAssessment, []agent.StageError, error) {
		assessment, errs := p.stages.Context.Assess(ctx, message, requesterID, responderID)
		return assessment, errs, nil
	})

	style := <-styleCh
	if style.err != nil {
		log.Error("Style analysis failed, using fallback profile", "error", style.err)
		state.StyleProfile = agent.FallbackStyleProfile(p.now())
		state.AddError(agent.StageStyle, style.err.Error())
	} else {
		state.StyleProfile = style.value
	}
	state.AddErrors(style.errs)

	assessed := <-contextCh
	if assessed.err != nil {
		log.Error("Context analysis failed, using keyword assessment", "error", assessed.err)
		state.ContextAssessment = agent.FallbackAssessment(message)
		state.AddError(agent.StageContext, assessed.err.Error())
	} else {
		state.ContextAssessment = assessed.value
	}
	state.AddErrors(assessed.errs)
}

func (p *Pipeline) generate(ctx context.Context, state *WorkflowState) {
	profile, assessment, message := state.StyleProfile, state.ContextAssessment, state.Message

	res := <-startStage(ctx, p.pool, p.timeouts.Generation, func(ctx context.Context) ([]agent.ResponseCandidate, []agent.StageError, error) {
		return p.stages.Response.Generate(ctx, profile, assessment, message), nil, nil
	})
	if res.err != nil {
		logger.From(ctx).Error("Response generation failed, no candidate", "error", res.err)
		state.AddError(agent.StageResponse, res.err.Error())
		return
	}
	state.Candidates = res.value
}

// decideAndSuggest runs both final stages side by side and reports whether the
// decision could not be made.
func (p *Pipeline) decideAndSuggest(ctx context.Context, state *WorkflowState) bool {
	log := logger.From(ctx)
	input := agent.DecisionInput{
		ResponderID: state.ResponderID,
		RequesterID: state.RequesterID,
		Message:     state.Message,
		Profile:     state.StyleProfile,
		Assessment:  state.ContextAssessment,
		Candidates:  append([]agent.ResponseCandidate(nil), state.Candidates...),
	}
	assessment, message := state.ContextAssessment, state.Message

	decisionCh := startStage(ctx, p.pool, p.timeouts.Decision, func(ctx context.Context) (agent.Decision, []agent.StageError, error) {
		d, err := p.stages.Decision.Decide(ctx, input)
		return d, nil, err
	})
	suggestionCh := startStage(ctx, p.pool, p.timeouts.Suggestion, func(ctx context.Context) ([]agent.Suggestion, []agent.StageError, error) {
		return p.stages.Suggestion.Suggest(ctx, assessment, message), nil, nil
	})

	failed := false
	decision := <-decisionCh
	if decision.err != nil {
		log.Error("Decision failed, not responding", "error", decision.err)
		state.Decision = agent.Decision{
			Reason:          agent.ReasonDecisionError,
			ConfidenceScore: state.StyleProfile.ConfidenceScore,
			Factors:         map[string]bool{},
		}
		state.AddError(agent.StageDecision, decision.err.Error())
		failed = true
	} else {
		state.Decision = decision.value
	}

	suggestions := <-suggestionCh
	if suggestions.err != nil {
		log.Warn("Suggestions unavailable", "error", suggestions.err)
		state.AddError(agent.StageSuggestion, suggestions.err.Error())
		state.Suggestions = []agent.Suggestion{}
	} else if suggestions.value != nil {
		state.Suggestions = suggestions.value
	}
	return failed
}

// finish records a sent reply, seals the state and emits events.
func (p *Pipeline) finish(ctx context.Context, state *WorkflowState, status Status) Outcome {
	log := logger.From(ctx)
	now := p.now()

	if d := state.Decision; d.ShouldRespond && d.Selected != nil {
		state.AppendMessage(RoleResponder, d.Selected.Text, now)
		if p.stages.Recorder != nil {
			err := p.stages.Recorder.RecordAutoResponse(ctx, history.AutoResponse{
				ResponderID:  state.ResponderID,
				RequesterID:  state.RequesterID,
				Reason:       d.Reason,
				Confidence:   d.ConfidenceScore,
				ResponseText: d.Selected.Text,
				CreatedAt:    now,
			})
			if err != nil {
				log.Error("Failed to record auto-response", "error", err)
				state.AddError(agent.StageFinalize, err.Error())
			}
		}
	}

	state.FinishedAt = now
	state.Advance(status)
	p.emit(ctx, state)

	log.Info("Auto-response run finished",
		"status", state.Status,
		"should_respond", state.Decision.ShouldRespond,
		"reason", state.Decision.Reason,
		"errors", len(state.Errors),
		"duration", now.Sub(state.StartedAt),
	)
	return state.Outcome()
}

func (p *Pipeline) emit(ctx context.Context, state *WorkflowState) {
	if p.notifier == nil {
		return
	}

	typ := notify.TypeAutoResponseSkipped
	switch {
	case state.Status == StatusError:
		typ = notify.TypeAgentError
	case state.Decision.ShouldRespond:
		typ = notify.TypeAutoResponseGenerated
	}
	summary := p.newEvent(typ, state)
	summary.DecisionReason = state.Decision.Reason
	summary.ConfidenceScore = state.Decision.ConfidenceScore
	p.notifier.Notify(ctx, summary)

	for _, e := range state.Errors {
		evt := p.newEvent(notify.TypeAgentError, state)
		evt.Stage = e.Stage
		evt.Message = e.Message
		p.notifier.Notify(ctx, evt)
	}
}

func (p *Pipeline) newEvent(typ notify.Type, state *WorkflowState) notify.Event {
	evt := notify.NewEvent(typ, p.now())
	evt.RunID = state.RunID
	evt.ResponderID = state.ResponderID
	evt.RequesterID = state.RequesterID
	return evt
}
