package delta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/curalog/go-care/internal/domain/carecontext"
	"github.com/curalog/go-care/pkg/circuitbreaker"
)

// ContextStore is the slice of the accumulator the analyzer needs
type ContextStore interface {
	GetOrCreate(ctx context.Context, userID string) (*carecontext.PatientMedicalContext, error)
	MergeVisit(ctx context.Context, userID string, update carecontext.VisitUpdate) (*carecontext.PatientMedicalContext, error)
}

// NudgeSink receives validated nudges for delivery. The notification side is
// an external collaborator; the analyzer only hands records over.
type NudgeSink interface {
	EmitNudges(ctx context.Context, userID, visitID string, nudges []Nudge) error
}

// Analyzer decides what to proactively tell a patient after a visit. The
// generative backend proposes; deterministic clamping enforces the policy;
// a rule-based fallback covers backend failure.
type Analyzer struct {
	backend  Backend
	contexts ContextStore
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewAnalyzer creates an analyzer. backend and contexts are required;
// breaker is optional (calls run unprotected without one).
func NewAnalyzer(backend Backend, contexts ContextStore, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*Analyzer, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if contexts == nil {
		return nil, errors.New("context store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		backend:  backend,
		contexts: contexts,
		breaker:  breaker,
		logger:   logger,
		tracer:   otel.Tracer("delta-analyzer"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// AnalyzeVisit produces policy-bounded nudge recommendations for one visit.
// It never fails on backend trouble: malformed or unavailable model output
// degrades to the rule-based fallback.
func (a *Analyzer) AnalyzeVisit(ctx context.Context, userID string, update carecontext.VisitUpdate) (*AnalysisResult, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if update.VisitID == "" {
		return nil, errors.New("visit id is required")
	}

	ctx, span := a.tracer.Start(ctx, "analyze_visit",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("visit_id", update.VisitID),
		))
	defer span.End()

	current, err := a.contexts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	summary := carecontext.Summarize(current, a.now())

	result := a.analyze(ctx, summary, update)

	span.SetAttributes(
		attribute.Int("nudge_count", len(result.Nudges)),
		attribute.Bool("used_fallback", result.UsedFallback),
	)
	return result, nil
}

// AnalyzeAndUpdateContext runs the analysis and merges the visit into the
// patient context. The merge happens regardless of analysis outcome; a merge
// failure is surfaced, never swallowed by a successful analysis.
func (a *Analyzer) AnalyzeAndUpdateContext(ctx context.Context, userID string, update carecontext.VisitUpdate) (*AnalysisResult, *carecontext.PatientMedicalContext, error) {
	result, analysisErr := a.AnalyzeVisit(ctx, userID, update)

	merged, mergeErr := a.contexts.MergeVisit(ctx, userID, update)
	if mergeErr != nil {
		return result, nil, fmt.Errorf("merge visit: %w", mergeErr)
	}
	if analysisErr != nil {
		return nil, merged, analysisErr
	}

	return result, merged, nil
}

func (a *Analyzer) analyze(ctx context.Context, summary carecontext.Summary, update carecontext.VisitUpdate) *AnalysisResult {
	raw, err := a.callBackend(ctx, summary, update)
	if err != nil {
		a.logger.Warn("generative analysis failed, using fallback",
			zap.String("user_id", summary.UserID),
			zap.String("visit_id", update.VisitID),
			zap.Error(err))
		result := fallbackAnalyze(summary, update)
		return &result
	}

	var candidate candidateResult
	if err := json.Unmarshal(raw, &candidate); err != nil {
		a.logger.Warn("malformed model output, using fallback",
			zap.String("visit_id", update.VisitID),
			zap.Error(err))
		result := fallbackAnalyze(summary, update)
		return &result
	}

	result := clampResult(candidate)
	return &result
}

func (a *Analyzer) callBackend(ctx context.Context, summary carecontext.Summary, update carecontext.VisitUpdate) (json.RawMessage, error) {
	user := buildUserMessage(summary, update)

	if a.breaker == nil {
		return a.backend.Analyze(ctx, systemInstruction, user)
	}

	raw, err := a.breaker.Execute(ctx, func() (interface{}, error) {
		return a.backend.Analyze(ctx, systemInstruction, user)
	})
	if err != nil {
		return nil, err
	}
	return raw.(json.RawMessage), nil
}
