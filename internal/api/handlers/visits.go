// Package handlers provides HTTP handlers for the care API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/curalog/go-care/internal/api/middleware"
	"github.com/curalog/go-care/internal/domain/carecontext"
	"github.com/curalog/go-care/internal/domain/delta"
)

// VisitHandler handles visit analysis and patient-context endpoints
type VisitHandler struct {
	analyzer *delta.Analyzer
	contexts *carecontext.Store
	nudges   delta.NudgeSink
	logger   *zap.Logger
}

// NewVisitHandler creates a new handler
func NewVisitHandler(analyzer *delta.Analyzer, contexts *carecontext.Store, nudges delta.NudgeSink, logger *zap.Logger) *VisitHandler {
	return &VisitHandler{
		analyzer: analyzer,
		contexts: contexts,
		nudges:   nudges,
		logger:   logger,
	}
}

// Routes returns the handler routes
func (h *VisitHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/visits", h.AnalyzeVisit)
	r.Get("/context/{userID}", h.GetContext)
	r.Post("/context/{userID}/tracking", h.EnableTracking)
	r.Post("/context/{userID}/tracking/log", h.RecordTrackingLog)
	return r
}

// AnalyzeVisitRequest is the request body for a finished visit
type AnalyzeVisitRequest struct {
	UserID string                  `json:"user_id"`
	Visit  carecontext.VisitUpdate `json:"visit"`
}

// AnalyzeVisitResponse returns the analysis and the merged context
type AnalyzeVisitResponse struct {
	Analysis *delta.AnalysisResult              `json:"analysis"`
	Context  *carecontext.PatientMedicalContext `json:"context"`
}

// AnalyzeVisit handles POST /visits
func (h *VisitHandler) AnalyzeVisit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("visit-handler")
	ctx, span := tracer.Start(ctx, "analyze_visit")
	defer span.End()

	var req AnalyzeVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		jsonError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Visit.VisitID == "" {
		jsonError(w, "visit.visit_id is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("visit_id", req.Visit.VisitID),
	)

	analysis, merged, err := h.analyzer.AnalyzeAndUpdateContext(ctx, req.UserID, req.Visit)
	if err != nil {
		h.logger.Error("visit merge failed",
			zap.String("user_id", req.UserID),
			zap.String("visit_id", req.Visit.VisitID),
			zap.Error(err))
		jsonError(w, "failed to merge visit", http.StatusInternalServerError)
		return
	}

	if h.nudges != nil && len(analysis.Nudges) > 0 {
		if err := h.nudges.EmitNudges(ctx, req.UserID, req.Visit.VisitID, analysis.Nudges); err != nil {
			h.logger.Error("failed to store nudges",
				zap.String("user_id", req.UserID),
				zap.Error(err))
		}
	}

	h.logger.Info("visit analyzed",
		zap.String("user_id", req.UserID),
		zap.String("visit_id", req.Visit.VisitID),
		zap.Int("nudges", len(analysis.Nudges)),
		zap.Bool("fallback", analysis.UsedFallback),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusOK, AnalyzeVisitResponse{Analysis: analysis, Context: merged})
}

// GetContext handles GET /context/{userID}
func (h *VisitHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	pc, err := h.contexts.Get(ctx, userID)
	if err != nil {
		h.logger.Error("context load failed", zap.String("user_id", userID), zap.Error(err))
		jsonError(w, "failed to load context", http.StatusInternalServerError)
		return
	}
	if pc == nil {
		jsonError(w, "context not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, pc)
}

// EnableTrackingRequest enables one tracking stream
type EnableTrackingRequest struct {
	Type              carecontext.TrackingType `json:"type"`
	SourceConditionID string                   `json:"source_condition_id,omitempty"`
}

// EnableTracking handles POST /context/{userID}/tracking
func (h *VisitHandler) EnableTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var req EnableTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !carecontext.ValidTrackingType(req.Type) {
		jsonError(w, "invalid tracking type", http.StatusBadRequest)
		return
	}

	pc, err := h.contexts.EnableTracking(ctx, userID, req.Type, req.SourceConditionID)
	if err != nil {
		h.logger.Error("enable tracking failed", zap.String("user_id", userID), zap.Error(err))
		jsonError(w, "failed to enable tracking", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, pc)
}

// RecordTrackingLogRequest stamps a tracking stream as logged
type RecordTrackingLogRequest struct {
	Type carecontext.TrackingType `json:"type"`
}

// RecordTrackingLog handles POST /context/{userID}/tracking/log
func (h *VisitHandler) RecordTrackingLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var req RecordTrackingLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !carecontext.ValidTrackingType(req.Type) {
		jsonError(w, "invalid tracking type", http.StatusBadRequest)
		return
	}

	if err := h.contexts.RecordTrackingLog(ctx, userID, req.Type); err != nil {
		h.logger.Error("record tracking log failed", zap.String("user_id", userID), zap.Error(err))
		jsonError(w, "failed to record tracking log", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
