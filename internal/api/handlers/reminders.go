package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/curalog/go-care/internal/domain/reminder"
)

// ReminderHandler handles medication-reminder endpoints
type ReminderHandler struct {
	store  *reminder.Store
	logger *zap.Logger
}

// NewReminderHandler creates a new handler
func NewReminderHandler(store *reminder.Store, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{store: store, logger: logger}
}

// Routes returns the handler routes
func (h *ReminderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/user/{userID}", h.ListByUser)
	r.Get("/user/{userID}/logs", h.ListLogs)
	r.Post("/{id}/enable", h.Enable)
	r.Post("/{id}/disable", h.Disable)
	r.Delete("/{id}", h.Delete)
	return r
}

// CreateReminderRequest is the request body for creating a reminder
type CreateReminderRequest struct {
	UserID         string   `json:"user_id"`
	MedicationID   string   `json:"medication_id"`
	MedicationName string   `json:"medication_name"`
	MedicationDose string   `json:"medication_dose,omitempty"`
	Times          []string `json:"times"`
	TimingMode     string   `json:"timing_mode,omitempty"`
	AnchorTimezone string   `json:"anchor_timezone,omitempty"`
	Criticality    string   `json:"criticality,omitempty"`
}

// Create handles POST /reminders
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	crit := reminder.Criticality(req.Criticality)
	if crit == "" {
		crit = reminder.CriticalityStandard
	}

	rem := &reminder.MedicationReminder{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		MedicationID:   req.MedicationID,
		MedicationName: req.MedicationName,
		MedicationDose: req.MedicationDose,
		Times:          req.Times,
		TimingMode:     reminder.TimingMode(req.TimingMode),
		AnchorTimezone: req.AnchorTimezone,
		Criticality:    crit,
		Enabled:        true,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.store.Create(ctx, rem); err != nil {
		h.logger.Warn("reminder create rejected", zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("reminder created",
		zap.String("id", rem.ID),
		zap.String("user_id", rem.UserID),
		zap.Strings("times", rem.Times))

	writeJSON(w, http.StatusCreated, rem)
}

// Get handles GET /reminders/{id}
func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rem, err := h.store.Get(ctx, id)
	if errors.Is(err, reminder.ErrNotFound) {
		jsonError(w, "reminder not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("reminder load failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to load reminder", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rem)
}

// ListByUser handles GET /reminders/user/{userID}
func (h *ReminderHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	reminders, err := h.store.ListByUser(ctx, userID)
	if err != nil {
		h.logger.Error("reminder list failed", zap.String("user_id", userID), zap.Error(err))
		jsonError(w, "failed to list reminders", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, reminders)
}

// ListLogs handles GET /reminders/user/{userID}/logs?from=&to=. Both bounds
// are RFC 3339; from defaults to 24 hours before to, to defaults to now.
func (h *ReminderHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	to := time.Now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, "invalid 'to' timestamp", http.StatusBadRequest)
			return
		}
		to = parsed
	}
	from := to.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, "invalid 'from' timestamp", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if from.After(to) {
		jsonError(w, "'from' must not be after 'to'", http.StatusBadRequest)
		return
	}

	logs, err := h.store.ListMedicationLogsByUserAndLoggedAtRange(ctx, userID, from, to)
	if err != nil {
		h.logger.Error("medication log query failed", zap.String("user_id", userID), zap.Error(err))
		jsonError(w, "failed to list medication logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

// Enable handles POST /reminders/{id}/enable
func (h *ReminderHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable handles POST /reminders/{id}/disable
func (h *ReminderHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *ReminderHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	err := h.store.SetEnabled(ctx, id, enabled)
	if errors.Is(err, reminder.ErrNotFound) {
		jsonError(w, "reminder not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("reminder toggle failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to update reminder", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// Delete handles DELETE /reminders/{id}. Reminders are soft-deleted; a
// maintenance sweep hard-deletes them later.
func (h *ReminderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	deletedBy := r.Header.Get("X-Actor-ID")
	if deletedBy == "" {
		deletedBy = "api"
	}

	err := h.store.SoftDelete(ctx, id, deletedBy)
	if errors.Is(err, reminder.ErrNotFound) {
		jsonError(w, "reminder not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("reminder delete failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to delete reminder", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
