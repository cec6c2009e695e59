// Package carecontext implements the per-patient medical context accumulator.
package carecontext

import (
	"fmt"
	"time"
)

// VisitHistoryCap bounds the visitHistory list; oldest entries are evicted.
const VisitHistoryCap = 10

// ConditionStatus represents the lifecycle state of a tracked condition
type ConditionStatus string

const (
	ConditionActive     ConditionStatus = "active"
	ConditionResolved   ConditionStatus = "resolved"
	ConditionMonitoring ConditionStatus = "monitoring"
)

// TrackingType enumerates supported self-tracking measurements
type TrackingType string

const (
	TrackingBP       TrackingType = "bp"
	TrackingGlucose  TrackingType = "glucose"
	TrackingWeight   TrackingType = "weight"
	TrackingSymptoms TrackingType = "symptoms"
)

// ValidTrackingType reports whether t is one of the supported tracking types
func ValidTrackingType(t TrackingType) bool {
	switch t {
	case TrackingBP, TrackingGlucose, TrackingWeight, TrackingSymptoms:
		return true
	}
	return false
}

// PatientCondition is a diagnosed condition carried in the context
type PatientCondition struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	DiagnosedAt   time.Time       `json:"diagnosed_at"`
	SourceVisitID string          `json:"source_visit_id"`
	Status        ConditionStatus `json:"status"`
	Notes         string          `json:"notes,omitempty"`
}

// PatientMedication is a medication the patient started during a visit.
// Stopped medications are flagged inactive, never removed.
type PatientMedication struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Dose         string    `json:"dose,omitempty"`
	Frequency    string    `json:"frequency,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	ForCondition string    `json:"for_condition,omitempty"`
	Active       bool      `json:"active"`
}

// ActiveTracking is an enabled self-tracking stream
type ActiveTracking struct {
	Type              TrackingType `json:"type"`
	EnabledAt         time.Time    `json:"enabled_at"`
	SourceConditionID string       `json:"source_condition_id,omitempty"`
	LastLoggedAt      *time.Time   `json:"last_logged_at,omitempty"`
}

// VisitHistoryEntry is a compact record of one processed visit
type VisitHistoryEntry struct {
	VisitID            string    `json:"visit_id"`
	VisitDate          time.Time `json:"visit_date"`
	Diagnoses          []string  `json:"diagnoses,omitempty"`
	MedicationsStarted []string  `json:"medications_started,omitempty"`
	MedicationsStopped []string  `json:"medications_stopped,omitempty"`
}

// PatientMedicalContext is the accumulated longitudinal state for one patient.
// It is mutated only through the accumulator's merge operations.
type PatientMedicalContext struct {
	UserID         string              `json:"user_id"`
	Conditions     []PatientCondition  `json:"conditions"`
	Medications    []PatientMedication `json:"medications"`
	ActiveTracking []ActiveTracking    `json:"active_tracking"`
	VisitHistory   []VisitHistoryEntry `json:"visit_history"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewContext creates an empty context for a patient
func NewContext(userID string, now time.Time) *PatientMedicalContext {
	return &PatientMedicalContext{
		UserID:         userID,
		Conditions:     []PatientCondition{},
		Medications:    []PatientMedication{},
		ActiveTracking: []ActiveTracking{},
		VisitHistory:   []VisitHistoryEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MedicationStart describes a medication started during a visit
type MedicationStart struct {
	Name         string `json:"name"`
	Dose         string `json:"dose,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	ForCondition string `json:"for_condition,omitempty"`
}

// MedicationChange describes a dose/frequency change made during a visit
type MedicationChange struct {
	Name      string `json:"name"`
	Dose      string `json:"dose,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

// VisitUpdate carries the facts extracted from one finished visit
type VisitUpdate struct {
	VisitID            string             `json:"visit_id"`
	VisitDate          time.Time          `json:"visit_date"`
	Diagnoses          []string           `json:"diagnoses"`
	MedicationsStarted []MedicationStart  `json:"medications_started"`
	MedicationsChanged []MedicationChange `json:"medications_changed"`
	MedicationsStopped []string           `json:"medications_stopped"`
}

// ApplyVisit merges one visit's facts into the context in place.
// It never removes data: conditions are deduplicated by normalized ID,
// stopped medications are flagged inactive, and the visit history is
// truncated to the most recent VisitHistoryCap entries.
func (c *PatientMedicalContext) ApplyVisit(update VisitUpdate, now time.Time) {
	for _, diagnosis := range update.Diagnoses {
		id := NormalizeConditionID(diagnosis)
		if id == "" || c.hasCondition(id) {
			continue
		}
		c.Conditions = append(c.Conditions, PatientCondition{
			ID:            id,
			Name:          diagnosis,
			DiagnosedAt:   update.VisitDate,
			SourceVisitID: update.VisitID,
			Status:        ConditionActive,
		})
	}

	for _, started := range update.MedicationsStarted {
		c.Medications = append(c.Medications, PatientMedication{
			ID:           fmt.Sprintf("%s_%s", update.VisitID, started.Name),
			Name:         started.Name,
			Dose:         started.Dose,
			Frequency:    started.Frequency,
			StartedAt:    update.VisitDate,
			ForCondition: started.ForCondition,
			Active:       true,
		})
	}

	for _, change := range update.MedicationsChanged {
		if med := c.findActiveMedication(change.Name); med != nil {
			if change.Dose != "" {
				med.Dose = change.Dose
			}
			if change.Frequency != "" {
				med.Frequency = change.Frequency
			}
		}
	}

	// Stopping a medication the context never tracked is a no-op.
	for _, stopped := range update.MedicationsStopped {
		if med := c.findActiveMedication(stopped); med != nil {
			med.Active = false
		}
	}

	entry := VisitHistoryEntry{
		VisitID:            update.VisitID,
		VisitDate:          update.VisitDate,
		Diagnoses:          update.Diagnoses,
		MedicationsStopped: update.MedicationsStopped,
	}
	for _, started := range update.MedicationsStarted {
		entry.MedicationsStarted = append(entry.MedicationsStarted, started.Name)
	}
	c.VisitHistory = append(c.VisitHistory, entry)
	if overflow := len(c.VisitHistory) - VisitHistoryCap; overflow > 0 {
		c.VisitHistory = c.VisitHistory[overflow:]
	}

	c.UpdatedAt = now
}

// EnableTracking appends a tracking entry. Duplicate types may accumulate;
// they are collapsed on read by NormalizedTracking.
func (c *PatientMedicalContext) EnableTracking(t TrackingType, sourceConditionID string, now time.Time) {
	c.ActiveTracking = append(c.ActiveTracking, ActiveTracking{
		Type:              t,
		EnabledAt:         now,
		SourceConditionID: sourceConditionID,
	})
	c.UpdatedAt = now
}

// RecordTrackingLog stamps lastLoggedAt on every entry of the given type.
// Returns false if no entry exists for the type.
func (c *PatientMedicalContext) RecordTrackingLog(t TrackingType, now time.Time) bool {
	found := false
	for i := range c.ActiveTracking {
		if c.ActiveTracking[i].Type == t {
			ts := now
			c.ActiveTracking[i].LastLoggedAt = &ts
			found = true
		}
	}
	if found {
		c.UpdatedAt = now
	}
	return found
}

// NormalizedTracking collapses duplicate tracking entries, keeping the
// earliest enabledAt and the latest lastLoggedAt per type.
func (c *PatientMedicalContext) NormalizedTracking() []ActiveTracking {
	byType := make(map[TrackingType]int)
	var out []ActiveTracking
	for _, tr := range c.ActiveTracking {
		idx, seen := byType[tr.Type]
		if !seen {
			byType[tr.Type] = len(out)
			out = append(out, tr)
			continue
		}
		if tr.EnabledAt.Before(out[idx].EnabledAt) {
			out[idx].EnabledAt = tr.EnabledAt
		}
		if tr.LastLoggedAt != nil &&
			(out[idx].LastLoggedAt == nil || tr.LastLoggedAt.After(*out[idx].LastLoggedAt)) {
			out[idx].LastLoggedAt = tr.LastLoggedAt
		}
		if out[idx].SourceConditionID == "" {
			out[idx].SourceConditionID = tr.SourceConditionID
		}
	}
	return out
}

func (c *PatientMedicalContext) hasCondition(id string) bool {
	for _, cond := range c.Conditions {
		if cond.ID == id {
			return true
		}
	}
	return false
}

// findActiveMedication returns the first active medication whose name
// matches case-insensitively, or nil.
func (c *PatientMedicalContext) findActiveMedication(name string) *PatientMedication {
	for i := range c.Medications {
		if c.Medications[i].Active && equalFold(c.Medications[i].Name, name) {
			return &c.Medications[i]
		}
	}
	return nil
}
