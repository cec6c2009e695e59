// Package delta turns per-visit changes into policy-bounded proactive nudges.
package delta

import (
	"encoding/json"

	"github.com/curalog/go-care/internal/domain/carecontext"
)

// NudgeType classifies a proactive message
type NudgeType string

const (
	NudgeIntroduction      NudgeType = "introduction"
	NudgeMedicationCheckin NudgeType = "medication_checkin"
	NudgeConditionTracking NudgeType = "condition_tracking"
	NudgeFollowup          NudgeType = "followup"
	NudgeInsight           NudgeType = "insight"
)

// Urgency is the delivery timing class of a nudge
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyDay1      Urgency = "day1"
	UrgencyDay3      Urgency = "day3"
	UrgencyWeek1     Urgency = "week1"
)

// MaxNudgesPerVisit caps how many nudges one visit may produce
const MaxNudgesPerVisit = 2

// defaultReason fills a nudge whose reason the model omitted
const defaultReason = "Based on changes from your recent visit"

// Nudge is a validated proactive message recommendation
type Nudge struct {
	Type           NudgeType                `json:"type"`
	Reason         string                   `json:"reason"`
	ConditionID    string                   `json:"condition_id,omitempty"`
	MedicationName string                   `json:"medication_name,omitempty"`
	TrackingType   carecontext.TrackingType `json:"tracking_type,omitempty"`
	Urgency        Urgency                  `json:"urgency"`
	IsNewDiagnosis bool                     `json:"is_new_diagnosis"`
}

// ContextUpdates carries the model's suggestions for the accumulator
type ContextUpdates struct {
	NewConditions    []string                   `json:"new_conditions"`
	TrackingToEnable []carecontext.TrackingType `json:"tracking_to_enable"`
}

// AnalysisResult is the outcome of analyzing one visit
type AnalysisResult struct {
	Nudges         []Nudge        `json:"nudges"`
	ContextUpdates ContextUpdates `json:"context_updates"`
	Reasoning      string         `json:"reasoning,omitempty"`
	UsedFallback   bool           `json:"used_fallback"`
}

// candidateResult is the untrusted shape parsed straight from the model.
// Every field is optional and loosely typed; normalization maps any input,
// valid or not, to a safe AnalysisResult.
type candidateResult struct {
	Nudges []candidateNudge `json:"nudges"`
	ContextUpdates struct {
		NewConditions    []json.RawMessage `json:"new_conditions"`
		TrackingToEnable []string          `json:"tracking_to_enable"`
	} `json:"context_updates"`
	Reasoning string `json:"reasoning"`
}

type candidateNudge struct {
	Type           string `json:"type"`
	Reason         string `json:"reason"`
	ConditionID    string `json:"condition_id"`
	MedicationName string `json:"medication_name"`
	TrackingType   string `json:"tracking_type"`
	Urgency        string `json:"urgency"`
	IsNewDiagnosis bool   `json:"is_new_diagnosis"`
}
