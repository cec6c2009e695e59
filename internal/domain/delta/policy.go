package delta

import (
	"encoding/json"
	"sort"

	"github.com/curalog/go-care/internal/domain/carecontext"
)

// nudgePriority orders nudge types for the per-visit cap. Lower sorts first;
// unlisted types sort last.
var nudgePriority = map[NudgeType]int{
	NudgeIntroduction:      0,
	NudgeMedicationCheckin: 1,
	NudgeConditionTracking: 2,
	NudgeFollowup:          3,
}

func validNudgeType(t NudgeType) bool {
	switch t {
	case NudgeIntroduction, NudgeMedicationCheckin, NudgeConditionTracking,
		NudgeFollowup, NudgeInsight:
		return true
	}
	return false
}

func validUrgency(u Urgency) bool {
	switch u {
	case UrgencyImmediate, UrgencyDay1, UrgencyDay3, UrgencyWeek1:
		return true
	}
	return false
}

// clampResult re-validates a candidate result against the hard nudge policy.
// It is total: any input, however malformed, yields a bounded safe result.
func clampResult(candidate candidateResult) AnalysisResult {
	result := AnalysisResult{Reasoning: candidate.Reasoning}

	for _, c := range candidate.Nudges {
		n := Nudge{
			Type:           NudgeType(c.Type),
			Reason:         c.Reason,
			ConditionID:    c.ConditionID,
			MedicationName: c.MedicationName,
			Urgency:        Urgency(c.Urgency),
			IsNewDiagnosis: c.IsNewDiagnosis,
		}
		if !validNudgeType(n.Type) {
			continue
		}
		if n.Reason == "" {
			n.Reason = defaultReason
		}
		if !validUrgency(n.Urgency) {
			n.Urgency = UrgencyDay1
		}
		if carecontext.ValidTrackingType(carecontext.TrackingType(c.TrackingType)) {
			n.TrackingType = carecontext.TrackingType(c.TrackingType)
		}
		result.Nudges = append(result.Nudges, applyCooldown(n))
	}

	result.Nudges = capByPriority(result.Nudges)
	result.ContextUpdates = clampContextUpdates(candidate)

	return result
}

// applyCooldown enforces the new-diagnosis rule: tracking nudges for a
// brand-new diagnosis are never immediate.
func applyCooldown(n Nudge) Nudge {
	if n.Type == NudgeConditionTracking && n.IsNewDiagnosis && n.Urgency == UrgencyImmediate {
		n.Urgency = UrgencyDay3
	}
	return n
}

// capByPriority keeps at most MaxNudgesPerVisit nudges, stably sorted by
// fixed type priority.
func capByPriority(nudges []Nudge) []Nudge {
	if len(nudges) <= MaxNudgesPerVisit {
		return nudges
	}
	sort.SliceStable(nudges, func(i, j int) bool {
		return priorityOf(nudges[i].Type) < priorityOf(nudges[j].Type)
	})
	return nudges[:MaxNudgesPerVisit]
}

func priorityOf(t NudgeType) int {
	if p, ok := nudgePriority[t]; ok {
		return p
	}
	return len(nudgePriority)
}

func clampContextUpdates(candidate candidateResult) ContextUpdates {
	var updates ContextUpdates

	// Model output sometimes mixes objects into the condition list; only
	// plain strings survive.
	for _, raw := range candidate.ContextUpdates.NewConditions {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			updates.NewConditions = append(updates.NewConditions, s)
		}
	}

	for _, t := range candidate.ContextUpdates.TrackingToEnable {
		tt := carecontext.TrackingType(t)
		if carecontext.ValidTrackingType(tt) {
			updates.TrackingToEnable = append(updates.TrackingToEnable, tt)
		}
	}

	return updates
}
