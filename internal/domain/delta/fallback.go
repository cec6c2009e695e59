package delta

import (
	"strings"

	"github.com/curalog/go-care/internal/domain/carecontext"
)

// medicationTracking maps medication-name keywords to the tracking type a
// check-in nudge should suggest.
var medicationTracking = []struct {
	keyword string
	t       carecontext.TrackingType
}{
	{"lisinopril", carecontext.TrackingBP},
	{"losartan", carecontext.TrackingBP},
	{"amlodipine", carecontext.TrackingBP},
	{"metoprolol", carecontext.TrackingBP},
	{"hydrochlorothiazide", carecontext.TrackingBP},
	{"valsartan", carecontext.TrackingBP},
	{"metformin", carecontext.TrackingGlucose},
	{"glipizide", carecontext.TrackingGlucose},
	{"insulin", carecontext.TrackingGlucose},
	{"jardiance", carecontext.TrackingGlucose},
	{"empagliflozin", carecontext.TrackingGlucose},
	{"ozempic", carecontext.TrackingWeight},
	{"semaglutide", carecontext.TrackingWeight},
	{"wegovy", carecontext.TrackingWeight},
	{"tirzepatide", carecontext.TrackingWeight},
	{"phentermine", carecontext.TrackingWeight},
}

func inferTrackingType(medicationName string) carecontext.TrackingType {
	name := strings.ToLower(medicationName)
	for _, entry := range medicationTracking {
		if strings.Contains(name, entry.keyword) {
			return entry.t
		}
	}
	return ""
}

// fallbackAnalyze is the rule-based analyzer used when the generative call
// fails. It emits at most one medication check-in and one introduction, so
// the per-visit cap holds by construction.
func fallbackAnalyze(summary carecontext.Summary, update carecontext.VisitUpdate) AnalysisResult {
	result := AnalysisResult{
		UsedFallback: true,
		Reasoning:    "generative analysis unavailable, applied rule-based defaults",
	}

	if len(update.MedicationsStarted) > 0 {
		med := update.MedicationsStarted[0]
		result.Nudges = append(result.Nudges, Nudge{
			Type:           NudgeMedicationCheckin,
			Reason:         "You recently started " + med.Name,
			MedicationName: med.Name,
			TrackingType:   inferTrackingType(med.Name),
			Urgency:        UrgencyDay1,
		})
	}

	for _, diagnosis := range update.Diagnoses {
		if conditionKnown(summary.ExistingConditions, diagnosis) {
			continue
		}
		result.Nudges = append(result.Nudges, Nudge{
			Type:           NudgeIntroduction,
			Reason:         "New diagnosis discussed at your visit: " + diagnosis,
			ConditionID:    carecontext.NormalizeConditionID(diagnosis),
			Urgency:        UrgencyImmediate,
			IsNewDiagnosis: true,
		})
		result.ContextUpdates.NewConditions = append(result.ContextUpdates.NewConditions, diagnosis)
		break
	}

	return result
}

// conditionKnown fuzzy-matches a diagnosis against existing condition names
// using bidirectional substring containment. Short names can over-match;
// this mirrors the established matching behavior.
func conditionKnown(existing []string, diagnosis string) bool {
	d := strings.ToLower(strings.TrimSpace(diagnosis))
	for _, name := range existing {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "" || d == "" {
			continue
		}
		if strings.Contains(n, d) || strings.Contains(d, n) {
			return true
		}
	}
	return false
}
