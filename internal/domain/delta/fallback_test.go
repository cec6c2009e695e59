package delta

import (
	"testing"
	"time"

	"github.com/curalog/go-care/internal/domain/carecontext"
)

func TestFallbackBound(t *testing.T) {
	update := carecontext.VisitUpdate{
		VisitID:   "visit-1",
		VisitDate: time.Now(),
		Diagnoses: []string{"Hypertension", "Hyperlipidemia", "Prediabetes"},
		MedicationsStarted: []carecontext.MedicationStart{
			{Name: "Lisinopril"},
			{Name: "Atorvastatin"},
			{Name: "Metformin"},
		},
	}

	result := fallbackAnalyze(carecontext.Summary{}, update)

	if len(result.Nudges) > MaxNudgesPerVisit {
		t.Fatalf("fallback exceeded cap: %d nudges", len(result.Nudges))
	}
	if !result.UsedFallback {
		t.Error("result should be flagged as fallback")
	}
}

func TestFallbackMedicationCheckin(t *testing.T) {
	tests := []struct {
		medication string
		want       carecontext.TrackingType
	}{
		{"Lisinopril 10mg", carecontext.TrackingBP},
		{"Metformin ER", carecontext.TrackingGlucose},
		{"Ozempic", carecontext.TrackingWeight},
		{"Amoxicillin", ""},
	}

	for _, tt := range tests {
		t.Run(tt.medication, func(t *testing.T) {
			result := fallbackAnalyze(carecontext.Summary{}, carecontext.VisitUpdate{
				VisitID: "visit-1",
				MedicationsStarted: []carecontext.MedicationStart{
					{Name: tt.medication},
				},
			})

			if len(result.Nudges) != 1 {
				t.Fatalf("expected 1 nudge, got %d", len(result.Nudges))
			}
			n := result.Nudges[0]
			if n.Type != NudgeMedicationCheckin {
				t.Errorf("expected medication_checkin, got %s", n.Type)
			}
			if n.Urgency != UrgencyDay1 {
				t.Errorf("expected day1, got %s", n.Urgency)
			}
			if n.TrackingType != tt.want {
				t.Errorf("tracking type = %q, want %q", n.TrackingType, tt.want)
			}
		})
	}
}

func TestFallbackSkipsKnownConditions(t *testing.T) {
	summary := carecontext.Summary{
		ExistingConditions: []string{"Hypertension"},
	}
	update := carecontext.VisitUpdate{
		VisitID:   "visit-1",
		Diagnoses: []string{"hypertension"},
	}

	result := fallbackAnalyze(summary, update)

	if len(result.Nudges) != 0 {
		t.Errorf("known condition should not produce an introduction, got %v", result.Nudges)
	}
}

func TestFallbackNewDiagnosisScenario(t *testing.T) {
	update := carecontext.VisitUpdate{
		VisitID:   "visit-1",
		VisitDate: time.Now(),
		Diagnoses: []string{"Hypertension"},
		MedicationsStarted: []carecontext.MedicationStart{
			{Name: "Lisinopril", Dose: "10mg", Frequency: "daily"},
		},
	}

	result := fallbackAnalyze(carecontext.Summary{}, update)

	var intro *Nudge
	introCount := 0
	for i := range result.Nudges {
		if result.Nudges[i].Type == NudgeIntroduction {
			intro = &result.Nudges[i]
			introCount++
		}
	}

	if introCount != 1 {
		t.Fatalf("expected exactly one introduction nudge, got %d", introCount)
	}
	if intro.ConditionID != "hypertension" {
		t.Errorf("condition id = %q, want hypertension", intro.ConditionID)
	}
	if intro.Urgency != UrgencyImmediate {
		t.Errorf("urgency = %s, want immediate", intro.Urgency)
	}
	if !intro.IsNewDiagnosis {
		t.Error("introduction should be flagged as new diagnosis")
	}
}
