package delta

import (
	"encoding/json"
	"testing"
)

func TestClampDropsUnknownTypes(t *testing.T) {
	candidate := candidateResult{
		Nudges: []candidateNudge{
			{Type: "followup", Urgency: "day1"},
			{Type: "sales_pitch", Urgency: "immediate"},
			{Type: "", Urgency: "day1"},
		},
	}

	result := clampResult(candidate)

	if len(result.Nudges) != 1 {
		t.Fatalf("expected 1 surviving nudge, got %d", len(result.Nudges))
	}
	if result.Nudges[0].Type != NudgeFollowup {
		t.Errorf("expected followup, got %s", result.Nudges[0].Type)
	}
}

func TestClampCapWithPriority(t *testing.T) {
	candidate := candidateResult{
		Nudges: []candidateNudge{
			{Type: "followup", Urgency: "day1"},
			{Type: "insight", Urgency: "day3"},
			{Type: "condition_tracking", Urgency: "day1", TrackingType: "bp"},
			{Type: "introduction", Urgency: "immediate"},
			{Type: "medication_checkin", Urgency: "day1"},
		},
	}

	result := clampResult(candidate)

	if len(result.Nudges) != MaxNudgesPerVisit {
		t.Fatalf("expected %d nudges, got %d", MaxNudgesPerVisit, len(result.Nudges))
	}
	if result.Nudges[0].Type != NudgeIntroduction {
		t.Errorf("introduction must be kept first, got %s", result.Nudges[0].Type)
	}
	if result.Nudges[1].Type != NudgeMedicationCheckin {
		t.Errorf("medication_checkin must be kept second, got %s", result.Nudges[1].Type)
	}
}

func TestClampPrefersIntroductionOverFollowup(t *testing.T) {
	candidate := candidateResult{
		Nudges: []candidateNudge{
			{Type: "followup", Urgency: "day1"},
			{Type: "followup", Urgency: "day1"},
			{Type: "introduction", Urgency: "immediate"},
		},
	}

	result := clampResult(candidate)

	found := false
	for _, n := range result.Nudges {
		if n.Type == NudgeIntroduction {
			found = true
		}
	}
	if !found {
		t.Error("introduction must survive the cap when competing with followups")
	}
}

func TestNewDiagnosisCooldown(t *testing.T) {
	tests := []struct {
		name string
		in   Nudge
		want Urgency
	}{
		{
			name: "new diagnosis tracking immediate downgraded",
			in:   Nudge{Type: NudgeConditionTracking, IsNewDiagnosis: true, Urgency: UrgencyImmediate},
			want: UrgencyDay3,
		},
		{
			name: "existing diagnosis tracking immediate untouched",
			in:   Nudge{Type: NudgeConditionTracking, IsNewDiagnosis: false, Urgency: UrgencyImmediate},
			want: UrgencyImmediate,
		},
		{
			name: "new diagnosis tracking day1 untouched",
			in:   Nudge{Type: NudgeConditionTracking, IsNewDiagnosis: true, Urgency: UrgencyDay1},
			want: UrgencyDay1,
		},
		{
			name: "introduction immediate untouched",
			in:   Nudge{Type: NudgeIntroduction, IsNewDiagnosis: true, Urgency: UrgencyImmediate},
			want: UrgencyImmediate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applyCooldown(tt.in).Urgency; got != tt.want {
				t.Errorf("urgency = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClampDefaults(t *testing.T) {
	candidate := candidateResult{
		Nudges: []candidateNudge{
			{Type: "insight", Urgency: "sometime", TrackingType: "steps"},
		},
	}

	result := clampResult(candidate)

	n := result.Nudges[0]
	if n.Reason != defaultReason {
		t.Errorf("missing reason should default, got %q", n.Reason)
	}
	if n.Urgency != UrgencyDay1 {
		t.Errorf("invalid urgency should default to day1, got %s", n.Urgency)
	}
	if n.TrackingType != "" {
		t.Errorf("invalid tracking type should be dropped, got %s", n.TrackingType)
	}
}

func TestClampContextUpdates(t *testing.T) {
	candidate := candidateResult{}
	candidate.ContextUpdates.NewConditions = []json.RawMessage{
		json.RawMessage(`"Hypertension"`),
		json.RawMessage(`{"name":"not a string"}`),
		json.RawMessage(`42`),
		json.RawMessage(`""`),
	}
	candidate.ContextUpdates.TrackingToEnable = []string{"bp", "steps", "glucose"}

	result := clampResult(candidate)

	if len(result.ContextUpdates.NewConditions) != 1 {
		t.Errorf("only string conditions survive, got %v", result.ContextUpdates.NewConditions)
	}
	if len(result.ContextUpdates.TrackingToEnable) != 2 {
		t.Errorf("only known tracking types survive, got %v", result.ContextUpdates.TrackingToEnable)
	}
}
