package carecontext

import (
	"testing"
	"time"
)

func TestSummarizeFiltersInactive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := NewContext("user-1", now)

	c.Conditions = []PatientCondition{
		{ID: "hypertension", Name: "Hypertension", Status: ConditionActive, DiagnosedAt: now.Add(-48 * time.Hour)},
		{ID: "uti", Name: "UTI", Status: ConditionResolved, DiagnosedAt: now.Add(-90 * 24 * time.Hour)},
	}
	c.Medications = []PatientMedication{
		{Name: "Lisinopril", Dose: "10mg", Frequency: "daily", Active: true},
		{Name: "Amoxicillin", Dose: "500mg", Active: false},
	}

	s := Summarize(c, now)

	if len(s.ExistingConditions) != 1 || s.ExistingConditions[0] != "Hypertension" {
		t.Errorf("expected only active conditions, got %v", s.ExistingConditions)
	}
	if len(s.CurrentMedications) != 1 || s.CurrentMedications[0] != "Lisinopril 10mg daily" {
		t.Errorf("expected formatted active medications, got %v", s.CurrentMedications)
	}
	if len(s.ConditionAges) != 1 || s.ConditionAges[0].Age != "2 days ago" {
		t.Errorf("unexpected condition ages %v", s.ConditionAges)
	}
}

func TestSummarizeRecentlyLogged(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := NewContext("user-1", now)

	recent := now.Add(-2 * time.Hour)
	stale := now.Add(-30 * time.Hour)
	c.ActiveTracking = []ActiveTracking{
		{Type: TrackingBP, EnabledAt: now.Add(-72 * time.Hour), LastLoggedAt: &recent},
		{Type: TrackingGlucose, EnabledAt: now.Add(-72 * time.Hour), LastLoggedAt: &stale},
		{Type: TrackingWeight, EnabledAt: now.Add(-72 * time.Hour)},
	}

	s := Summarize(c, now)

	if len(s.ActiveTracking) != 3 {
		t.Errorf("expected 3 active tracking types, got %v", s.ActiveTracking)
	}
	if len(s.RecentlyLogged) != 1 || s.RecentlyLogged[0] != TrackingBP {
		t.Errorf("only bp was logged inside 24h, got %v", s.RecentlyLogged)
	}
}

func TestAgeBucket(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{6 * time.Hour, "today"},
		{24 * time.Hour, "1 day ago"},
		{3 * 24 * time.Hour, "3 days ago"},
		{7 * 24 * time.Hour, "1 week ago"},
		{20 * 24 * time.Hour, "2 weeks ago"},
		{45 * 24 * time.Hour, "1 month ago"},
		{200 * 24 * time.Hour, "6 months ago"},
	}
	for _, tt := range tests {
		if got := ageBucket(tt.age); got != tt.want {
			t.Errorf("ageBucket(%v) = %q, want %q", tt.age, got, tt.want)
		}
	}
}
