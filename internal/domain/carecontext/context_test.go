package carecontext

import (
	"fmt"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func TestNormalizeConditionID(t *testing.T) {
	tests := []struct {
		diagnosis string
		want      string
	}{
		{"Hypertension", "hypertension"},
		{"HTN", "hypertension"},
		{"high blood pressure", "hypertension"},
		{"Type 2 Diabetes Mellitus", "diabetes"},
		{"GERD", "gerd"},
		{"Acute Sinusitis", "acute_sinusitis"},
		{"  Tension Headache!  ", "tension_headache"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.diagnosis, func(t *testing.T) {
			if got := NormalizeConditionID(tt.diagnosis); got != tt.want {
				t.Errorf("NormalizeConditionID(%q) = %q, want %q", tt.diagnosis, got, tt.want)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Chronic Low Back Pain", "chronic_low_back_pain"},
		{"--weird--input--", "weird_input"},
		{"ALL CAPS", "all_caps"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyVisitConditionDedup(t *testing.T) {
	c := NewContext("user-1", testNow)

	c.ApplyVisit(VisitUpdate{
		VisitID:   "visit-1",
		VisitDate: testNow,
		Diagnoses: []string{"Hypertension"},
	}, testNow)

	c.ApplyVisit(VisitUpdate{
		VisitID:   "visit-2",
		VisitDate: testNow.Add(24 * time.Hour),
		Diagnoses: []string{"HTN"},
	}, testNow.Add(24*time.Hour))

	if len(c.Conditions) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(c.Conditions))
	}
	if c.Conditions[0].ID != "hypertension" {
		t.Errorf("expected id hypertension, got %s", c.Conditions[0].ID)
	}
	if c.Conditions[0].SourceVisitID != "visit-1" {
		t.Errorf("first diagnosis should win, got source %s", c.Conditions[0].SourceVisitID)
	}
}

func TestApplyVisitMedicationLifecycle(t *testing.T) {
	c := NewContext("user-1", testNow)

	c.ApplyVisit(VisitUpdate{
		VisitID:   "visit-1",
		VisitDate: testNow,
		MedicationsStarted: []MedicationStart{
			{Name: "Lisinopril", Dose: "10mg", Frequency: "daily"},
		},
	}, testNow)

	if len(c.Medications) != 1 {
		t.Fatalf("expected 1 medication, got %d", len(c.Medications))
	}
	if c.Medications[0].ID != "visit-1_Lisinopril" {
		t.Errorf("unexpected medication id %s", c.Medications[0].ID)
	}
	if !c.Medications[0].Active {
		t.Error("started medication should be active")
	}

	// Stop with different casing; entry flips inactive but stays.
	c.ApplyVisit(VisitUpdate{
		VisitID:            "visit-2",
		VisitDate:          testNow.Add(time.Hour),
		MedicationsStopped: []string{"lisinopril"},
	}, testNow.Add(time.Hour))

	if len(c.Medications) != 1 {
		t.Fatalf("stopped medication must not be deleted, got %d entries", len(c.Medications))
	}
	if c.Medications[0].Active {
		t.Error("stopped medication should be inactive")
	}

	// Stopping an untracked medication is a no-op.
	c.ApplyVisit(VisitUpdate{
		VisitID:            "visit-3",
		VisitDate:          testNow.Add(2 * time.Hour),
		MedicationsStopped: []string{"Metformin"},
	}, testNow.Add(2*time.Hour))

	if len(c.Medications) != 1 {
		t.Errorf("expected 1 medication, got %d", len(c.Medications))
	}
}

func TestApplyVisitMedicationChange(t *testing.T) {
	c := NewContext("user-1", testNow)
	c.ApplyVisit(VisitUpdate{
		VisitID:   "visit-1",
		VisitDate: testNow,
		MedicationsStarted: []MedicationStart{
			{Name: "Metformin", Dose: "500mg", Frequency: "daily"},
		},
	}, testNow)

	c.ApplyVisit(VisitUpdate{
		VisitID:   "visit-2",
		VisitDate: testNow.Add(time.Hour),
		MedicationsChanged: []MedicationChange{
			{Name: "metformin", Dose: "1000mg"},
		},
	}, testNow.Add(time.Hour))

	if c.Medications[0].Dose != "1000mg" {
		t.Errorf("expected dose 1000mg, got %s", c.Medications[0].Dose)
	}
	if c.Medications[0].Frequency != "daily" {
		t.Errorf("frequency should be preserved, got %s", c.Medications[0].Frequency)
	}
}

func TestVisitHistoryCap(t *testing.T) {
	c := NewContext("user-1", testNow)

	for i := 1; i <= 15; i++ {
		c.ApplyVisit(VisitUpdate{
			VisitID:   fmt.Sprintf("visit-%d", i),
			VisitDate: testNow.Add(time.Duration(i) * 24 * time.Hour),
		}, testNow.Add(time.Duration(i)*24*time.Hour))
	}

	if len(c.VisitHistory) != VisitHistoryCap {
		t.Fatalf("expected %d history entries, got %d", VisitHistoryCap, len(c.VisitHistory))
	}
	if c.VisitHistory[0].VisitID != "visit-6" {
		t.Errorf("expected oldest retained entry visit-6, got %s", c.VisitHistory[0].VisitID)
	}
	if c.VisitHistory[len(c.VisitHistory)-1].VisitID != "visit-15" {
		t.Errorf("expected newest entry visit-15, got %s", c.VisitHistory[len(c.VisitHistory)-1].VisitID)
	}
}

func TestTrackingNormalization(t *testing.T) {
	c := NewContext("user-1", testNow)

	c.EnableTracking(TrackingBP, "hypertension", testNow)
	c.EnableTracking(TrackingBP, "", testNow.Add(time.Hour))
	c.EnableTracking(TrackingGlucose, "diabetes", testNow)

	if len(c.ActiveTracking) != 3 {
		t.Fatalf("insertion should append duplicates, got %d", len(c.ActiveTracking))
	}

	normalized := c.NormalizedTracking()
	if len(normalized) != 2 {
		t.Fatalf("expected 2 normalized entries, got %d", len(normalized))
	}
	if normalized[0].Type != TrackingBP || !normalized[0].EnabledAt.Equal(testNow) {
		t.Errorf("bp entry should keep earliest enabledAt")
	}
}

func TestRecordTrackingLog(t *testing.T) {
	c := NewContext("user-1", testNow)
	c.EnableTracking(TrackingWeight, "", testNow)

	if !c.RecordTrackingLog(TrackingWeight, testNow.Add(time.Hour)) {
		t.Error("expected log to be recorded")
	}
	if c.ActiveTracking[0].LastLoggedAt == nil {
		t.Fatal("lastLoggedAt should be stamped")
	}
	if c.RecordTrackingLog(TrackingGlucose, testNow) {
		t.Error("recording an absent type should be a no-op")
	}
}
