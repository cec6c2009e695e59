package delta

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/curalog/go-care/internal/domain/carecontext"
)

type fakeBackend struct {
	response json.RawMessage
	err      error
	calls    int
}

func (f *fakeBackend) Analyze(ctx context.Context, system, user string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeContextStore struct {
	contexts map[string]*carecontext.PatientMedicalContext
	mergeErr error
}

func newFakeContextStore() *fakeContextStore {
	return &fakeContextStore{contexts: make(map[string]*carecontext.PatientMedicalContext)}
}

func (f *fakeContextStore) GetOrCreate(ctx context.Context, userID string) (*carecontext.PatientMedicalContext, error) {
	if c, ok := f.contexts[userID]; ok {
		return c, nil
	}
	c := carecontext.NewContext(userID, time.Now().UTC())
	f.contexts[userID] = c
	return c, nil
}

func (f *fakeContextStore) MergeVisit(ctx context.Context, userID string, update carecontext.VisitUpdate) (*carecontext.PatientMedicalContext, error) {
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	c, err := f.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.ApplyVisit(update, time.Now().UTC())
	return c, nil
}

func newTestAnalyzer(t *testing.T, backend Backend, store ContextStore) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(backend, store, nil, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	return a
}

func TestAnalyzeVisitClampsModelOutput(t *testing.T) {
	backend := &fakeBackend{response: json.RawMessage(`{
		"nudges": [
			{"type": "condition_tracking", "reason": "start logging bp", "tracking_type": "bp", "urgency": "immediate", "is_new_diagnosis": true},
			{"type": "spam", "urgency": "immediate"},
			{"type": "followup", "urgency": "week1"},
			{"type": "insight", "urgency": "day3"}
		],
		"context_updates": {"new_conditions": ["Hypertension"], "tracking_to_enable": ["bp"]},
		"reasoning": "new hypertension diagnosis"
	}`)}

	analyzer := newTestAnalyzer(t, backend, newFakeContextStore())

	result, err := analyzer.AnalyzeVisit(context.Background(), "user-1", carecontext.VisitUpdate{
		VisitID:   "visit-1",
		VisitDate: time.Now(),
		Diagnoses: []string{"Hypertension"},
	})
	if err != nil {
		t.Fatalf("AnalyzeVisit: %v", err)
	}

	if result.UsedFallback {
		t.Error("model output was valid, fallback should not engage")
	}
	if len(result.Nudges) != MaxNudgesPerVisit {
		t.Fatalf("expected %d nudges, got %d", MaxNudgesPerVisit, len(result.Nudges))
	}
	// Highest-priority survivor is the tracking nudge, with the
	// new-diagnosis cooldown applied.
	if result.Nudges[0].Type != NudgeConditionTracking {
		t.Errorf("expected condition_tracking first, got %s", result.Nudges[0].Type)
	}
	if result.Nudges[0].Urgency != UrgencyDay3 {
		t.Errorf("new-diagnosis immediate tracking must become day3, got %s", result.Nudges[0].Urgency)
	}
}

func TestAnalyzeVisitFallsBackOnBackendError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("backend status 503")}
	analyzer := newTestAnalyzer(t, backend, newFakeContextStore())

	result, err := analyzer.AnalyzeVisit(context.Background(), "user-1", carecontext.VisitUpdate{
		VisitID:   "visit-1",
		VisitDate: time.Now(),
		MedicationsStarted: []carecontext.MedicationStart{
			{Name: "Metformin"},
		},
	})
	if err != nil {
		t.Fatalf("analysis must not fail on backend error: %v", err)
	}
	if !result.UsedFallback {
		t.Error("expected fallback result")
	}
	if len(result.Nudges) != 1 || result.Nudges[0].Type != NudgeMedicationCheckin {
		t.Errorf("expected one medication_checkin nudge, got %v", result.Nudges)
	}
}

func TestAnalyzeVisitFallsBackOnMalformedOutput(t *testing.T) {
	backend := &fakeBackend{response: json.RawMessage(`sure, here are your nudges:`)}
	analyzer := newTestAnalyzer(t, backend, newFakeContextStore())

	result, err := analyzer.AnalyzeVisit(context.Background(), "user-1", carecontext.VisitUpdate{
		VisitID: "visit-1",
	})
	if err != nil {
		t.Fatalf("analysis must not fail on malformed output: %v", err)
	}
	if !result.UsedFallback {
		t.Error("expected fallback result")
	}
}

func TestAnalyzeVisitRequiresIdentifiers(t *testing.T) {
	analyzer := newTestAnalyzer(t, &fakeBackend{}, newFakeContextStore())

	if _, err := analyzer.AnalyzeVisit(context.Background(), "", carecontext.VisitUpdate{VisitID: "v"}); err == nil {
		t.Error("missing user id must fail fast")
	}
	if _, err := analyzer.AnalyzeVisit(context.Background(), "user-1", carecontext.VisitUpdate{}); err == nil {
		t.Error("missing visit id must fail fast")
	}
}

func TestAnalyzeAndUpdateContext(t *testing.T) {
	backend := &fakeBackend{err: errors.New("unavailable")}
	store := newFakeContextStore()
	analyzer := newTestAnalyzer(t, backend, store)

	update := carecontext.VisitUpdate{
		VisitID:   "visit-1",
		VisitDate: time.Now(),
		Diagnoses: []string{"Hypertension"},
		MedicationsStarted: []carecontext.MedicationStart{
			{Name: "Lisinopril", Dose: "10mg", Frequency: "daily"},
		},
	}

	result, merged, err := analyzer.AnalyzeAndUpdateContext(context.Background(), "user-1", update)
	if err != nil {
		t.Fatalf("AnalyzeAndUpdateContext: %v", err)
	}

	if len(merged.Conditions) != 1 || merged.Conditions[0].ID != "hypertension" {
		t.Errorf("merge should record hypertension, got %v", merged.Conditions)
	}
	if len(merged.Medications) != 1 || !merged.Medications[0].Active {
		t.Errorf("merge should record active lisinopril, got %v", merged.Medications)
	}
	if result == nil || len(result.Nudges) == 0 {
		t.Error("expected nudges from the fallback analysis")
	}
}

func TestMergeFailureIsSurfaced(t *testing.T) {
	store := newFakeContextStore()
	store.mergeErr = errors.New("version conflict")
	analyzer := newTestAnalyzer(t, &fakeBackend{response: json.RawMessage(`{"nudges":[]}`)}, store)

	_, _, err := analyzer.AnalyzeAndUpdateContext(context.Background(), "user-1", carecontext.VisitUpdate{
		VisitID: "visit-1",
	})
	if err == nil {
		t.Fatal("merge failure must not be swallowed by a successful analysis")
	}
}
