package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeEngineStore struct {
	mu        sync.Mutex
	reminders map[string]*MedicationReminder
	meds      map[string]*MedicationRecord
	timezones map[string]string
	updates   []Update
}

func newFakeEngineStore() *fakeEngineStore {
	return &fakeEngineStore{
		reminders: make(map[string]*MedicationReminder),
		meds:      make(map[string]*MedicationRecord),
		timezones: make(map[string]string),
	}
}

func (f *fakeEngineStore) ListEnabled(ctx context.Context) ([]*MedicationReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*MedicationReminder
	for _, r := range f.reminders {
		if r.Dispatchable() {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeEngineStore) GetMedication(ctx context.Context, id string) (*MedicationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meds[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (f *fakeEngineStore) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tz, ok := f.timezones[userID]; ok {
		return tz, nil
	}
	return "UTC", nil
}

func (f *fakeEngineStore) AcquireSendLock(ctx context.Context, reminderID string, now, lockUntil time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[reminderID]
	if !ok || !r.Dispatchable() {
		return false, nil
	}
	if r.LastSentLockUntil != nil && r.LastSentLockUntil.After(now) {
		return false, nil
	}
	r.LastSentLockUntil = &lockUntil
	lockedAt := now
	r.LastSentLockAt = &lockedAt
	return true, nil
}

func (f *fakeEngineStore) ApplyUpdates(ctx context.Context, updates []Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates...)
	for _, u := range updates {
		r, ok := f.reminders[u.ReminderID]
		if !ok {
			continue
		}
		if u.LastSentAt != nil {
			r.LastSentAt = u.LastSentAt
		}
		if u.Enabled != nil {
			r.Enabled = *u.Enabled
		}
	}
	return nil
}

type countingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *countingNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var engineTestNow = time.Date(2026, 3, 10, 8, 2, 0, 0, time.UTC)

func newTestEngine(t *testing.T, store *fakeEngineStore, notifier Notifier) *Engine {
	t.Helper()
	e, err := NewEngine(store, notifier, DefaultEngineConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.now = func() time.Time { return engineTestNow }
	return e
}

func TestScanSendsDueReminder(t *testing.T) {
	store := newFakeEngineStore()
	store.reminders["rem-1"] = testReminder("08:00")
	store.meds["med-1"] = &MedicationRecord{ID: "med-1", Name: "Lisinopril", Active: true}

	notifier := &countingNotifier{}
	engine := newTestEngine(t, store, notifier)

	stats, err := engine.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stats.Scanned != 1 || stats.Due != 1 || stats.Sent != 1 {
		t.Fatalf("stats = %+v, want scanned=1 due=1 sent=1", stats)
	}
	if notifier.count() != 1 {
		t.Fatalf("notifier got %d sends, want 1", notifier.count())
	}

	n := notifier.sent[0]
	if n.ReminderID != "rem-1" || n.Slot != "08:00" || n.MedicationName != "Lisinopril" {
		t.Errorf("notification = %+v", n)
	}

	r := store.reminders["rem-1"]
	if r.LastSentAt == nil || !r.LastSentAt.Equal(engineTestNow) {
		t.Errorf("LastSentAt = %v, want %v", r.LastSentAt, engineTestNow)
	}
}

func TestScanSkipsNotDue(t *testing.T) {
	store := newFakeEngineStore()
	store.reminders["rem-1"] = testReminder("20:00")
	store.meds["med-1"] = &MedicationRecord{ID: "med-1", Active: true}

	notifier := &countingNotifier{}
	engine := newTestEngine(t, store, notifier)

	stats, err := engine.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stats.Due != 0 || stats.Sent != 0 {
		t.Fatalf("stats = %+v, want due=0 sent=0", stats)
	}
}

func TestScanRespectsHeldLock(t *testing.T) {
	store := newFakeEngineStore()
	r := testReminder("08:00")
	lockUntil := engineTestNow.Add(3 * time.Minute)
	r.LastSentLockUntil = &lockUntil
	store.reminders["rem-1"] = r
	store.meds["med-1"] = &MedicationRecord{ID: "med-1", Active: true}

	notifier := &countingNotifier{}
	engine := newTestEngine(t, store, notifier)

	stats, err := engine.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stats.SkippedLock != 1 || stats.Sent != 0 {
		t.Fatalf("stats = %+v, want skipped_lock=1 sent=0", stats)
	}
	if notifier.count() != 0 {
		t.Fatal("locked reminder must not be sent")
	}
}

func TestScanReclaimsExpiredLock(t *testing.T) {
	store := newFakeEngineStore()
	r := testReminder("08:00")
	expired := engineTestNow.Add(-time.Minute)
	r.LastSentLockUntil = &expired
	store.reminders["rem-1"] = r
	store.meds["med-1"] = &MedicationRecord{ID: "med-1", Active: true}

	notifier := &countingNotifier{}
	engine := newTestEngine(t, store, notifier)

	stats, err := engine.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("stats = %+v, want sent=1 past an expired lock", stats)
	}
}

func TestConcurrentScansSendOnce(t *testing.T) {
	store := newFakeEngineStore()
	store.reminders["rem-1"] = testReminder("08:00")
	store.meds["med-1"] = &MedicationRecord{ID: "med-1", Active: true}

	notifier := &countingNotifier{}

	const scans = 8
	var wg sync.WaitGroup
	for i := 0; i < scans; i++ {
		engine := newTestEngine(t, store, notifier)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Scan(context.Background()); err != nil {
				t.Errorf("Scan: %v", err)
			}
		}()
	}
	wg.Wait()

	if notifier.count() != 1 {
		t.Fatalf("%d concurrent scans produced %d sends, want exactly 1", scans, notifier.count())
	}
}

func TestScanMedicationGuard(t *testing.T) {
	t.Run("inactive medication skipped", func(t *testing.T) {
		store := newFakeEngineStore()
		store.reminders["rem-1"] = testReminder("08:00")
		store.meds["med-1"] = &MedicationRecord{ID: "med-1", Active: false}

		notifier := &countingNotifier{}
		engine := newTestEngine(t, store, notifier)

		stats, err := engine.Scan(context.Background())
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if stats.SkippedMedication != 1 || stats.Sent != 0 {
			t.Fatalf("stats = %+v, want skipped_medication=1 sent=0", stats)
		}
		if !store.reminders["rem-1"].Enabled {
			t.Error("inactive medication must not disable the reminder")
		}
	})

	t.Run("missing medication disables reminder", func(t *testing.T) {
		store := newFakeEngineStore()
		store.reminders["rem-1"] = testReminder("08:00")

		notifier := &countingNotifier{}
		engine := newTestEngine(t, store, notifier)

		stats, err := engine.Scan(context.Background())
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if stats.SkippedMedication != 1 || stats.Disabled != 1 {
			t.Fatalf("stats = %+v, want skipped_medication=1 disabled=1", stats)
		}
		if store.reminders["rem-1"].Enabled {
			t.Error("reminder with a missing medication should be disabled")
		}
	})
}

func TestScanUsesAnchorTimezone(t *testing.T) {
	store := newFakeEngineStore()
	r := testReminder("03:00")
	r.TimingMode = TimingAnchor
	r.AnchorTimezone = "Etc/GMT+5" // fixed UTC-5
	store.reminders["rem-1"] = r
	store.meds["med-1"] = &MedicationRecord{ID: "med-1", Active: true}
	store.timezones["user-1"] = "UTC"

	notifier := &countingNotifier{}
	engine := newTestEngine(t, store, notifier)

	// 08:02 UTC is 03:02 in the anchor zone, inside the 03:00 window.
	stats, err := engine.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("stats = %+v, want sent=1 in anchor timezone", stats)
	}
}

func TestScanDeliveryFailureLeavesLastSentUnset(t *testing.T) {
	store := newFakeEngineStore()
	store.reminders["rem-1"] = testReminder("08:00")
	store.meds["med-1"] = &MedicationRecord{ID: "med-1", Active: true}

	notifier := &countingNotifier{err: context.DeadlineExceeded}
	engine := newTestEngine(t, store, notifier)

	stats, err := engine.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stats.Errors != 1 || stats.Sent != 0 {
		t.Fatalf("stats = %+v, want errors=1 sent=0", stats)
	}
	if store.reminders["rem-1"].LastSentAt != nil {
		t.Error("failed delivery must not stamp LastSentAt")
	}
}
