package reminder

import (
	"strings"
	"testing"
	"time"
)

func testReminder(times ...string) *MedicationReminder {
	return &MedicationReminder{
		ID:             "rem-1",
		UserID:         "user-1",
		MedicationID:   "med-1",
		MedicationName: "Lisinopril",
		Times:          times,
		Criticality:    CriticalityStandard,
		Enabled:        true,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MedicationReminder)
		wantErr string
	}{
		{name: "valid"},
		{
			name:    "no times",
			mutate:  func(r *MedicationReminder) { r.Times = nil },
			wantErr: "between 1 and 4",
		},
		{
			name: "too many times",
			mutate: func(r *MedicationReminder) {
				r.Times = []string{"06:00", "10:00", "14:00", "18:00", "22:00"}
			},
			wantErr: "between 1 and 4",
		},
		{
			name:    "malformed slot",
			mutate:  func(r *MedicationReminder) { r.Times = []string{"8:00"} },
			wantErr: "invalid time slot",
		},
		{
			name:    "hour out of range",
			mutate:  func(r *MedicationReminder) { r.Times = []string{"25:00"} },
			wantErr: "out of range",
		},
		{
			name: "anchor without timezone",
			mutate: func(r *MedicationReminder) {
				r.TimingMode = TimingAnchor
				r.AnchorTimezone = ""
			},
			wantErr: "anchor timing mode requires",
		},
		{
			name:    "missing user",
			mutate:  func(r *MedicationReminder) { r.UserID = "" },
			wantErr: "user id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testReminder("08:00")
			if tt.mutate != nil {
				tt.mutate(r)
			}
			err := r.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEffectiveTimezone(t *testing.T) {
	tests := []struct {
		name        string
		mode        TimingMode
		criticality Criticality
		anchorTZ    string
		want        string
	}{
		{name: "anchor mode", mode: TimingAnchor, anchorTZ: "America/Denver", want: "America/Denver"},
		{name: "local mode ignores anchor", mode: TimingLocal, anchorTZ: "America/Denver", want: "America/Chicago"},
		{name: "unset standard", criticality: CriticalityStandard, anchorTZ: "America/Denver", want: "America/Chicago"},
		{name: "unset time sensitive with anchor", criticality: CriticalityTimeSensitive, anchorTZ: "America/Denver", want: "America/Denver"},
		{name: "unset time sensitive without anchor", criticality: CriticalityTimeSensitive, want: "America/Chicago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testReminder("08:00")
			r.TimingMode = tt.mode
			r.Criticality = tt.criticality
			r.AnchorTimezone = tt.anchorTZ
			if got := r.EffectiveTimezone("America/Chicago"); got != tt.want {
				t.Errorf("EffectiveTimezone() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDueSlot(t *testing.T) {
	window := 5 * time.Minute
	now := time.Date(2026, 3, 10, 8, 2, 0, 0, time.UTC)

	t.Run("within window", func(t *testing.T) {
		r := testReminder("08:00")
		slot, slotTime, ok := r.DueSlot(now, time.UTC, window)
		if !ok {
			t.Fatal("expected reminder to be due")
		}
		if slot != "08:00" {
			t.Errorf("slot = %q, want 08:00", slot)
		}
		want := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
		if !slotTime.Equal(want) {
			t.Errorf("slotTime = %v, want %v", slotTime, want)
		}
	})

	t.Run("outside window", func(t *testing.T) {
		r := testReminder("08:00")
		later := time.Date(2026, 3, 10, 8, 7, 0, 0, time.UTC)
		if _, _, ok := r.DueSlot(later, time.UTC, window); ok {
			t.Fatal("expected reminder not to be due 7 minutes past the slot")
		}
	})

	t.Run("before slot", func(t *testing.T) {
		r := testReminder("08:00")
		earlier := time.Date(2026, 3, 10, 7, 58, 0, 0, time.UTC)
		if _, _, ok := r.DueSlot(earlier, time.UTC, window); ok {
			t.Fatal("expected reminder not to be due before the slot")
		}
	})

	t.Run("already sent this slot", func(t *testing.T) {
		r := testReminder("08:00")
		sent := time.Date(2026, 3, 10, 8, 0, 30, 0, time.UTC)
		r.LastSentAt = &sent
		if _, _, ok := r.DueSlot(now, time.UTC, window); ok {
			t.Fatal("expected reminder not to be due after a send for the same slot")
		}
	})

	t.Run("sent yesterday fires today", func(t *testing.T) {
		r := testReminder("08:00")
		sent := time.Date(2026, 3, 9, 8, 1, 0, 0, time.UTC)
		r.LastSentAt = &sent
		if _, _, ok := r.DueSlot(now, time.UTC, window); !ok {
			t.Fatal("expected reminder to be due the day after its last send")
		}
	})

	t.Run("timezone offset", func(t *testing.T) {
		r := testReminder("10:00")
		loc := time.FixedZone("UTC+2", 2*3600)
		slot, slotTime, ok := r.DueSlot(now, loc, window)
		if !ok {
			t.Fatal("expected 10:00 local to be due at 08:02 UTC in UTC+2")
		}
		if slot != "10:00" {
			t.Errorf("slot = %q, want 10:00", slot)
		}
		want := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
		if !slotTime.Equal(want) {
			t.Errorf("slotTime = %v, want %v", slotTime, want)
		}
	})

	t.Run("slot just before midnight", func(t *testing.T) {
		r := testReminder("23:58")
		afterMidnight := time.Date(2026, 3, 11, 0, 1, 0, 0, time.UTC)
		_, slotTime, ok := r.DueSlot(afterMidnight, time.UTC, window)
		if !ok {
			t.Fatal("expected 23:58 slot to be due at 00:01 the next day")
		}
		want := time.Date(2026, 3, 10, 23, 58, 0, 0, time.UTC)
		if !slotTime.Equal(want) {
			t.Errorf("slotTime = %v, want %v", slotTime, want)
		}
	})

	t.Run("second of multiple slots", func(t *testing.T) {
		r := testReminder("06:00", "08:00", "20:00")
		slot, _, ok := r.DueSlot(now, time.UTC, window)
		if !ok || slot != "08:00" {
			t.Fatalf("DueSlot() = %q, %v; want 08:00, true", slot, ok)
		}
	})
}

func TestDispatchable(t *testing.T) {
	r := testReminder("08:00")
	if !r.Dispatchable() {
		t.Fatal("enabled reminder should be dispatchable")
	}

	r.Enabled = false
	if r.Dispatchable() {
		t.Error("disabled reminder should not be dispatchable")
	}

	r.Enabled = true
	deleted := time.Now()
	r.DeletedAt = &deleted
	if r.Dispatchable() {
		t.Error("soft-deleted reminder should not be dispatchable")
	}
}

func TestMedicationSendable(t *testing.T) {
	m := &MedicationRecord{ID: "med-1", Name: "Lisinopril", Active: true}
	if !m.Sendable() {
		t.Fatal("active medication should be sendable")
	}

	m.Active = false
	if m.Sendable() {
		t.Error("inactive medication should not be sendable")
	}

	m.Active = true
	deleted := time.Now()
	m.DeletedAt = &deleted
	if m.Sendable() {
		t.Error("soft-deleted medication should not be sendable")
	}

	var missing *MedicationRecord
	if missing.Sendable() {
		t.Error("missing medication should not be sendable")
	}
}
