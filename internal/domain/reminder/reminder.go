// Package reminder implements medication reminder records and their
// at-most-once dispatch engine.
package reminder

import (
	"fmt"
	"strconv"
	"time"
)

// TimingMode selects which timezone a reminder's wall-clock slots follow
type TimingMode string

const (
	// TimingLocal follows the patient's current account timezone
	TimingLocal TimingMode = "local"
	// TimingAnchor pins slots to the timezone captured when the reminder
	// was created, regardless of where the patient travels
	TimingAnchor TimingMode = "anchor"
)

// Criticality influences the default timing-mode policy
type Criticality string

const (
	CriticalityStandard      Criticality = "standard"
	CriticalityTimeSensitive Criticality = "time_sensitive"
)

const (
	// MaxTimesPerReminder bounds the wall-clock slots per reminder
	MaxTimesPerReminder = 4
	// DefaultLockTTL is how long a send lock blocks competing dispatchers
	DefaultLockTTL = 5 * time.Minute
	// DefaultDueWindow is how far past a slot a scan still considers it due
	DefaultDueWindow = 5 * time.Minute
)

// MedicationReminder is one user+medication+schedule reminder document
type MedicationReminder struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	MedicationID   string      `json:"medication_id"`
	MedicationName string      `json:"medication_name"`
	MedicationDose string      `json:"medication_dose,omitempty"`
	Times          []string    `json:"times"`
	TimingMode     TimingMode  `json:"timing_mode,omitempty"`
	AnchorTimezone string      `json:"anchor_timezone,omitempty"`
	Criticality    Criticality `json:"criticality"`
	Enabled        bool        `json:"enabled"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`
	DeletedBy      string      `json:"deleted_by,omitempty"`

	// Dispatch bookkeeping
	LastSentAt        *time.Time `json:"last_sent_at,omitempty"`
	LastSentLockUntil *time.Time `json:"last_sent_lock_until,omitempty"`
	LastSentLockAt    *time.Time `json:"last_sent_lock_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the schedule invariants a reminder must satisfy
func (r *MedicationReminder) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if r.MedicationID == "" {
		return fmt.Errorf("medication id is required")
	}
	if len(r.Times) == 0 || len(r.Times) > MaxTimesPerReminder {
		return fmt.Errorf("reminder needs between 1 and %d times, got %d", MaxTimesPerReminder, len(r.Times))
	}
	for _, t := range r.Times {
		if _, _, err := parseSlot(t); err != nil {
			return err
		}
	}
	if r.TimingMode == TimingAnchor && r.AnchorTimezone == "" {
		return fmt.Errorf("anchor timing mode requires an anchor timezone")
	}
	return nil
}

// Dispatchable reports whether the reminder may be considered at all:
// disabled or soft-deleted reminders are never dispatched.
func (r *MedicationReminder) Dispatchable() bool {
	return r.Enabled && r.DeletedAt == nil
}

// EffectiveTimezone resolves which timezone the reminder's slots follow,
// given the patient's current account timezone. When the timing mode is
// unset, time-sensitive reminders with a captured anchor stay anchored and
// everything else follows the account timezone.
func (r *MedicationReminder) EffectiveTimezone(userTimezone string) string {
	switch r.TimingMode {
	case TimingAnchor:
		return r.AnchorTimezone
	case TimingLocal:
		return userTimezone
	}
	if r.Criticality == CriticalityTimeSensitive && r.AnchorTimezone != "" {
		return r.AnchorTimezone
	}
	return userTimezone
}

// DueSlot reports whether any configured slot is currently due in loc,
// returning the matching HH:MM entry and its occurrence instant in UTC.
// A slot is due when now falls inside [slot, slot+window) and the reminder
// was not already sent at or after that slot occurrence.
func (r *MedicationReminder) DueSlot(now time.Time, loc *time.Location, window time.Duration) (string, time.Time, bool) {
	if window <= 0 {
		window = DefaultDueWindow
	}

	local := now.In(loc)
	for _, t := range r.Times {
		hour, minute, err := parseSlot(t)
		if err != nil {
			continue
		}

		slot := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		// A slot just after midnight may have occurred yesterday relative
		// to a scan running shortly after it.
		if slot.After(local) {
			slot = slot.AddDate(0, 0, -1)
		}

		if local.Sub(slot) >= window {
			continue
		}
		if r.LastSentAt != nil && !r.LastSentAt.Before(slot.UTC()) {
			continue
		}
		return t, slot.UTC(), true
	}

	return "", time.Time{}, false
}

func parseSlot(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("invalid time slot %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(s[:2])
	if err == nil {
		minute, err = strconv.Atoi(s[3:])
	}
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time slot %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time slot %q out of range", s)
	}
	return hour, minute, nil
}

// MedicationRecord is the point-lookup shape of a medication document the
// dispatch guard checks before sending.
type MedicationRecord struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Active    bool       `json:"active"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Sendable reports whether a reminder for this medication may be sent
func (m *MedicationRecord) Sendable() bool {
	return m != nil && m.Active && m.DeletedAt == nil
}

// MedicationLog is one tracking-log document used for cooldown range scans
type MedicationLog struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	TrackingType string    `json:"tracking_type"`
	LoggedAt     time.Time `json:"logged_at"`
}

// Update is one pending mutation applied in a batched write
type Update struct {
	ReminderID string
	LastSentAt *time.Time
	Enabled    *bool
}
