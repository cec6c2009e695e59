package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNotFound is returned for point lookups that matched no document
var ErrNotFound = errors.New("document not found")

// BatchWriteLimit is the store's per-batch operation ceiling. Batched
// updates and deletes are chunked below it and committed chunk by chunk.
const BatchWriteLimit = 200

// Store is the reminder record store backed by Postgres. Each reminder,
// medication, log and user row is treated as an independent document;
// the send lock relies only on single-row conditional updates.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewStore creates a reminder store
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("reminder-store"),
	}
}

const reminderColumns = `
	id, user_id, medication_id, medication_name, medication_dose,
	times, timing_mode, anchor_timezone, criticality, enabled,
	deleted_at, deleted_by, last_sent_at, last_sent_lock_until,
	last_sent_lock_at, created_at, updated_at`

// Create inserts a reminder document
func (s *Store) Create(ctx context.Context, r *MedicationReminder) error {
	if err := r.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO medication_reminders (
			id, user_id, medication_id, medication_name, medication_dose,
			times, timing_mode, anchor_timezone, criticality, enabled,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, r.ID, r.UserID, r.MedicationID, r.MedicationName, r.MedicationDose,
		r.Times, nullable(string(r.TimingMode)), nullable(r.AnchorTimezone),
		r.Criticality, r.Enabled, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// Get retrieves one reminder by ID
func (s *Store) Get(ctx context.Context, id string) (*MedicationReminder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM medication_reminders WHERE id = $1`, id)
	return scanReminder(row)
}

// ListByUser lists a user's reminders, excluding soft-deleted ones
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*MedicationReminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM medication_reminders
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// ListEnabled returns every dispatchable reminder. The scan pages through
// the collection internally with stable ID ordering.
func (s *Store) ListEnabled(ctx context.Context) ([]*MedicationReminder, error) {
	const pageSize = 500

	var all []*MedicationReminder
	cursor := ""
	for {
		rows, err := s.pool.Query(ctx, `
			SELECT `+reminderColumns+`
			FROM medication_reminders
			WHERE enabled AND deleted_at IS NULL AND id > $1
			ORDER BY id
			LIMIT $2
		`, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list enabled reminders: %w", err)
		}
		page, err := scanReminders(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		cursor = page[len(page)-1].ID
	}
}

// SetEnabled flips the enabled flag
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE medication_reminders SET enabled = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks a reminder deleted without removing the row
func (s *Store) SoftDelete(ctx context.Context, id, deletedBy string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE medication_reminders
		SET deleted_at = NOW(), deleted_by = $2, enabled = FALSE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, deletedBy)
	if err != nil {
		return fmt.Errorf("soft delete reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AcquireSendLock attempts to take the per-reminder send lock for a due
// slot. The conditional single-row update is the entire mutual-exclusion
// protocol: among concurrent dispatchers, at most one sees RowsAffected==1.
// An expired lock (lastSentLockUntil <= now) no longer blocks acquisition.
func (s *Store) AcquireSendLock(ctx context.Context, reminderID string, now, lockUntil time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "acquire_send_lock",
		trace.WithAttributes(attribute.String("reminder_id", reminderID)))
	defer span.End()

	tag, err := s.pool.Exec(ctx, `
		UPDATE medication_reminders
		SET last_sent_lock_until = $3, last_sent_lock_at = $2, updated_at = NOW()
		WHERE id = $1
		  AND enabled AND deleted_at IS NULL
		  AND (last_sent_lock_until IS NULL OR last_sent_lock_until <= $2)
	`, reminderID, now, lockUntil)
	if err != nil {
		return false, fmt.Errorf("acquire send lock: %w", err)
	}

	acquired := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("acquired", acquired))
	return acquired, nil
}

// ApplyUpdates applies dispatch bookkeeping mutations, chunked below the
// per-batch write ceiling. Completed chunks stay applied if a later chunk
// fails; callers resume from the error.
func (s *Store) ApplyUpdates(ctx context.Context, updates []Update) error {
	for start := 0; start < len(updates); start += BatchWriteLimit {
		end := start + BatchWriteLimit
		if end > len(updates) {
			end = len(updates)
		}

		batch := &pgx.Batch{}
		for _, u := range updates[start:end] {
			switch {
			case u.LastSentAt != nil && u.Enabled != nil:
				batch.Queue(`UPDATE medication_reminders
					SET last_sent_at = $2, enabled = $3, updated_at = NOW() WHERE id = $1`,
					u.ReminderID, *u.LastSentAt, *u.Enabled)
			case u.LastSentAt != nil:
				batch.Queue(`UPDATE medication_reminders
					SET last_sent_at = $2, updated_at = NOW() WHERE id = $1`,
					u.ReminderID, *u.LastSentAt)
			case u.Enabled != nil:
				batch.Queue(`UPDATE medication_reminders
					SET enabled = $2, updated_at = NOW() WHERE id = $1`,
					u.ReminderID, *u.Enabled)
			}
		}

		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("apply updates chunk at %d: %w", start, err)
		}
	}
	return nil
}

// GetMedication resolves the medication document a reminder points at.
// Returns ErrNotFound when the document does not exist.
func (s *Store) GetMedication(ctx context.Context, id string) (*MedicationRecord, error) {
	m := &MedicationRecord{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, active, deleted_at FROM medications WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Active, &m.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

// GetUserTimezone looks up the patient's current account timezone. It is
// looked up fresh on every scan because travel changes it.
func (s *Store) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	var tz *string
	err := s.pool.QueryRow(ctx, `SELECT timezone FROM users WHERE id = $1`, userID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get user timezone: %w", err)
	}
	if tz == nil || *tz == "" {
		return "UTC", nil
	}
	return *tz, nil
}

// ListMedicationLogsByUserAndLoggedAtRange returns tracking logs inside the
// inclusive [from, to] range, used for same-day cooldown checks.
func (s *Store) ListMedicationLogsByUserAndLoggedAtRange(ctx context.Context, userID string, from, to time.Time) ([]*MedicationLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, tracking_type, logged_at
		FROM medication_logs
		WHERE user_id = $1 AND logged_at >= $2 AND logged_at <= $3
		ORDER BY logged_at
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list medication logs: %w", err)
	}
	defer rows.Close()

	var logs []*MedicationLog
	for rows.Next() {
		l := &MedicationLog{}
		if err := rows.Scan(&l.ID, &l.UserID, &l.TrackingType, &l.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan medication log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListRemindersAfter returns a keyset page of reminders ordered by ID,
// strictly after the cursor. Soft-deleted rows are included so migration
// sweeps see the whole collection.
func (s *Store) ListRemindersAfter(ctx context.Context, cursor string, limit int) ([]*MedicationReminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM medication_reminders
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list reminders after cursor: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// SetTimingDefaults stamps an explicit timing mode on reminders that have
// none. The NULL guard makes a re-run a no-op.
func (s *Store) SetTimingDefaults(ctx context.Context, ids []string, mode TimingMode) error {
	for start := 0; start < len(ids); start += BatchWriteLimit {
		end := start + BatchWriteLimit
		if end > len(ids) {
			end = len(ids)
		}
		_, err := s.pool.Exec(ctx, `
			UPDATE medication_reminders
			SET timing_mode = $2, updated_at = NOW()
			WHERE id = ANY($1) AND timing_mode IS NULL
		`, ids[start:end], string(mode))
		if err != nil {
			return fmt.Errorf("set timing defaults: %w", err)
		}
	}
	return nil
}

// DeleteRemindersDeletedBefore hard-deletes up to limit reminders whose
// soft-delete timestamp is at or before the cutoff, returning the count.
func (s *Store) DeleteRemindersDeletedBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM medication_reminders
		WHERE id IN (
			SELECT id FROM medication_reminders
			WHERE deleted_at IS NOT NULL AND deleted_at <= $1
			ORDER BY id
			LIMIT $2
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete soft-deleted reminders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*MedicationReminder, error) {
	r := &MedicationReminder{}
	var timingMode, anchorTZ, deletedBy, dose *string
	err := row.Scan(
		&r.ID, &r.UserID, &r.MedicationID, &r.MedicationName, &dose,
		&r.Times, &timingMode, &anchorTZ, &r.Criticality, &r.Enabled,
		&r.DeletedAt, &deletedBy, &r.LastSentAt, &r.LastSentLockUntil,
		&r.LastSentLockAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reminder: %w", err)
	}
	if dose != nil {
		r.MedicationDose = *dose
	}
	if timingMode != nil {
		r.TimingMode = TimingMode(*timingMode)
	}
	if anchorTZ != nil {
		r.AnchorTimezone = *anchorTZ
	}
	if deletedBy != nil {
		r.DeletedBy = *deletedBy
	}
	return r, nil
}

func scanReminders(rows pgx.Rows) ([]*MedicationReminder, error) {
	defer rows.Close()
	var out []*MedicationReminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
