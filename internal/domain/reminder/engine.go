package reminder

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/curalog/go-care/pkg/workerpool"
)

// EngineStore is the store surface the dispatch engine needs
type EngineStore interface {
	ListEnabled(ctx context.Context) ([]*MedicationReminder, error)
	GetMedication(ctx context.Context, id string) (*MedicationRecord, error)
	GetUserTimezone(ctx context.Context, userID string) (string, error)
	AcquireSendLock(ctx context.Context, reminderID string, now, lockUntil time.Time) (bool, error)
	ApplyUpdates(ctx context.Context, updates []Update) error
}

// Notifier delivers a due reminder to the patient. Delivery transport
// (push, SMS) lives behind this interface.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Notification is one outbound reminder delivery
type Notification struct {
	ReminderID     string    `json:"reminder_id"`
	UserID         string    `json:"user_id"`
	MedicationID   string    `json:"medication_id,omitempty"`
	MedicationName string    `json:"medication_name"`
	MedicationDose string    `json:"medication_dose,omitempty"`
	Slot           string    `json:"slot"`
	ScheduledFor   time.Time `json:"scheduled_for"`
	Criticality    string    `json:"criticality"`
}

// EngineConfig tunes a dispatch scan
type EngineConfig struct {
	Workers   int
	DueWindow time.Duration
	LockTTL   time.Duration
	// DisableOrphaned auto-disables reminders whose medication document
	// no longer exists. Inactive medications are only skipped.
	DisableOrphaned bool
}

// DefaultEngineConfig returns the standard scan tuning
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:         16,
		DueWindow:       DefaultDueWindow,
		LockTTL:         DefaultLockTTL,
		DisableOrphaned: true,
	}
}

// ScanStats summarizes one dispatch pass
type ScanStats struct {
	Scanned           int
	Due               int
	Sent              int
	SkippedLock       int
	SkippedMedication int
	Disabled          int
	Errors            int
}

// Engine dispatches due medication reminders. A scan lists every enabled
// reminder, resolves each one's authoritative timezone, and hands due
// slots to a worker pool. The per-reminder send lock keeps concurrent or
// overlapping scans from double-sending.
type Engine struct {
	store    EngineStore
	notifier Notifier
	config   EngineConfig
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEngine creates a dispatch engine
func NewEngine(store EngineStore, notifier Notifier, cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultEngineConfig().Workers
	}
	if cfg.DueWindow <= 0 {
		cfg.DueWindow = DefaultDueWindow
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer("reminder-engine"),
		now:      time.Now,
	}, nil
}

type dueReminder struct {
	reminder *MedicationReminder
	slot     string
	slotTime time.Time
}

type dispatchOutcome struct {
	sent    bool
	skipped string
	update  *Update
}

// Scan runs one dispatch pass and returns its stats. Bookkeeping updates
// for sent and disabled reminders are applied in one batched write at the
// end of the pass; the send lock covers the gap.
func (e *Engine) Scan(ctx context.Context) (ScanStats, error) {
	ctx, span := e.tracer.Start(ctx, "reminder_scan")
	defer span.End()

	var stats ScanStats
	now := e.now()

	reminders, err := e.store.ListEnabled(ctx)
	if err != nil {
		return stats, fmt.Errorf("list enabled reminders: %w", err)
	}
	stats.Scanned = len(reminders)

	due := e.collectDue(ctx, reminders, now, &stats)
	stats.Due = len(due)
	if len(due) == 0 {
		span.SetAttributes(attribute.Int("scanned", stats.Scanned))
		return stats, nil
	}

	outcomes, err := e.dispatchAll(ctx, due, now)
	if err != nil {
		return stats, err
	}

	var updates []Update
	for _, o := range outcomes {
		switch {
		case o.sent:
			stats.Sent++
		case o.skipped == "lock":
			stats.SkippedLock++
		case o.skipped == "medication":
			stats.SkippedMedication++
		default:
			stats.Errors++
		}
		if o.update != nil {
			if o.update.Enabled != nil && !*o.update.Enabled {
				stats.Disabled++
			}
			updates = append(updates, *o.update)
		}
	}

	if len(updates) > 0 {
		if err := e.store.ApplyUpdates(ctx, updates); err != nil {
			return stats, fmt.Errorf("apply dispatch updates: %w", err)
		}
	}

	span.SetAttributes(
		attribute.Int("scanned", stats.Scanned),
		attribute.Int("due", stats.Due),
		attribute.Int("sent", stats.Sent),
	)
	e.logger.Info("reminder scan complete",
		zap.Int("scanned", stats.Scanned),
		zap.Int("due", stats.Due),
		zap.Int("sent", stats.Sent),
		zap.Int("skipped_lock", stats.SkippedLock),
		zap.Int("skipped_medication", stats.SkippedMedication),
		zap.Int("errors", stats.Errors))

	return stats, nil
}

// collectDue resolves timezones and due slots serially. The account
// timezone is looked up fresh each scan because travel changes it, but
// it is reused across a single user's reminders within one pass.
func (e *Engine) collectDue(ctx context.Context, reminders []*MedicationReminder, now time.Time, stats *ScanStats) []dueReminder {
	tzByUser := make(map[string]string)

	var due []dueReminder
	for _, r := range reminders {
		if !r.Dispatchable() {
			continue
		}

		userTZ, ok := tzByUser[r.UserID]
		if !ok {
			tz, err := e.store.GetUserTimezone(ctx, r.UserID)
			if err != nil {
				e.logger.Warn("timezone lookup failed, defaulting to UTC",
					zap.String("user_id", r.UserID), zap.Error(err))
				tz = "UTC"
			}
			tzByUser[r.UserID] = tz
			userTZ = tz
		}

		loc, err := time.LoadLocation(r.EffectiveTimezone(userTZ))
		if err != nil {
			e.logger.Warn("invalid timezone, defaulting to UTC",
				zap.String("reminder_id", r.ID),
				zap.String("timezone", r.EffectiveTimezone(userTZ)))
			loc = time.UTC
		}

		slot, slotTime, ok := r.DueSlot(now, loc, e.config.DueWindow)
		if !ok {
			continue
		}
		due = append(due, dueReminder{reminder: r, slot: slot, slotTime: slotTime})
	}
	return due
}

// dispatchAll fans the due reminders out over a worker pool and collects
// one outcome per reminder.
func (e *Engine) dispatchAll(ctx context.Context, due []dueReminder, now time.Time) ([]dispatchOutcome, error) {
	poolCfg := workerpool.Config{
		Workers:   e.config.Workers,
		QueueSize: len(due),
		// The send path is not retried here: once the lock is taken a
		// failed delivery must wait for the lock to expire.
		MaxRetries:              0,
		GracefulShutdownTimeout: 30 * time.Second,
	}

	pool, err := workerpool.New(poolCfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		d := task.Payload.(dueReminder)
		outcome := e.dispatch(ctx, d, now)
		return &workerpool.Result{TaskID: task.ID, Success: true, Data: outcome}
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}
	pool.Start()
	defer pool.Stop()

	submitted := 0
	for _, d := range due {
		if err := pool.Submit(&workerpool.Task{ID: d.reminder.ID, Payload: d, Context: ctx}); err != nil {
			e.logger.Error("dispatch submit failed",
				zap.String("reminder_id", d.reminder.ID), zap.Error(err))
			continue
		}
		submitted++
	}

	outcomes := make([]dispatchOutcome, 0, submitted)
	for i := 0; i < submitted; i++ {
		select {
		case <-ctx.Done():
			return outcomes, ctx.Err()
		case res := <-pool.Results():
			outcomes = append(outcomes, res.Data.(dispatchOutcome))
		}
	}
	return outcomes, nil
}

// dispatch handles one due reminder: medication guard, lock, send.
func (e *Engine) dispatch(ctx context.Context, d dueReminder, now time.Time) dispatchOutcome {
	r := d.reminder

	if r.MedicationID != "" {
		med, err := e.store.GetMedication(ctx, r.MedicationID)
		switch {
		case err == ErrNotFound:
			e.logger.Warn("reminder references missing medication",
				zap.String("reminder_id", r.ID),
				zap.String("medication_id", r.MedicationID))
			out := dispatchOutcome{skipped: "medication"}
			if e.config.DisableOrphaned {
				disabled := false
				out.update = &Update{ReminderID: r.ID, Enabled: &disabled}
			}
			return out
		case err != nil:
			e.logger.Error("medication lookup failed",
				zap.String("reminder_id", r.ID), zap.Error(err))
			return dispatchOutcome{skipped: "error"}
		case !med.Sendable():
			return dispatchOutcome{skipped: "medication"}
		}
	}

	acquired, err := e.store.AcquireSendLock(ctx, r.ID, now, now.Add(e.config.LockTTL))
	if err != nil {
		e.logger.Error("send lock acquisition failed",
			zap.String("reminder_id", r.ID), zap.Error(err))
		return dispatchOutcome{skipped: "error"}
	}
	if !acquired {
		// Another scan holds the slot. Silent skip.
		return dispatchOutcome{skipped: "lock"}
	}

	n := Notification{
		ReminderID:     r.ID,
		UserID:         r.UserID,
		MedicationID:   r.MedicationID,
		MedicationName: r.MedicationName,
		MedicationDose: r.MedicationDose,
		Slot:           d.slot,
		ScheduledFor:   d.slotTime,
		Criticality:    string(r.Criticality),
	}
	if err := e.notifier.Send(ctx, n); err != nil {
		e.logger.Error("reminder delivery failed",
			zap.String("reminder_id", r.ID), zap.Error(err))
		return dispatchOutcome{skipped: "error"}
	}

	sentAt := now
	return dispatchOutcome{sent: true, update: &Update{ReminderID: r.ID, LastSentAt: &sentAt}}
}
