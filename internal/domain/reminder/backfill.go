package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BackfillPage reports one page of a cursor-paginated migration sweep.
// NextCursor resumes the sweep after interruption; stable ID ordering
// guarantees no document is missed or visited twice across pages.
type BackfillPage struct {
	Items          []string `json:"items"`
	ProcessedCount int      `json:"processed_count"`
	HasMore        bool     `json:"has_more"`
	NextCursor     string   `json:"next_cursor,omitempty"`
}

// BackfillStore is the store surface migration jobs need
type BackfillStore interface {
	ListRemindersAfter(ctx context.Context, cursor string, limit int) ([]*MedicationReminder, error)
	SetTimingDefaults(ctx context.Context, ids []string, mode TimingMode) error
	DeleteRemindersDeletedBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Backfiller runs one-time and repeatable maintenance sweeps over the
// reminder collection
type Backfiller struct {
	store  BackfillStore
	logger *zap.Logger
}

// NewBackfiller creates a backfiller
func NewBackfiller(store BackfillStore, logger *zap.Logger) *Backfiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backfiller{store: store, logger: logger}
}

// BackfillTimingPage processes one page of the timing-mode backfill.
// Reminders with no timing mode get an explicit one stamped: anchor for
// time-sensitive reminders that captured an anchor timezone, local
// otherwise. Already-stamped documents pass through untouched, so the
// sweep is safe to re-run.
func (b *Backfiller) BackfillTimingPage(ctx context.Context, cursor string, pageSize int, dryRun bool) (*BackfillPage, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	reminders, err := b.store.ListRemindersAfter(ctx, cursor, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list reminders page: %w", err)
	}

	page := &BackfillPage{Items: make([]string, 0, len(reminders))}
	var toLocal, toAnchor []string
	for _, r := range reminders {
		page.Items = append(page.Items, r.ID)
		if r.TimingMode != "" {
			continue
		}
		if r.Criticality == CriticalityTimeSensitive && r.AnchorTimezone != "" {
			toAnchor = append(toAnchor, r.ID)
		} else {
			toLocal = append(toLocal, r.ID)
		}
	}
	page.ProcessedCount = len(toLocal) + len(toAnchor)

	if !dryRun {
		if len(toLocal) > 0 {
			if err := b.store.SetTimingDefaults(ctx, toLocal, TimingLocal); err != nil {
				return nil, fmt.Errorf("stamp local timing mode: %w", err)
			}
		}
		if len(toAnchor) > 0 {
			if err := b.store.SetTimingDefaults(ctx, toAnchor, TimingAnchor); err != nil {
				return nil, fmt.Errorf("stamp anchor timing mode: %w", err)
			}
		}
	}

	if len(reminders) == pageSize {
		page.HasMore = true
		page.NextCursor = reminders[len(reminders)-1].ID
	}

	b.logger.Info("timing backfill page",
		zap.Int("items", len(page.Items)),
		zap.Int("processed", page.ProcessedCount),
		zap.Bool("dry_run", dryRun),
		zap.Bool("has_more", page.HasMore))

	return page, nil
}

// SweepSoftDeleted hard-deletes reminders soft-deleted at or before the
// cutoff, working in batches, and returns the total count removed.
func (b *Backfiller) SweepSoftDeleted(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = BatchWriteLimit
	}
	if batchSize > BatchWriteLimit {
		batchSize = BatchWriteLimit
	}

	total := 0
	for {
		n, err := b.store.DeleteRemindersDeletedBefore(ctx, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("sweep soft-deleted reminders: %w", err)
		}
		total += n
		if n < batchSize {
			break
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
	}

	b.logger.Info("soft-delete sweep complete",
		zap.Time("cutoff", cutoff),
		zap.Int("removed", total))
	return total, nil
}
