package carecontext

import (
	"context"
	"encoding/json"
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

// ErrMergeConflict is returned when a context mutation keeps losing the
// version race after all retries. Callers should surface it, not swallow it.
var ErrMergeConflict = errors.New("context merge conflict: concurrent writers")

// mergeRetries bounds optimistic-concurrency retries on context mutations.
const mergeRetries = 3

// Store persists patient medical contexts as versioned JSONB documents.
// All mutations go through a read-modify-write guarded by the stored
// version, so concurrent merges for the same patient cannot lose updates.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer

	// now is swappable for tests
	now func() time.Time
}

// NewStore creates a context store
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("carecontext"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the patient's context, creating an empty one on first
// use. Concurrent first calls for the same patient produce exactly one row.
func (s *Store) GetOrCreate(ctx context.Context, userID string) (*PatientMedicalContext, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	fresh := NewContext(userID, s.now())
	doc, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO patient_contexts (user_id, doc, version, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, doc, fresh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}

	c, _, err := s.load(ctx, userID)
	return c, err
}

// Get returns the context or nil when the patient has none yet
func (s *Store) Get(ctx context.Context, userID string) (*PatientMedicalContext, error) {
	c, _, err := s.load(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// MergeVisit folds one visit's facts into the patient's context, creating
// the context first if needed. The operation is total: there is no separate
// missing-context error path.
func (s *Store) MergeVisit(ctx context.Context, userID string, update VisitUpdate) (*PatientMedicalContext, error) {
	ctx, span := s.tracer.Start(ctx, "context_merge_visit",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("visit_id", update.VisitID),
		))
	defer span.End()

	return s.mutate(ctx, userID, func(c *PatientMedicalContext) {
		c.ApplyVisit(update, s.now())
	})
}

// EnableTracking appends a tracking entry for the patient
func (s *Store) EnableTracking(ctx context.Context, userID string, t TrackingType, sourceConditionID string) (*PatientMedicalContext, error) {
	if !ValidTrackingType(t) {
		return nil, fmt.Errorf("invalid tracking type %q", t)
	}
	return s.mutate(ctx, userID, func(c *PatientMedicalContext) {
		c.EnableTracking(t, sourceConditionID, s.now())
	})
}

// RecordTrackingLog stamps lastLoggedAt for the tracking type. Missing
// context or missing entry is a no-op, not an error.
func (s *Store) RecordTrackingLog(ctx context.Context, userID string, t TrackingType) error {
	c, _, err := s.load(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if !c.RecordTrackingLog(t, s.now()) {
		return nil
	}
	_, err = s.mutate(ctx, userID, func(c *PatientMedicalContext) {
		c.RecordTrackingLog(t, s.now())
	})
	return err
}

// mutate runs fn against the current document and writes it back with a
// version-guarded update, retrying on conflict. The context is created
// lazily when absent.
func (s *Store) mutate(ctx context.Context, userID string, fn func(*PatientMedicalContext)) (*PatientMedicalContext, error) {
	for attempt := 0; attempt <= mergeRetries; attempt++ {
		c, version, err := s.load(ctx, userID)
		if errors.Is(err, pgx.ErrNoRows) {
			if c, err = s.GetOrCreate(ctx, userID); err != nil {
				return nil, err
			}
			version = 0
		} else if err != nil {
			return nil, err
		}

		fn(c)

		doc, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal context: %w", err)
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE patient_contexts
			SET doc = $2, version = version + 1, updated_at = $3
			WHERE user_id = $1 AND version = $4
		`, userID, doc, c.UpdatedAt, version)
		if err != nil {
			return nil, fmt.Errorf("update context: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return c, nil
		}

		s.logger.Debug("context version conflict, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1))
	}

	return nil, ErrMergeConflict
}

func (s *Store) load(ctx context.Context, userID string) (*PatientMedicalContext, int64, error) {
	var doc []byte
	var version int64

	err := s.pool.QueryRow(ctx, `
		SELECT doc, version FROM patient_contexts WHERE user_id = $1
	`, userID).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("load context: %w", err)
	}

	c := &PatientMedicalContext{}
	if err := json.Unmarshal(doc, c); err != nil {
		return nil, 0, fmt.Errorf("unmarshal context: %w", err)
	}
	return c, version, nil
}
