package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/curalog/go-care/internal/domain/delta"
)

// NudgeStore persists validated nudges and stages their delivery events.
// The nudge documents and the outbox entry are written in one transaction,
// so a nudge either exists with its event staged or not at all.
type NudgeStore struct {
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
}

// NewNudgeStore creates a nudge store that stages events for topic
func NewNudgeStore(pool *pgxpool.Pool, topic string, logger *zap.Logger) *NudgeStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NudgeStore{pool: pool, topic: topic, logger: logger}
}

type nudgeEvent struct {
	UserID  string       `json:"user_id"`
	VisitID string       `json:"visit_id"`
	Nudges  []delta.Nudge `json:"nudges"`
}

// EmitNudges stores the nudges produced for one visit and stages a single
// delivery event covering all of them
func (s *NudgeStore) EmitNudges(ctx context.Context, userID, visitID string, nudges []delta.Nudge) error {
	if len(nudges) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin nudge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, n := range nudges {
		doc, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal nudge: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO nudges (id, user_id, visit_id, nudge_type, doc, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.NewString(), userID, visitID, string(n.Type), doc, now)
		if err != nil {
			return fmt.Errorf("insert nudge: %w", err)
		}
	}

	payload, err := json.Marshal(nudgeEvent{UserID: userID, VisitID: visitID, Nudges: nudges})
	if err != nil {
		return fmt.Errorf("marshal nudge event: %w", err)
	}

	entry := &OutboxEntry{
		UserID:    userID,
		EventType: "nudges.created",
		Payload:   payload,
		Topic:     s.topic,
		Key:       userID,
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit nudge transaction: %w", err)
	}

	s.logger.Info("nudges stored",
		zap.String("user_id", userID),
		zap.String("visit_id", visitID),
		zap.Int("count", len(nudges)))

	return nil
}

// ListNudgesByUser returns a user's nudges, newest first
func (s *NudgeStore) ListNudgesByUser(ctx context.Context, userID string, limit int) ([]delta.Nudge, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM nudges
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list nudges: %w", err)
	}
	defer rows.Close()

	var nudges []delta.Nudge
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan nudge: %w", err)
		}
		var n delta.Nudge
		if err := json.Unmarshal(doc, &n); err != nil {
			return nil, fmt.Errorf("decode nudge: %w", err)
		}
		nudges = append(nudges, n)
	}
	return nudges, rows.Err()
}
