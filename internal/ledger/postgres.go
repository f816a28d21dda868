// Package ledger records every stored recording so partial successes can be
// found and reconciled later.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voicecollect/pkg/model"
)

var ErrNotFound = errors.New("recording not found")

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Upsert stores the event keyed by object key. An older event never
// replaces a newer one, so redelivered messages are harmless.
func (l *Postgres) Upsert(ctx context.Context, event *model.RecordingEvent) error {
	query := `
		INSERT INTO recordings (key, event_id, prompt_id, url, status, error_text, occurred_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (key) DO UPDATE
		SET event_id = EXCLUDED.event_id,
		    prompt_id = EXCLUDED.prompt_id,
		    url = EXCLUDED.url,
		    status = EXCLUDED.status,
		    error_text = EXCLUDED.error_text,
		    occurred_at = EXCLUDED.occurred_at,
		    updated_at = NOW()
		WHERE recordings.occurred_at <= EXCLUDED.occurred_at`

	_, err := l.pool.Exec(ctx, query,
		event.Key,
		event.ID,
		event.PromptID,
		event.URL,
		event.Status,
		event.Error,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert recording: %w", err)
	}

	return nil
}

// Get returns the latest event recorded for key
func (l *Postgres) Get(ctx context.Context, key string) (*model.RecordingEvent, error) {
	query := `
		SELECT event_id, prompt_id, key, url, status, error_text, occurred_at
		FROM recordings
		WHERE key = $1`

	var event model.RecordingEvent
	err := l.pool.QueryRow(ctx, query, key).Scan(
		&event.ID,
		&event.PromptID,
		&event.Key,
		&event.URL,
		&event.Status,
		&event.Error,
		&event.OccurredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}

	return &event, nil
}

// Pending lists recordings stored without advancing the queue, oldest first
func (l *Postgres) Pending(ctx context.Context, limit int) ([]*model.RecordingEvent, error) {
	query := `
		SELECT event_id, prompt_id, key, url, status, error_text, occurred_at
		FROM recordings
		WHERE status = $1
		ORDER BY occurred_at ASC
		LIMIT $2`

	rows, err := l.pool.Query(ctx, query, model.RecordingStatusPartial, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending recordings: %w", err)
	}
	defer rows.Close()

	var events []*model.RecordingEvent
	for rows.Next() {
		var event model.RecordingEvent
		err := rows.Scan(
			&event.ID,
			&event.PromptID,
			&event.Key,
			&event.URL,
			&event.Status,
			&event.Error,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recordings: %w", err)
	}

	return events, nil
}
