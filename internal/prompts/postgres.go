package prompts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

// PostgresQueue keeps prompts in the prompts table ordered by position.
// Pops lock the head row, so concurrent removals serialize on it.
type PostgresQueue struct {
	pool *pgxpool.Pool
}

func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool}
}

func (q *PostgresQueue) LoadAll(ctx context.Context) ([]model.Prompt, error) {
	rows, err := q.pool.Query(ctx, `SELECT id, text FROM prompts ORDER BY position`)
	if err != nil {
		return nil, backendError(err, "load")
	}
	defer rows.Close()

	prompts := []model.Prompt{}
	for rows.Next() {
		var p model.Prompt
		if err := rows.Scan(&p.ID, &p.Text); err != nil {
			return nil, backendError(fmt.Errorf("failed to scan prompt: %w", err), "load")
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError(err, "load")
	}

	return prompts, nil
}

func (q *PostgresQueue) Head(ctx context.Context) (model.Prompt, bool, error) {
	var p model.Prompt
	err := q.pool.QueryRow(ctx, `SELECT id, text FROM prompts ORDER BY position LIMIT 1`).Scan(&p.ID, &p.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Prompt{}, false, nil
	}
	if err != nil {
		return model.Prompt{}, false, backendError(err, "head")
	}
	return p, true, nil
}

// ReplaceAll locks the table so no pop interleaves with the swap
func (q *PostgresQueue) ReplaceAll(ctx context.Context, prompts []model.Prompt) error {
	if err := validate(prompts); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE prompts IN ACCESS EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("failed to lock prompts: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM prompts`); err != nil {
			return fmt.Errorf("failed to clear prompts: %w", err)
		}

		rows := make([][]interface{}, len(prompts))
		for i, p := range prompts {
			rows[i] = []interface{}{p.ID, p.Text}
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"prompts"}, []string{"id", "text"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to insert prompts: %w", err)
		}
		return nil
	})
	if err != nil {
		return backendError(err, "replace")
	}

	logger.Info("Prompt queue replaced", zap.Int("count", len(prompts)))
	return nil
}

func (q *PostgresQueue) RemoveFirst(ctx context.Context) (model.Prompt, bool, error) {
	var (
		p     model.Prompt
		found bool
	)

	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		var err error
		p, found, err = lockHead(ctx, tx)
		if err != nil || !found {
			return err
		}
		return deleteByID(ctx, tx, p.ID)
	})
	if err != nil {
		return model.Prompt{}, false, backendError(err, "remove")
	}
	return p, found, nil
}

func (q *PostgresQueue) RemoveHead(ctx context.Context, expectedID string) (model.Prompt, error) {
	var (
		p     model.Prompt
		found bool
	)

	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		var err error
		p, found, err = lockHead(ctx, tx)
		if err != nil || !found || p.ID != expectedID {
			return err
		}
		return deleteByID(ctx, tx, p.ID)
	})
	if err != nil {
		return model.Prompt{}, backendError(err, "remove")
	}

	if !found {
		return model.Prompt{}, staleHead(expectedID, nil)
	}
	if p.ID != expectedID {
		return model.Prompt{}, staleHead(expectedID, &p)
	}
	return p, nil
}

// lockHead selects and row-locks the head. A waiter blocked on the lock
// re-checks the row after the holder commits; if the holder deleted it the
// waiter gets no row even when more prompts remain, which callers treat as
// the prompt having moved on.
func lockHead(ctx context.Context, tx pgx.Tx) (model.Prompt, bool, error) {
	var p model.Prompt
	err := tx.QueryRow(ctx, `SELECT id, text FROM prompts ORDER BY position LIMIT 1 FOR UPDATE`).Scan(&p.ID, &p.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Prompt{}, false, nil
	}
	if err != nil {
		return model.Prompt{}, false, fmt.Errorf("failed to lock head prompt: %w", err)
	}
	return p, true, nil
}

func deleteByID(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM prompts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete prompt %s: %w", id, err)
	}
	return nil
}
