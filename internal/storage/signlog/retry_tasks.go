package signlog

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

// Enqueue persists tasks so a restart does not lose a pending retry wave.
// An account holds at most one task: a newer task replaces the older one.
func (s *Store) Enqueue(ctx context.Context, tasks []model.RetryTask) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin enqueue")
	}
	defer tx.Rollback()

	for _, t := range tasks {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO retry_tasks(id, wave_id, account_id, attempt_number, not_before, created_at)
        VALUES(?, ?, ?, ?, ?, ?)
        ON CONFLICT(account_id) DO UPDATE SET
            id = excluded.id,
            wave_id = excluded.wave_id,
            attempt_number = excluded.attempt_number,
            not_before = excluded.not_before,
            created_at = excluded.created_at`,
			t.ID, t.WaveID, t.AccountID, t.AttemptNumber, toMillis(t.NotBefore), toMillis(createdAt)); err != nil {
			return errors.Wrapf(err, "enqueue retry for account %d", t.AccountID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit enqueue")
}

// Due returns every task whose not_before has passed, oldest first.
func (s *Store) Due(ctx context.Context, now time.Time) ([]model.RetryTask, error) {
	return s.queryTasks(ctx, `SELECT id, wave_id, account_id, attempt_number, not_before, created_at
    FROM retry_tasks WHERE not_before <= ? ORDER BY not_before, created_at, account_id`, toMillis(now))
}

func (s *Store) Pending(ctx context.Context) ([]model.RetryTask, error) {
	return s.queryTasks(ctx, `SELECT id, wave_id, account_id, attempt_number, not_before, created_at
    FROM retry_tasks ORDER BY not_before, created_at, account_id`)
}

// Ack removes consumed tasks.
func (s *Store) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_tasks WHERE id IN (`+placeholders+`)`, args...)
	return errors.Wrap(err, "ack retry tasks")
}

// Rearm moves every pending task to created_at + interval.
func (s *Store) Rearm(ctx context.Context, interval time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE retry_tasks SET not_before = created_at + ?`, interval.Milliseconds())
	return errors.Wrap(err, "rearm retry tasks")
}

func (s *Store) Purge(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_tasks`)
	return errors.Wrap(err, "purge retry tasks")
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.RetryTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query retry tasks")
	}
	defer rows.Close()

	var out []model.RetryTask
	for rows.Next() {
		var (
			t                   model.RetryTask
			notBefore, creation sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.WaveID, &t.AccountID, &t.AttemptNumber, &notBefore, &creation); err != nil {
			return nil, errors.Wrap(err, "scan retry task")
		}
		t.NotBefore = fromMillis(notBefore)
		t.CreatedAt = fromMillis(creation)
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterate retry tasks")
}
