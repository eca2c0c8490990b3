package signlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

// InsertSignLog appends one outcome row. Rows are never deduplicated.
func (s *Store) InsertSignLog(ctx context.Context, o model.SignOutcome) (int64, error) {
	signedAt := o.SignedAt
	if signedAt.IsZero() {
		signedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO sign_logs(account_id, sign_time, outcome, success, message, reward_quota, retry_count)
    VALUES(?, ?, ?, ?, ?, ?, ?)`,
		o.AccountID, toMillis(signedAt), string(o.Kind), boolInt(o.Kind.Succeeded()), o.Message, o.RewardQuota, o.Attempt)
	if err != nil {
		return 0, errors.Wrapf(err, "insert sign log for account %d", o.AccountID)
	}
	return res.LastInsertId()
}

// ListSignLogs returns the newest rows first. A zero accountID lists all.
func (s *Store) ListSignLogs(ctx context.Context, accountID int64, limit int) ([]model.SignOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, account_id, sign_time, outcome, message, reward_quota, retry_count FROM sign_logs`
	args := []any{}
	if accountID > 0 {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY sign_time DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query sign logs")
	}
	defer rows.Close()

	var out []model.SignOutcome
	for rows.Next() {
		var (
			o    model.SignOutcome
			at   sql.NullInt64
			kind string
		)
		if err := rows.Scan(&o.ID, &o.AccountID, &at, &kind, &o.Message, &o.RewardQuota, &o.Attempt); err != nil {
			return nil, errors.Wrap(err, "scan sign log")
		}
		o.Kind = model.OutcomeKind(kind)
		o.SignedAt = fromMillis(at)
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "iterate sign logs")
}

// SignedSince reports whether the account has a successful row at or after t.
func (s *Store) SignedSince(ctx context.Context, accountID int64, t time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sign_logs WHERE account_id = ? AND success = 1 AND sign_time >= ?`,
		accountID, toMillis(t)).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "count sign logs")
	}
	return n > 0, nil
}
