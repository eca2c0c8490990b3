package signlog

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

// ReplaceTokens swaps the cached tokens of an account for tokens.
func (s *Store) ReplaceTokens(ctx context.Context, accountID int64, tokens []model.APIToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin token sync")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM api_tokens WHERE account_id = ?`, accountID); err != nil {
		return errors.Wrap(err, "clear tokens")
	}
	now := toMillis(s.now())
	for _, t := range tokens {
		if _, err := tx.ExecContext(ctx, `INSERT INTO api_tokens(account_id, token_id, name, token_key, status, remain_quota, used_quota, unlimited_quota, expired_time, group_name, synced_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			accountID, t.ID, t.Name, t.Key, t.Status, t.RemainQuota, t.UsedQuota, boolInt(t.UnlimitedQuota), t.ExpiredTime, t.Group, now); err != nil {
			return errors.Wrapf(err, "insert token %d", t.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit token sync")
}

func (s *Store) ListTokens(ctx context.Context, accountID int64) ([]model.APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_id, name, token_key, status, remain_quota, used_quota, unlimited_quota, expired_time, group_name
    FROM api_tokens WHERE account_id = ? ORDER BY token_id`, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "query tokens")
	}
	defer rows.Close()

	var out []model.APIToken
	for rows.Next() {
		var (
			t         model.APIToken
			unlimited int
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Key, &t.Status, &t.RemainQuota, &t.UsedQuota, &unlimited, &t.ExpiredTime, &t.Group); err != nil {
			return nil, errors.Wrap(err, "scan token")
		}
		t.AccountID = accountID
		t.UnlimitedQuota = unlimited == 1
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterate tokens")
}
