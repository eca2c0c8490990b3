package signlog

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

const accountColumns = `id, username, display_name, session_cookie, anyrouter_user_id, is_active,
    health_status, health_message, quota, used_quota, last_check_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		a         model.Account
		userID    sql.NullInt64
		active    int
		lastCheck sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &a.SessionCookie, &userID, &active,
		&a.HealthStatus, &a.HealthMessage, &a.Quota, &a.UsedQuota, &lastCheck); err != nil {
		return nil, err
	}
	a.PlatformUserID = userID.Int64
	a.IsActive = active == 1
	a.LastCheckAt = fromMillis(lastCheck)
	return &a, nil
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query accounts")
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan account")
		}
		a.Index = len(accounts)
		accounts = append(accounts, *a)
	}
	return accounts, errors.Wrap(rows.Err(), "iterate accounts")
}

// ListSignableAccounts returns active accounts that have a platform user id,
// in id order.
func (s *Store) ListSignableAccounts(ctx context.Context) ([]model.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
    WHERE is_active = 1 AND anyrouter_user_id IS NOT NULL AND anyrouter_user_id > 0
    ORDER BY id`)
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get account %d", id)
	}
	return a, nil
}

// UpsertAccount inserts or updates by username and returns the row id.
func (s *Store) UpsertAccount(ctx context.Context, a model.Account) (int64, error) {
	now := toMillis(s.now())
	var userID any
	if a.PlatformUserID > 0 {
		userID = a.PlatformUserID
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO accounts(username, display_name, session_cookie, anyrouter_user_id, is_active, created_at, updated_at)
    VALUES(?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(username) DO UPDATE SET
        display_name = excluded.display_name,
        session_cookie = excluded.session_cookie,
        anyrouter_user_id = excluded.anyrouter_user_id,
        is_active = excluded.is_active,
        updated_at = excluded.updated_at
    RETURNING id`, a.Username, a.DisplayName, a.SessionCookie, userID, boolInt(a.IsActive), now, now).Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(err, "upsert account %s", a.Username)
	}
	return id, nil
}

func (s *Store) SetAccountActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), toMillis(s.now()), id)
	if err != nil {
		return errors.Wrapf(err, "set account %d active", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type HealthUpdate struct {
	Status  string
	Message string
	Profile *model.UserProfile
}

// UpdateHealth records a health check. Cached profile fields are only
// overwritten when a profile came back.
func (s *Store) UpdateHealth(ctx context.Context, id int64, u HealthUpdate) error {
	now := toMillis(s.now())
	var err error
	if u.Profile != nil {
		_, err = s.db.ExecContext(ctx, `UPDATE accounts SET
        health_status = ?, health_message = ?, quota = ?, used_quota = ?,
        display_name = CASE WHEN ? != '' THEN ? ELSE display_name END,
        last_check_at = ?, updated_at = ?
        WHERE id = ?`,
			u.Status, u.Message, u.Profile.Quota, u.Profile.UsedQuota,
			u.Profile.DisplayName, u.Profile.DisplayName, now, now, id)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE accounts SET health_status = ?, health_message = ?, last_check_at = ?, updated_at = ? WHERE id = ?`,
			u.Status, u.Message, now, now, id)
	}
	return errors.Wrapf(err, "update health of account %d", id)
}
