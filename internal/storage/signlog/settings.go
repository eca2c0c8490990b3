package signlog

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

func (s *Store) ensureDefaultSettings() error {
	d := model.DefaultScheduleSettings()
	defaults := map[string]any{
		model.SettingAutoSignEnabled:     d.AutoSignEnabled,
		model.SettingAutoSignTime:        d.AutoSignTime,
		model.SettingRetryEnabled:        d.RetryEnabled,
		model.SettingMaxRetries:          d.MaxRetries,
		model.SettingRetryInterval:       d.RetryIntervalMin,
		model.SettingHealthCheckEnabled:  d.HealthCheckEnabled,
		model.SettingHealthCheckInterval: d.HealthCheckInterval,
	}
	now := toMillis(s.now())
	for key, value := range defaults {
		raw, err := json.Marshal(value)
		if err != nil {
			return errors.Wrapf(err, "encode default %s", key)
		}
		if _, err := s.db.Exec(`INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?) ON CONFLICT(key) DO NOTHING`,
			key, string(raw), now); err != nil {
			return errors.Wrapf(err, "seed setting %s", key)
		}
	}
	return nil
}

// SaveSetting stores value as JSON under key.
func (s *Store) SaveSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode setting %s", key)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?)
    ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), toMillis(s.now()))
	return errors.Wrapf(err, "save setting %s", key)
}

func (s *Store) settingsMap(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, errors.Wrap(err, "query settings")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		out[k] = v
	}
	return out, errors.Wrap(rows.Err(), "iterate settings")
}

// LoadScheduleSettings reads the schedule configuration fresh from the table.
// Missing or unreadable values fall back to defaults.
func (s *Store) LoadScheduleSettings(ctx context.Context) (model.ScheduleSettings, error) {
	cfg := model.DefaultScheduleSettings()
	values, err := s.settingsMap(ctx)
	if err != nil {
		return cfg, err
	}

	decode := func(key string, dst any) {
		raw, ok := values[key]
		if !ok {
			return
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			if sp, isString := dst.(*string); isString {
				*sp = raw
			}
		}
	}
	decode(model.SettingAutoSignEnabled, &cfg.AutoSignEnabled)
	decode(model.SettingAutoSignTime, &cfg.AutoSignTime)
	decode(model.SettingRetryEnabled, &cfg.RetryEnabled)
	decode(model.SettingMaxRetries, &cfg.MaxRetries)
	decode(model.SettingRetryInterval, &cfg.RetryIntervalMin)
	decode(model.SettingHealthCheckEnabled, &cfg.HealthCheckEnabled)
	decode(model.SettingHealthCheckInterval, &cfg.HealthCheckInterval)
	return cfg, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, errors.Wrapf(err, "get setting %s", key)
}
