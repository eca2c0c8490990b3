package signlog

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

func encodeConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(cfg)
	return string(raw), err
}

func decodeConfig(raw string) map[string]any {
	cfg := map[string]any{}
	if raw == "" {
		return cfg
	}
	_ = json.Unmarshal([]byte(raw), &cfg)
	return cfg
}

// UpsertChannel inserts or updates by name and returns the row id.
func (s *Store) UpsertChannel(ctx context.Context, ch model.NotifyChannel) (int64, error) {
	cfg, err := encodeConfig(ch.Config)
	if err != nil {
		return 0, errors.Wrapf(err, "encode config of channel %s", ch.Name)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `INSERT INTO notify_channels(type, name, config, is_enabled) VALUES(?, ?, ?, ?)
    ON CONFLICT(name) DO UPDATE SET type = excluded.type, config = excluded.config, is_enabled = excluded.is_enabled
    RETURNING id`, ch.Type, ch.Name, cfg, boolInt(ch.IsEnabled)).Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(err, "upsert channel %s", ch.Name)
	}
	return id, nil
}

func (s *Store) BindChannel(ctx context.Context, accountID, channelID int64, notifyConfig map[string]any, enabled bool) error {
	cfg, err := encodeConfig(notifyConfig)
	if err != nil {
		return errors.Wrap(err, "encode binding config")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO account_notify(account_id, channel_id, notify_config, is_enabled) VALUES(?, ?, ?, ?)
    ON CONFLICT(account_id, channel_id) DO UPDATE SET notify_config = excluded.notify_config, is_enabled = excluded.is_enabled`,
		accountID, channelID, cfg, boolInt(enabled))
	return errors.Wrapf(err, "bind channel %d to account %d", channelID, accountID)
}

// ListAccountBindings returns the enabled bindings of an account whose
// channel is enabled too.
func (s *Store) ListAccountBindings(ctx context.Context, accountID int64) ([]model.ChannelBinding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT c.id, c.type, c.name, c.config, an.notify_config
    FROM account_notify an JOIN notify_channels c ON c.id = an.channel_id
    WHERE an.account_id = ? AND an.is_enabled = 1 AND c.is_enabled = 1
    ORDER BY c.id`, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "query bindings")
	}
	defer rows.Close()

	var out []model.ChannelBinding
	for rows.Next() {
		var (
			b                  model.ChannelBinding
			chConfig, bindConf string
		)
		if err := rows.Scan(&b.Channel.ID, &b.Channel.Type, &b.Channel.Name, &chConfig, &bindConf); err != nil {
			return nil, errors.Wrap(err, "scan binding")
		}
		b.AccountID = accountID
		b.Channel.Config = decodeConfig(chConfig)
		b.Channel.IsEnabled = true
		b.NotifyConfig = decodeConfig(bindConf)
		b.IsEnabled = true
		out = append(out, b)
	}
	return out, errors.Wrap(rows.Err(), "iterate bindings")
}
