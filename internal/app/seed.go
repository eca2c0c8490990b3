package app

import (
	"context"
	"fmt"

	"github.com/hearthealt/anyrouter-autosign/internal/config"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
)

type SeedStore interface {
	UpsertAccount(ctx context.Context, a model.Account) (int64, error)
	UpsertChannel(ctx context.Context, ch model.NotifyChannel) (int64, error)
	BindChannel(ctx context.Context, accountID, channelID int64, notifyConfig map[string]any, enabled bool) error
	SaveSetting(ctx context.Context, key string, value any) error
}

// ApplySeed upserts the seed into the store. Rows not named in the seed are
// left alone.
func ApplySeed(ctx context.Context, store SeedStore, seed *config.Seed) error {
	if seed == nil {
		return nil
	}
	log := logger.NewNamed("Seed", nil)

	accounts := make(map[string]int64, len(seed.Accounts))
	for _, a := range seed.Accounts {
		id, err := store.UpsertAccount(ctx, model.Account{
			Username:       a.Username,
			SessionCookie:  a.SessionCookie,
			PlatformUserID: a.UserID,
			IsActive:       a.IsActive(),
		})
		if err != nil {
			return err
		}
		accounts[a.Username] = id
	}

	channels := make(map[string]int64, len(seed.Channels))
	for _, c := range seed.Channels {
		id, err := store.UpsertChannel(ctx, model.NotifyChannel{
			Type:      c.Type,
			Name:      c.Name,
			Config:    c.Config,
			IsEnabled: c.IsEnabled(),
		})
		if err != nil {
			return err
		}
		channels[c.Name] = id
	}

	for _, b := range seed.Bindings {
		accountID, ok := accounts[b.Account]
		if !ok {
			return fmt.Errorf("binding references unknown account %q", b.Account)
		}
		channelID, ok := channels[b.Channel]
		if !ok {
			return fmt.Errorf("binding references unknown channel %q", b.Channel)
		}
		if err := store.BindChannel(ctx, accountID, channelID, b.Config, b.IsEnabled()); err != nil {
			return err
		}
	}

	for key, value := range seed.Settings {
		if err := store.SaveSetting(ctx, key, value); err != nil {
			return err
		}
	}

	if len(seed.Accounts)+len(seed.Channels) > 0 {
		log.Log(fmt.Sprintf("Seeded %d accounts, %d channels, %d bindings", len(seed.Accounts), len(seed.Channels), len(seed.Bindings)))
	}
	return nil
}
