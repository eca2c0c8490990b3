package notify

import (
	"context"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

type bindingSource map[int64][]model.ChannelBinding

func (b bindingSource) ListAccountBindings(_ context.Context, accountID int64) ([]model.ChannelBinding, error) {
	return b[accountID], nil
}

func accountNamed(name string) *model.Account {
	return &model.Account{ID: 1, Username: name, IsActive: true}
}

func binding(kind string, channelCfg, bindingCfg map[string]any) model.ChannelBinding {
	return model.ChannelBinding{
		AccountID:    1,
		Channel:      model.NotifyChannel{Type: kind, Name: kind, Config: channelCfg, IsEnabled: true},
		NotifyConfig: bindingCfg,
		IsEnabled:    true,
	}
}

func rewarded(quota int64) model.SignOutcome {
	return model.SignOutcome{AccountID: 1, Kind: model.OutcomeRewarded, RewardQuota: quota}
}

func failed(msg string) model.SignOutcome {
	return model.SignOutcome{AccountID: 1, Kind: model.OutcomeFailed, Message: msg}
}
