package model

type NotifyChannel struct {
	ID        int64
	Type      string
	Name      string
	Config    map[string]any
	IsEnabled bool
}

// ChannelBinding attaches a channel to an account with per-account overrides.
type ChannelBinding struct {
	AccountID    int64
	Channel      NotifyChannel
	NotifyConfig map[string]any
	IsEnabled    bool
}

// MergedConfig overlays the binding's config on top of the channel's.
func (b ChannelBinding) MergedConfig() map[string]any {
	merged := make(map[string]any, len(b.Channel.Config)+len(b.NotifyConfig))
	for k, v := range b.Channel.Config {
		merged[k] = v
	}
	for k, v := range b.NotifyConfig {
		merged[k] = v
	}
	return merged
}
