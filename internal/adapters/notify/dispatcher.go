package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
	"github.com/hearthealt/anyrouter-autosign/pkg/utils"
)

type BindingLister interface {
	ListAccountBindings(ctx context.Context, accountID int64) ([]model.ChannelBinding, error)
}

// Observer hears about every delivery attempt.
type Observer interface {
	NotificationSent(channel string, ok bool)
}

type Dispatcher struct {
	registry  *Registry
	bindings  BindingLister
	observer  Observer
	quotaRate int64
}

type DispatcherOption func(*Dispatcher)

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func WithQuotaRate(rate int64) DispatcherOption {
	return func(d *Dispatcher) {
		if rate > 0 {
			d.quotaRate = rate
		}
	}
}

func NewDispatcher(registry *Registry, bindings BindingLister, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry, bindings: bindings, quotaRate: utils.DefaultQuotaRate}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SignMessage builds the title and content for a notifiable outcome. The
// content is the message the platform returned; an empty one falls back to
// the reward or a generic failure line.
func SignMessage(account *model.Account, o model.SignOutcome, rate int64) (title, content string) {
	content = strings.TrimSpace(o.Message)
	if o.Kind == model.OutcomeRewarded {
		if content == "" {
			content = "获得 " + utils.FormatQuota(o.RewardQuota, rate)
		}
		return "签到成功 - " + account.Label(), content
	}
	if content == "" {
		content = "签到失败"
	}
	return "签到失败 - " + account.Label(), content
}

// NotifyOutcome fans the outcome out to every enabled binding of the account.
// Delivery failures are logged and counted, never returned; the returned
// error only covers loading the bindings.
func (d *Dispatcher) NotifyOutcome(ctx context.Context, account *model.Account, o model.SignOutcome) (delivered int, err error) {
	if !o.Kind.Notifiable() {
		return 0, nil
	}
	bindings, err := d.bindings.ListAccountBindings(ctx, account.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load notify bindings: %w", err)
	}
	title, content := SignMessage(account, o, d.quotaRate)
	return d.Deliver(ctx, account, bindings, title, content), nil
}

func (d *Dispatcher) Deliver(ctx context.Context, account *model.Account, bindings []model.ChannelBinding, title, content string) int {
	log := logger.NewNamed("Notify", account)
	delivered := 0
	for _, b := range bindings {
		if !b.IsEnabled || !b.Channel.IsEnabled {
			continue
		}
		n, err := d.registry.Get(b.Channel.Type)
		if err != nil {
			log.Warn(fmt.Sprintf("Skipping channel %s: %v", b.Channel.Name, err))
			d.observe(b.Channel.Type, false)
			continue
		}
		if err := d.send(ctx, n, title, content, Config(b.MergedConfig())); err != nil {
			log.Error(fmt.Sprintf("Notification via %s (%s) failed", b.Channel.Name, b.Channel.Type), err)
			d.observe(b.Channel.Type, false)
			continue
		}
		log.JustLog(fmt.Sprintf("Notification sent via %s", b.Channel.Name))
		d.observe(b.Channel.Type, true)
		delivered++
	}
	return delivered
}

func (d *Dispatcher) send(ctx context.Context, n Notifier, title, content string, cfg Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("notifier panicked: ", r))
		}
	}()
	return n.Send(ctx, title, content, cfg)
}

func (d *Dispatcher) observe(channel string, ok bool) {
	if d.observer != nil {
		d.observer.NotificationSent(channel, ok)
	}
}
