package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hearthealt/anyrouter-autosign/internal/adapters/gateway"
	"github.com/hearthealt/anyrouter-autosign/internal/app/worker"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
	"github.com/hearthealt/anyrouter-autosign/internal/storage/signlog"
	"github.com/hearthealt/anyrouter-autosign/pkg/utils"
)

var ErrRunInProgress = errors.New("another sign-in run is in progress")

type Trigger string

const (
	TriggerDaily  Trigger = "daily"
	TriggerManual Trigger = "manual"
)

type Store interface {
	ListSignableAccounts(ctx context.Context) ([]model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	UpdateHealth(ctx context.Context, id int64, u signlog.HealthUpdate) error
	InsertSignLog(ctx context.Context, o model.SignOutcome) (int64, error)
	ReplaceTokens(ctx context.Context, accountID int64, tokens []model.APIToken) error
}

type SettingsStore interface {
	LoadScheduleSettings(ctx context.Context) (model.ScheduleSettings, error)
}

// RetryQueue holds pending retry tasks durably. Each account has at most one
// live task; enqueueing a newer one replaces it.
type RetryQueue interface {
	Enqueue(ctx context.Context, tasks []model.RetryTask) error
	Rearm(ctx context.Context, interval time.Duration) error
	Due(ctx context.Context, now time.Time) ([]model.RetryTask, error)
	Ack(ctx context.Context, ids []string) error
	Pending(ctx context.Context) ([]model.RetryTask, error)
	Purge(ctx context.Context) error
}

type Gateway interface {
	SignIn(ctx context.Context, cred model.SessionCredential) (gateway.SignResult, error)
	GetUserInfo(ctx context.Context, cred model.SessionCredential) (*model.UserProfile, error)
	ListTokens(ctx context.Context, cred model.SessionCredential, page, size int) ([]model.APIToken, error)
	APIStatus(ctx context.Context) (map[string]any, error)
}

type Notifier interface {
	NotifyOutcome(ctx context.Context, account *model.Account, o model.SignOutcome) (int, error)
}

type EventPublisher interface {
	PublishOutcome(ctx context.Context, account *model.Account, o model.SignOutcome) error
}

type Metrics interface {
	RecordOutcome(o model.SignOutcome)
	RecordBatch(d time.Duration)
	SetRetryPending(n int)
}

type BatchSummary struct {
	Trigger       Trigger `json:"trigger"`
	Skipped       bool    `json:"skipped"`
	Total         int     `json:"total"`
	Rewarded      int     `json:"succeeded_with_reward"`
	AlreadySigned int     `json:"succeeded_already_signed"`
	Failed        int     `json:"failed"`
	RetryWave     string  `json:"retry_wave,omitempty"`
}

func (s *BatchSummary) add(kind model.OutcomeKind) {
	s.Total++
	switch kind {
	case model.OutcomeRewarded:
		s.Rewarded++
	case model.OutcomeAlreadySigned:
		s.AlreadySigned++
	default:
		s.Failed++
	}
}

type Orchestrator struct {
	store     Store
	settings  SettingsStore
	queue     RetryQueue
	gateway   Gateway
	worker    *worker.Worker
	notifier  Notifier
	events    EventPublisher
	metrics   Metrics
	quotaRate int64

	lock  *semaphore.Weighted
	now   func() time.Time
	newID func() string
	log   *logger.ClassLogger
}

type Option func(*Orchestrator)

func WithEvents(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

func WithQuotaRate(rate int64) Option {
	return func(o *Orchestrator) {
		if rate > 0 {
			o.quotaRate = rate
		}
	}
}

func New(store Store, settings SettingsStore, queue RetryQueue, gw Gateway, notifier Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		settings:  settings,
		queue:     queue,
		gateway:   gw,
		notifier:  notifier,
		quotaRate: utils.DefaultQuotaRate,
		lock:      semaphore.NewWeighted(1),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.worker = worker.New(gw, o.quotaRate)
	o.log = logger.NewLogger(o, nil)
	return o
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	return o.lock.Acquire(ctx, 1)
}

func (o *Orchestrator) tryAcquire() error {
	if !o.lock.TryAcquire(1) {
		return ErrRunInProgress
	}
	return nil
}

func (o *Orchestrator) release() { o.lock.Release(1) }

// RunBatch signs every signable account once, waiting for any run already
// in progress. Daily runs are skipped while auto sign-in is disabled.
func (o *Orchestrator) RunBatch(ctx context.Context, trigger Trigger) (BatchSummary, error) {
	if err := o.acquire(ctx); err != nil {
		return BatchSummary{Trigger: trigger}, err
	}
	defer o.release()
	return o.runBatch(ctx, trigger)
}

// TryRunBatch is RunBatch for callers that must not queue behind another run.
func (o *Orchestrator) TryRunBatch(ctx context.Context, trigger Trigger) (BatchSummary, error) {
	if err := o.tryAcquire(); err != nil {
		return BatchSummary{Trigger: trigger}, err
	}
	defer o.release()
	return o.runBatch(ctx, trigger)
}

func (o *Orchestrator) runBatch(ctx context.Context, trigger Trigger) (BatchSummary, error) {
	summary := BatchSummary{Trigger: trigger}
	settings, err := o.settings.LoadScheduleSettings(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load schedule settings: %w", err)
	}
	if trigger == TriggerDaily && !settings.AutoSignEnabled {
		o.log.Log("Auto sign-in is disabled, skipping daily run")
		summary.Skipped = true
		return summary, nil
	}

	accounts, err := o.store.ListSignableAccounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list accounts: %w", err)
	}
	o.log.Log(fmt.Sprintf("Starting %s sign-in run for %d accounts", trigger, len(accounts)))
	worker.Waiting(accounts)

	start := o.now()
	var failedIDs, signedIDs []int64
	for i := range accounts {
		if ctx.Err() != nil {
			break
		}
		acc := &accounts[i]
		outcome := o.signOne(ctx, acc, 0)
		summary.add(outcome.Kind)
		if outcome.Kind == model.OutcomeFailed {
			failedIDs = append(failedIDs, acc.ID)
		} else {
			signedIDs = append(signedIDs, acc.ID)
		}
	}
	if o.metrics != nil {
		o.metrics.RecordBatch(o.now().Sub(start))
	}
	if err := o.dropChains(ctx, signedIDs); err != nil {
		o.log.Error("Failed to drop retries of signed accounts", err)
	}

	if len(failedIDs) > 0 && settings.RetryEnabled && settings.MaxRetries > 0 {
		successors := make([]model.RetryTask, 0, len(failedIDs))
		for _, id := range failedIDs {
			successors = append(successors, model.RetryTask{AccountID: id, AttemptNumber: 1})
		}
		waveID, err := o.scheduleWave(ctx, successors, settings)
		if err != nil {
			o.log.Error("Failed to schedule retry wave", err)
		}
		summary.RetryWave = waveID
	}

	o.log.Log(fmt.Sprintf("Run finished: %d rewarded, %d already signed, %d failed",
		summary.Rewarded, summary.AlreadySigned, summary.Failed))
	return summary, ctx.Err()
}

// RunRetryWave re-attempts every account of one wave. Accounts that still
// fail below the retry ceiling go into a single successor wave, which is
// enqueued before the consumed tasks are acknowledged.
func (o *Orchestrator) RunRetryWave(ctx context.Context, tasks []model.RetryTask) (BatchSummary, error) {
	summary := BatchSummary{Trigger: "retry"}
	if len(tasks) == 0 {
		return summary, nil
	}
	if err := o.acquire(ctx); err != nil {
		return summary, err
	}
	defer o.release()

	settings, err := o.settings.LoadScheduleSettings(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load schedule settings: %w", err)
	}

	tasks, err = o.stillPending(ctx, tasks)
	if err != nil {
		return summary, err
	}
	if len(tasks) == 0 {
		return summary, nil
	}

	consumed := make([]string, 0, len(tasks))
	var successors []model.RetryTask
	if !settings.RetryEnabled {
		o.log.Log(fmt.Sprintf("Retry is disabled, dropping wave %s", tasks[0].WaveID))
		summary.Skipped = true
	} else {
		start := o.now()
		for _, task := range tasks {
			if ctx.Err() != nil {
				break
			}
			consumed = append(consumed, task.ID)

			acc, err := o.store.GetAccount(ctx, task.AccountID)
			if err != nil {
				if !errors.Is(err, signlog.ErrNotFound) {
					o.log.Error(fmt.Sprintf("Failed to load account %d for retry", task.AccountID), err)
				}
				continue
			}
			if !acc.Signable() {
				o.log.JustLog(fmt.Sprintf("Account %s is no longer signable, dropping retry", acc.Label()))
				continue
			}

			outcome := o.signOne(ctx, acc, task.AttemptNumber)
			summary.add(outcome.Kind)
			if outcome.Kind == model.OutcomeFailed && task.AttemptNumber < settings.MaxRetries {
				successors = append(successors, model.RetryTask{AccountID: acc.ID, AttemptNumber: task.AttemptNumber + 1})
			}
		}
		if o.metrics != nil {
			o.metrics.RecordBatch(o.now().Sub(start))
		}
	}
	if summary.Skipped {
		for _, task := range tasks {
			consumed = append(consumed, task.ID)
		}
	}

	if len(successors) > 0 {
		waveID, err := o.scheduleWave(ctx, successors, settings)
		if err != nil {
			// keep the consumed tasks so the wave is retried rather than lost
			return summary, fmt.Errorf("failed to schedule successor wave: %w", err)
		}
		summary.RetryWave = waveID
	}
	if err := o.queue.Ack(ctx, consumed); err != nil {
		return summary, fmt.Errorf("failed to acknowledge retry tasks: %w", err)
	}
	o.refreshPending(ctx)
	return summary, ctx.Err()
}

func (o *Orchestrator) scheduleWave(ctx context.Context, tasks []model.RetryTask, settings model.ScheduleSettings) (string, error) {
	waveID := o.newID()
	now := o.now()
	notBefore := now.Add(settings.RetryInterval())
	for i := range tasks {
		tasks[i].ID = o.newID()
		tasks[i].WaveID = waveID
		tasks[i].NotBefore = notBefore
		tasks[i].CreatedAt = now
	}
	if err := o.queue.Enqueue(ctx, tasks); err != nil {
		return "", err
	}
	o.log.Log(fmt.Sprintf("Scheduled retry wave %s for %d accounts at %s", waveID, len(tasks), notBefore.Format(time.RFC3339)))
	o.refreshPending(ctx)
	return waveID, nil
}

// stillPending drops tasks that were acked or replaced by a newer run while
// the wave waited for the run lock.
func (o *Orchestrator) stillPending(ctx context.Context, tasks []model.RetryTask) ([]model.RetryTask, error) {
	pending, err := o.queue.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending retries: %w", err)
	}
	live := make(map[string]bool, len(pending))
	for _, t := range pending {
		live[t.ID] = true
	}
	kept := tasks[:0:0]
	for _, t := range tasks {
		if live[t.ID] {
			kept = append(kept, t)
		}
	}
	return kept, nil
}

// dropChains acks the pending retry of every account that has just signed in.
func (o *Orchestrator) dropChains(ctx context.Context, accountIDs []int64) error {
	if len(accountIDs) == 0 {
		return nil
	}
	pending, err := o.queue.Pending(ctx)
	if err != nil {
		return err
	}
	signed := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		signed[id] = true
	}
	var ids []string
	for _, t := range pending {
		if signed[t.AccountID] {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := o.queue.Ack(ctx, ids); err != nil {
		return err
	}
	o.refreshPending(ctx)
	return nil
}

func (o *Orchestrator) refreshPending(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	pending, err := o.queue.Pending(ctx)
	if err != nil {
		o.log.JustLog(fmt.Sprintf("failed to count pending retries: %v", err))
		return
	}
	o.metrics.SetRetryPending(len(pending))
}

// signOne runs one attempt and records it: persist, then notify, then
// publish. Nothing in here may abort the caller's loop.
func (o *Orchestrator) signOne(ctx context.Context, acc *model.Account, attempt int) (outcome model.SignOutcome) {
	log := logger.NewNamed("Orchestrator", acc)
	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected failure while recording outcome", fmt.Errorf("%v", r))
			if outcome.Kind == "" {
				outcome = model.SignOutcome{AccountID: acc.ID, Kind: model.OutcomeFailed, Message: fmt.Sprintf("unexpected error: %v", r), Attempt: attempt, SignedAt: o.now()}
			}
		}
	}()

	result := o.worker.Attempt(ctx, acc, attempt)
	outcome = model.SignOutcome{
		AccountID:   acc.ID,
		Kind:        result.Kind(),
		RewardQuota: model.RewardOf(result),
		Message:     result.Detail(),
		Attempt:     attempt,
		SignedAt:    o.now(),
	}

	id, err := o.store.InsertSignLog(ctx, outcome)
	if err != nil {
		log.Error("Failed to persist sign outcome", err)
	}
	outcome.ID = id

	if outcome.Kind.Notifiable() && o.notifier != nil {
		if _, err := o.notifier.NotifyOutcome(ctx, acc, outcome); err != nil {
			log.Error("Failed to notify", err)
		}
	}
	if o.events != nil {
		if err := o.events.PublishOutcome(ctx, acc, outcome); err != nil {
			log.Error("Failed to publish outcome event", err)
		}
	}
	if o.metrics != nil {
		o.metrics.RecordOutcome(outcome)
	}
	return outcome
}

// SignAccount signs one account on operator request. No retry wave follows,
// and a success cancels the account's pending retry.
func (o *Orchestrator) SignAccount(ctx context.Context, accountID int64) (model.SignOutcome, error) {
	if err := o.tryAcquire(); err != nil {
		return model.SignOutcome{}, err
	}
	defer o.release()

	acc, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.SignOutcome{}, err
	}
	logger.NewNamed("Orchestrator", acc).LogObject("Manual sign-in requested", acc)
	if !acc.Signable() {
		return model.SignOutcome{}, fmt.Errorf("account %s is inactive or has no platform user id", acc.Label())
	}
	outcome := o.signOne(ctx, acc, 0)
	if outcome.Kind != model.OutcomeFailed {
		if err := o.dropChains(ctx, []int64{acc.ID}); err != nil {
			o.log.Error("Failed to drop retries of signed account", err)
		}
	}
	return outcome, nil
}

const tokenPageSize = 50

// SyncTokens pulls every token page of the account and replaces the cached copy.
func (o *Orchestrator) SyncTokens(ctx context.Context, accountID int64) ([]model.APIToken, error) {
	if err := o.tryAcquire(); err != nil {
		return nil, err
	}
	defer o.release()

	acc, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cred := acc.Credential()

	var all []model.APIToken
	for page := 0; ; page++ {
		tokens, err := o.gateway.ListTokens(ctx, cred, page, tokenPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list tokens (page %d): %w", page, err)
		}
		all = append(all, tokens...)
		if len(tokens) < tokenPageSize {
			break
		}
	}
	if err := o.store.ReplaceTokens(ctx, acc.ID, all); err != nil {
		return nil, err
	}
	logger.NewNamed("Tokens", acc).Log(fmt.Sprintf("Synced %d tokens", len(all)))
	return all, nil
}

func (o *Orchestrator) PlatformStatus(ctx context.Context) (map[string]any, error) {
	return o.gateway.APIStatus(ctx)
}
