package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
)

const defaultPollInterval = 30 * time.Second

// Scheduler drives the orchestrator from one polling goroutine: the daily
// batch, due retry waves and the periodic health check.
type Scheduler struct {
	orch     *Orchestrator
	settings SettingsStore
	queue    RetryQueue
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	log      *logger.ClassLogger

	mu         sync.Mutex
	loaded     bool
	current    model.ScheduleSettings
	nextDaily  time.Time
	nextHealth time.Time
}

type SchedulerOption func(*Scheduler)

func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(orch *Orchestrator, settings SettingsStore, queue RetryQueue, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		orch:     orch,
		settings: settings,
		queue:    queue,
		interval: defaultPollInterval,
		loc:      time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.NewLogger(s, nil)
	return s
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.Reschedule(ctx); err != nil {
		s.log.Error("Initial schedule failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Log(fmt.Sprintf("Scheduler started, polling every %s", s.interval))
	if err := s.Tick(ctx, s.now()); err != nil {
		s.log.Error("Scheduler tick failed", err)
	}
	for {
		select {
		case <-ctx.Done():
			s.log.Log("Scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx, s.now()); err != nil {
				s.log.Error("Scheduler tick failed", err)
			}
		}
	}
}

// Reschedule re-reads the schedule settings and re-arms the daily and
// health jobs. Turning retry off drops every pending retry task; a new retry
// interval moves pending tasks to created_at + interval.
func (s *Scheduler) Reschedule(ctx context.Context) error {
	cfg, err := s.settings.LoadScheduleSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedule settings: %w", err)
	}
	now := s.now()

	var nextDaily time.Time
	if cfg.AutoSignEnabled {
		if nextDaily, err = cfg.NextDaily(now, s.loc); err != nil {
			return err
		}
	}

	s.mu.Lock()
	prev := s.current
	wasLoaded := s.loaded
	s.current = cfg
	s.loaded = true
	s.nextDaily = nextDaily
	switch {
	case !cfg.HealthCheckEnabled:
		s.nextHealth = time.Time{}
	case !wasLoaded || !prev.HealthCheckEnabled || prev.HealthCheckInterval != cfg.HealthCheckInterval || s.nextHealth.IsZero():
		s.nextHealth = now.Add(cfg.HealthInterval())
	}
	s.mu.Unlock()

	if nextDaily.IsZero() {
		s.log.Log("Daily sign-in disabled")
	} else {
		s.log.Log(fmt.Sprintf("Daily sign-in armed for %s", nextDaily.Format(time.RFC3339)))
	}

	switch {
	case !cfg.RetryEnabled:
		if err := s.queue.Purge(ctx); err != nil {
			return fmt.Errorf("failed to purge retry tasks: %w", err)
		}
		s.log.Log("Retry disabled, pending retry tasks purged")
	case !wasLoaded || prev.RetryIntervalMin != cfg.RetryIntervalMin:
		// pending waves fire at created_at + the current interval
		if err := s.queue.Rearm(ctx, cfg.RetryInterval()); err != nil {
			return fmt.Errorf("failed to rearm retry tasks: %w", err)
		}
		if wasLoaded {
			s.log.Log(fmt.Sprintf("Retry interval changed to %s, pending retries rearmed", cfg.RetryInterval()))
		}
	}
	return nil
}

// Tick does everything that is due at now. Tests drive it directly.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		if err := s.Reschedule(ctx); err != nil {
			return err
		}
	}

	var errs []error
	if s.claimDaily(now) {
		if _, err := s.orch.RunBatch(ctx, TriggerDaily); err != nil {
			errs = append(errs, fmt.Errorf("daily run: %w", err))
		}
	}

	due, err := s.queue.Due(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("load due retries: %w", err))
	}
	for _, wave := range model.GroupByWave(due) {
		if _, err := s.orch.RunRetryWave(ctx, wave); err != nil {
			errs = append(errs, fmt.Errorf("retry wave %s: %w", wave[0].WaveID, err))
		}
	}

	if s.claimHealth(now) {
		if _, err := s.orch.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health check: %w", err))
		}
	}
	return errors.Join(errs...)
}

// claimDaily advances the daily fire time past now before the run starts,
// so a long run cannot fire twice.
func (s *Scheduler) claimDaily(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current.AutoSignEnabled || s.nextDaily.IsZero() || now.Before(s.nextDaily) {
		return false
	}
	next, err := s.current.NextDaily(s.nextDaily.Add(time.Minute), s.loc)
	if err != nil {
		s.nextDaily = time.Time{}
		return true
	}
	// a tick that was late by more than a day fires once, not once per missed day
	for !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	s.nextDaily = next
	return true
}

func (s *Scheduler) claimHealth(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current.HealthCheckEnabled || s.nextHealth.IsZero() || now.Before(s.nextHealth) {
		return false
	}
	s.nextHealth = now.Add(s.current.HealthInterval())
	return true
}

type SchedulerStatus struct {
	AutoSignEnabled    bool       `json:"auto_sign_enabled"`
	AutoSignTime       string     `json:"auto_sign_time"`
	NextDailyRun       *time.Time `json:"next_daily_run,omitempty"`
	RetryEnabled       bool       `json:"retry_enabled"`
	MaxRetries         int        `json:"max_retries"`
	RetryIntervalMin   int        `json:"retry_interval_minutes"`
	HealthCheckEnabled bool       `json:"health_check_enabled"`
	NextHealthCheck    *time.Time `json:"next_health_check,omitempty"`
	PendingRetries     int        `json:"pending_retries"`
	PendingRetryWaves  int        `json:"pending_retry_waves"`
	NextRetryWaveAt    *time.Time `json:"next_retry_wave_at,omitempty"`
}

func (s *Scheduler) Status(ctx context.Context) (SchedulerStatus, error) {
	s.mu.Lock()
	st := SchedulerStatus{
		AutoSignEnabled:    s.current.AutoSignEnabled,
		AutoSignTime:       s.current.AutoSignTime,
		NextDailyRun:       timePtr(s.nextDaily),
		RetryEnabled:       s.current.RetryEnabled,
		MaxRetries:         s.current.MaxRetries,
		RetryIntervalMin:   s.current.RetryIntervalMin,
		HealthCheckEnabled: s.current.HealthCheckEnabled,
		NextHealthCheck:    timePtr(s.nextHealth),
	}
	s.mu.Unlock()

	pending, err := s.queue.Pending(ctx)
	if err != nil {
		return st, err
	}
	st.PendingRetries = len(pending)
	st.PendingRetryWaves = len(model.GroupByWave(pending))
	for _, t := range pending {
		if st.NextRetryWaveAt == nil || t.NotBefore.Before(*st.NextRetryWaveAt) {
			st.NextRetryWaveAt = timePtr(t.NotBefore)
		}
	}
	return st, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
