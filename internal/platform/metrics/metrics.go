// Package metrics exposes sign-in activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

type Collector struct {
	signAttempts     *prometheus.CounterVec
	rewardQuota      prometheus.Counter
	batchDuration    prometheus.Histogram
	challengesSolved prometheus.Counter
	retryPending     prometheus.Gauge
	notifications    *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anyrouter_sign_attempts_total",
			Help: "Sign-in attempts by outcome kind.",
		}, []string{"kind"}),
		rewardQuota: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anyrouter_sign_reward_quota_total",
			Help: "Quota units granted by successful sign-ins.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "anyrouter_batch_duration_seconds",
			Help:    "Wall time of batch runs and retry waves.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		challengesSolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anyrouter_challenges_solved_total",
			Help: "Anti-bot challenges answered with a computed cookie.",
		}),
		retryPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anyrouter_retry_tasks_pending",
			Help: "Retry tasks waiting in the queue.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anyrouter_notifications_total",
			Help: "Notification deliveries by channel type and result.",
		}, []string{"channel", "result"}),
	}

	reg.MustRegister(
		c.signAttempts,
		c.rewardQuota,
		c.batchDuration,
		c.challengesSolved,
		c.retryPending,
		c.notifications,
	)
	return c
}

func (c *Collector) RecordOutcome(o model.SignOutcome) {
	c.signAttempts.WithLabelValues(string(o.Kind)).Inc()
	if o.RewardQuota > 0 {
		c.rewardQuota.Add(float64(o.RewardQuota))
	}
}

func (c *Collector) RecordBatch(d time.Duration) {
	c.batchDuration.Observe(d.Seconds())
}

// ChallengeSolved satisfies gateway.ChallengeObserver.
func (c *Collector) ChallengeSolved() {
	c.challengesSolved.Inc()
}

func (c *Collector) SetRetryPending(n int) {
	c.retryPending.Set(float64(n))
}

// NotificationSent satisfies notify.Observer.
func (c *Collector) NotificationSent(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.notifications.WithLabelValues(channel, result).Inc()
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
