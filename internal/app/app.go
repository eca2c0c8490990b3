package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hearthealt/anyrouter-autosign/internal/adapters/events"
	"github.com/hearthealt/anyrouter-autosign/internal/adapters/gateway"
	adhttp "github.com/hearthealt/anyrouter-autosign/internal/adapters/http"
	"github.com/hearthealt/anyrouter-autosign/internal/adapters/httpapi"
	"github.com/hearthealt/anyrouter-autosign/internal/adapters/notify"
	"github.com/hearthealt/anyrouter-autosign/internal/app/orchestrator"
	"github.com/hearthealt/anyrouter-autosign/internal/config"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/metrics"
	"github.com/hearthealt/anyrouter-autosign/internal/storage/retryqueue"
	"github.com/hearthealt/anyrouter-autosign/internal/storage/signlog"
)

const (
	notifyTimeout   = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

type App struct {
	cfg config.Config
	log *logger.ClassLogger
}

func New(cfg config.Config) *App {
	a := &App{cfg: cfg}
	a.log = logger.NewLogger(a, nil)
	return a
}

// Run wires every component and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}

	store, err := signlog.NewStore(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	seed, err := config.LoadSeed(a.cfg.SeedFile)
	if err != nil {
		return err
	}
	if err := ApplySeed(ctx, store, seed); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	var queue orchestrator.RetryQueue = store
	orchOpts := []orchestrator.Option{
		orchestrator.WithMetrics(collector),
		orchestrator.WithQuotaRate(a.cfg.QuotaRate),
	}
	if a.cfg.RedisURL != "" {
		client, publisher, err := a.openRedis()
		if err != nil {
			return err
		}
		defer client.Close()
		defer publisher.Close()
		queue = retryqueue.NewRedisQueue(client)
		orchOpts = append(orchOpts, orchestrator.WithEvents(publisher))
		a.log.Log("Retry queue and outcome events on redis")
	}

	api, err := adhttp.NewAPIClient(adhttp.ClientOptions{
		BaseURL:           a.cfg.BaseURL,
		Proxy:             a.cfg.ProxyURL,
		Timeout:           a.cfg.RequestTimeout,
		Retries:           a.cfg.TransportRetries,
		Backoff:           a.cfg.TransportBackoff,
		RequestsPerSecond: a.cfg.RequestsPerSecond,
	})
	if err != nil {
		return err
	}
	gw := gateway.NewClient(api, nil, gateway.Options{
		PrimingTimeout:    a.cfg.PrimingTimeout,
		ChallengeDelay:    a.cfg.ChallengeDelay,
		SignRetryTimes:    a.cfg.SignRetryTimes,
		SignRetryInterval: a.cfg.SignRetryInterval,
	}, gateway.WithChallengeObserver(collector))

	registry := notify.NewDefaultRegistry(notify.NewSafeClient(notifyTimeout))
	dispatcher := notify.NewDispatcher(registry, store,
		notify.WithObserver(collector),
		notify.WithQuotaRate(a.cfg.QuotaRate),
	)

	orch := orchestrator.New(store, store, queue, gw, dispatcher, orchOpts...)
	sched := orchestrator.NewScheduler(orch, store, queue,
		orchestrator.WithPollInterval(a.cfg.PollInterval),
		orchestrator.WithLocation(loc),
	)

	if a.cfg.HTTPEnabled() {
		srv := &http.Server{
			Addr: a.cfg.HTTPAddr,
			Handler: httpapi.NewRouter(httpapi.Deps{
				Runner:    orch,
				Scheduler: sched,
				Store:     store,
				Metrics:   metrics.Handler(reg),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go a.serve(srv)
		defer a.shutdown(srv)
	}

	sched.Start(ctx)
	return nil
}

func (a *App) openRedis() (*redis.Client, *events.WatermillPublisher, error) {
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, watermill.NopLogger{})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}
	return client, events.NewWatermillPublisher(publisher, a.cfg.EventsTopic), nil
}

func (a *App) serve(srv *http.Server) {
	a.log.Log(fmt.Sprintf("Operator API listening on %s", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error("Operator API stopped", err)
	}
}

func (a *App) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Error("Operator API shutdown", err)
	}
}
