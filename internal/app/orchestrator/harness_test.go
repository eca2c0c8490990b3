package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hearthealt/anyrouter-autosign/internal/adapters/gateway"
	"github.com/hearthealt/anyrouter-autosign/internal/adapters/gateway/gatewaytest"
	adhttp "github.com/hearthealt/anyrouter-autosign/internal/adapters/http"
	"github.com/hearthealt/anyrouter-autosign/internal/adapters/notify"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/storage/signlog"
)

var start = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type sentNote struct {
	Title, Content string
	RowsAtSend     int
}

// recordingNotifier also checks that the outcome was persisted before it
// is told about it.
type recordingNotifier struct {
	mu    sync.Mutex
	store *signlog.Store
	notes []sentNote
}

func (r *recordingNotifier) Send(ctx context.Context, title, content string, _ notify.Config) error {
	logs, err := r.store.ListSignLogs(ctx, 0, 1000)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, sentNote{Title: title, Content: content, RowsAtSend: len(logs)})
	return nil
}

func (r *recordingNotifier) all() []sentNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentNote(nil), r.notes...)
}

type recordingEvents struct {
	mu       sync.Mutex
	outcomes []model.SignOutcome
}

func (e *recordingEvents) PublishOutcome(_ context.Context, _ *model.Account, o model.SignOutcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, o)
	return nil
}

type harness struct {
	t        *testing.T
	store    *signlog.Store
	platform *gatewaytest.Platform
	clock    *fakeClock
	notes    *recordingNotifier
	events   *recordingEvents
	orch     *Orchestrator
	sched    *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := signlog.NewStore(filepath.Join(t.TempDir(), "autosign.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	platform := gatewaytest.NewPlatform()
	t.Cleanup(platform.Close)

	api, err := adhttp.NewAPIClient(adhttp.ClientOptions{
		BaseURL: platform.URL(),
		Timeout: 2 * time.Second,
		Retries: 1,
		Backoff: time.Millisecond,
	})
	require.NoError(t, err)
	noSleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	gw := gateway.NewClient(api, nil, gateway.DefaultOptions(), gateway.WithSleeper(noSleep))

	notes := &recordingNotifier{store: store}
	registry := notify.NewRegistry()
	registry.Register("record", notes)
	dispatcher := notify.NewDispatcher(registry, store)

	clock := &fakeClock{now: start}
	var mu sync.Mutex
	seq := 0
	nextID := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}

	events := &recordingEvents{}
	orch := New(store, store, store, gw, dispatcher,
		WithClock(clock.Now),
		WithIDGenerator(nextID),
		WithEvents(events),
	)
	sched := NewScheduler(orch, store, store,
		WithSchedulerClock(clock.Now),
		WithLocation(time.UTC),
		WithPollInterval(time.Second),
	)
	return &harness{t: t, store: store, platform: platform, clock: clock, notes: notes, events: events, orch: orch, sched: sched}
}

// addAccount creates a signable account bound to the recording channel.
func (h *harness) addAccount(username string, userID int64) int64 {
	h.t.Helper()
	ctx := context.Background()
	id, err := h.store.UpsertAccount(ctx, model.Account{
		Username:       username,
		SessionCookie:  "sess-" + username,
		PlatformUserID: userID,
		IsActive:       true,
	})
	require.NoError(h.t, err)
	ch, err := h.store.UpsertChannel(ctx, model.NotifyChannel{Type: "record", Name: "record", IsEnabled: true})
	require.NoError(h.t, err)
	require.NoError(h.t, h.store.BindChannel(ctx, id, ch, nil, true))
	return id
}

func (h *harness) set(key string, value any) {
	h.t.Helper()
	require.NoError(h.t, h.store.SaveSetting(context.Background(), key, value))
}

func (h *harness) logs(accountID int64) []model.SignOutcome {
	h.t.Helper()
	logs, err := h.store.ListSignLogs(context.Background(), accountID, 1000)
	require.NoError(h.t, err)
	return logs
}

func (h *harness) pending() []model.RetryTask {
	h.t.Helper()
	tasks, err := h.store.Pending(context.Background())
	require.NoError(h.t, err)
	return tasks
}
