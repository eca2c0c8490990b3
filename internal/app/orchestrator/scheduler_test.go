package orchestrator

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

func TestSchedulerFiresDailyOnce(t *testing.T) {
	h := newHarness(t)
	h.set(model.SettingAutoSignEnabled, true)
	h.set(model.SettingAutoSignTime, "08:00")
	h.set(model.SettingHealthCheckEnabled, false)
	id := h.addAccount("alice", 1)
	ctx := context.Background()

	require.NoError(t, h.sched.Reschedule(ctx))
	st, err := h.sched.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.NextDailyRun)
	assert.True(t, st.NextDailyRun.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))

	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(59*time.Minute)))
	assert.Empty(t, h.logs(id))

	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(time.Minute)))
	assert.Len(t, h.logs(id), 1)

	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(30*time.Second)))
	assert.Len(t, h.logs(id), 1)

	st, err = h.sched.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.NextDailyRun.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))
}

func TestSchedulerLateTickFiresOnce(t *testing.T) {
	h := newHarness(t)
	h.set(model.SettingAutoSignEnabled, true)
	h.set(model.SettingHealthCheckEnabled, false)
	id := h.addAccount("alice", 1)
	ctx := context.Background()
	require.NoError(t, h.sched.Reschedule(ctx))

	// asleep for three days
	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(72*time.Hour)))
	assert.Len(t, h.logs(id), 1)

	st, err := h.sched.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.NextDailyRun.After(h.clock.Now()))
}

func TestSchedulerDailyDisabled(t *testing.T) {
	h := newHarness(t)
	h.set(model.SettingHealthCheckEnabled, false)
	id := h.addAccount("alice", 1)
	ctx := context.Background()

	require.NoError(t, h.sched.Reschedule(ctx))
	st, err := h.sched.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.NextDailyRun)

	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(48*time.Hour)))
	assert.Empty(t, h.logs(id))
}

func TestRescheduleFollowsNewTime(t *testing.T) {
	h := newHarness(t)
	h.set(model.SettingAutoSignEnabled, true)
	ctx := context.Background()
	require.NoError(t, h.sched.Reschedule(ctx))

	h.set(model.SettingAutoSignTime, "06:30")
	require.NoError(t, h.sched.Reschedule(ctx))
	st, err := h.sched.Status(ctx)
	require.NoError(t, err)
	// 06:30 already passed at 07:00
	assert.True(t, st.NextDailyRun.Equal(time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC)))

	h.set(model.SettingAutoSignTime, "7:45")
	require.NoError(t, h.sched.Reschedule(ctx))
	st, err = h.sched.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.NextDailyRun.Equal(time.Date(2026, 3, 1, 7, 45, 0, 0, time.UTC)))

	h.set(model.SettingAutoSignTime, "25:00")
	assert.Error(t, h.sched.Reschedule(ctx))
}

func TestRescheduleWithRetryDisabledPurgesQueue(t *testing.T) {
	h := newHarness(t)
	h.platform.SetSignBodies(`{"success":false,"message":"busy"}`)
	h.addAccount("alice", 1)
	h.addAccount("bob", 2)
	ctx := context.Background()

	_, err := h.orch.RunBatch(ctx, TriggerManual)
	require.NoError(t, err)
	require.NoError(t, h.sched.Reschedule(ctx))

	st, err := h.sched.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.PendingRetries)
	assert.Equal(t, 1, st.PendingRetryWaves)
	require.NotNil(t, st.NextRetryWaveAt)
	assert.True(t, st.NextRetryWaveAt.Equal(start.Add(30*time.Minute)))

	h.set(model.SettingRetryEnabled, false)
	require.NoError(t, h.sched.Reschedule(ctx))
	assert.Empty(t, h.pending())

	st, err = h.sched.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.PendingRetries)
	assert.Nil(t, st.NextRetryWaveAt)
}

func TestRescheduleRearmsPendingRetriesOnIntervalChange(t *testing.T) {
	h := newHarness(t)
	h.platform.SetSignBodies(`{"success":false,"message":"busy"}`)
	h.set(model.SettingRetryInterval, 600)
	id := h.addAccount("alice", 1)
	ctx := context.Background()
	require.NoError(t, h.sched.Reschedule(ctx))

	_, err := h.orch.RunBatch(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, h.pending(), 1)

	h.set(model.SettingRetryInterval, 5)
	require.NoError(t, h.sched.Reschedule(ctx))
	st, err := h.sched.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.NextRetryWaveAt)
	assert.True(t, st.NextRetryWaveAt.Equal(start.Add(5*time.Minute)))

	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(10*time.Minute)))
	logs := h.logs(id)
	require.Len(t, logs, 2)
	assert.Equal(t, 1, logs[0].Attempt)

	// the successor wave uses the new interval too
	pending := h.pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].NotBefore.Equal(start.Add(15*time.Minute)))
}

func TestRescheduleRearmsIntoThePastFiresOnNextTick(t *testing.T) {
	h := newHarness(t)
	h.platform.SetSignBodies(`{"success":false,"message":"busy"}`)
	h.set(model.SettingRetryInterval, 60)
	id := h.addAccount("alice", 1)
	ctx := context.Background()
	require.NoError(t, h.sched.Reschedule(ctx))

	_, err := h.orch.RunBatch(ctx, TriggerManual)
	require.NoError(t, err)
	h.clock.Advance(20 * time.Minute)

	h.set(model.SettingRetryInterval, 10)
	require.NoError(t, h.sched.Reschedule(ctx))
	require.NoError(t, h.sched.Tick(ctx, h.clock.Now()))
	assert.Len(t, h.logs(id), 2)
}

func TestSchedulerRunsHealthCheckOnInterval(t *testing.T) {
	h := newHarness(t)
	h.set(model.SettingHealthCheckInterval, 2)
	h.platform.SetRoute("GET /api/user/self", `{"success":true,"data":{"id":1,"quota":42}}`)
	h.addAccount("alice", 1)
	ctx := context.Background()
	require.NoError(t, h.sched.Reschedule(ctx))

	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(time.Hour)))
	assert.Zero(t, h.platform.Count(http.MethodGet, "/api/user/self"))

	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(time.Hour)))
	assert.Equal(t, 1, h.platform.Count(http.MethodGet, "/api/user/self"))

	require.NoError(t, h.sched.Tick(ctx, h.clock.Advance(time.Minute)))
	assert.Equal(t, 1, h.platform.Count(http.MethodGet, "/api/user/self"))

	st, err := h.sched.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.NextHealthCheck)
	assert.True(t, st.NextHealthCheck.Equal(start.Add(4*time.Hour)))
}

func TestSchedulerStartStopsWithContext(t *testing.T) {
	h := newHarness(t)
	h.set(model.SettingHealthCheckEnabled, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.sched.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
