package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

func TestRecordOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOutcome(model.SignOutcome{Kind: model.OutcomeRewarded, RewardQuota: 2500000})
	c.RecordOutcome(model.SignOutcome{Kind: model.OutcomeFailed})
	c.RecordOutcome(model.SignOutcome{Kind: model.OutcomeFailed})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.signAttempts.WithLabelValues(string(model.OutcomeRewarded))))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.signAttempts.WithLabelValues(string(model.OutcomeFailed))))
	assert.Equal(t, 2500000.0, testutil.ToFloat64(c.rewardQuota))
}

func TestGaugesAndCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ChallengeSolved()
	c.SetRetryPending(4)
	c.SetRetryPending(2)
	c.NotificationSent("pushplus", true)
	c.NotificationSent("pushplus", false)
	c.RecordBatch(3 * time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.challengesSolved))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.retryPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("pushplus", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.batchDuration))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ChallengeSolved()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "anyrouter_challenges_solved_total 1")
}
