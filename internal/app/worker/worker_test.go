package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthealt/anyrouter-autosign/internal/adapters/gateway"
	adhttp "github.com/hearthealt/anyrouter-autosign/internal/adapters/http"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

const rate = 500000

func TestClassifyIsTotal(t *testing.T) {
	cases := []struct {
		name string
		res  gateway.SignResult
		err  error
		want model.AttemptResult
	}{
		{"reward", gateway.SignResult{Success: true, Message: "签到成功，获得 $5"}, nil, model.Succeeded{Reward: 2500000, Message: "签到成功，获得 $5"}},
		{"reward without amount", gateway.SignResult{Success: true, Message: "签到成功"}, nil, model.Succeeded{Reward: 0, Message: "签到成功"}},
		{"already signed", gateway.SignResult{Success: true}, nil, model.AlreadySigned{}},
		{"blank message counts as empty", gateway.SignResult{Success: true, Message: "  "}, nil, model.AlreadySigned{}},
		{"business failure", gateway.SignResult{Message: "今天已经签到过了"}, nil, model.Failed{Reason: "今天已经签到过了"}},
		{"failure without message", gateway.SignResult{}, nil, model.Failed{Reason: defaultFailureMessage}},
		{
			"exhausted on gated bodies",
			gateway.SignResult{Message: gateway.RetriesExhaustedMessage},
			&gateway.ExhaustedError{Rounds: 3, Last: gateway.ErrEmptyBody},
			model.Failed{Reason: gateway.RetriesExhaustedMessage},
		},
		{
			"exhausted on transport",
			gateway.SignResult{Message: gateway.RetriesExhaustedMessage},
			&gateway.ExhaustedError{Rounds: 3, Last: &url.Error{Op: "Post", URL: "https://anyrouter.top", Err: errors.New("connection refused")}},
			model.TransportError{Reason: gateway.RetriesExhaustedMessage},
		},
		{
			"exhausted on 502",
			gateway.SignResult{},
			&gateway.ExhaustedError{Rounds: 3, Last: &adhttp.HTTPError{StatusCode: 502}},
			model.TransportError{Reason: gateway.RetriesExhaustedMessage},
		},
		{
			"cancelled",
			gateway.SignResult{},
			&gateway.ExhaustedError{Rounds: 1, Last: context.Canceled},
			model.Failed{Reason: gateway.RetriesExhaustedMessage},
		},
		{"other error", gateway.SignResult{}, errors.New("boom"), model.Failed{Reason: "boom"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.res, tc.err, rate)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyTruncatesReward(t *testing.T) {
	got := Classify(gateway.SignResult{Success: true, Message: "获得 $0.0000013"}, nil, rate)
	assert.Equal(t, int64(0), model.RewardOf(got))

	got = Classify(gateway.SignResult{Success: true, Message: "$1.23456789 获得"}, nil, rate)
	assert.Equal(t, int64(617283), model.RewardOf(got))
}

type stubSigner struct {
	res   gateway.SignResult
	err   error
	panic bool
	seen  []model.SessionCredential
}

func (s *stubSigner) SignIn(_ context.Context, cred model.SessionCredential) (gateway.SignResult, error) {
	s.seen = append(s.seen, cred)
	if s.panic {
		panic("nil map write")
	}
	return s.res, s.err
}

func testAccount() *model.Account {
	return &model.Account{ID: 3, Username: "alice", SessionCookie: "sess", PlatformUserID: 4242, IsActive: true}
}

func TestAttemptPassesCredential(t *testing.T) {
	s := &stubSigner{res: gateway.SignResult{Success: true, Message: "$5 获得"}}
	acc := testAccount()

	got := New(s, rate).Attempt(context.Background(), acc, 0)
	assert.Equal(t, model.Succeeded{Reward: 2500000, Message: "$5 获得"}, got)
	require.Len(t, s.seen, 1)
	assert.Equal(t, model.SessionCredential{Cookie: "sess", UserID: "4242"}, s.seen[0])
	assert.Equal(t, int64(2500000), acc.LastReward)
}

func TestAttemptRecoversPanics(t *testing.T) {
	s := &stubSigner{panic: true}
	got := New(s, rate).Attempt(context.Background(), testAccount(), 2)

	failed, ok := got.(model.Failed)
	require.True(t, ok, fmt.Sprintf("got %T", got))
	assert.Contains(t, failed.Reason, "nil map write")
	assert.Equal(t, model.OutcomeFailed, got.Kind())
}

func TestAttemptDefaultsRate(t *testing.T) {
	w := New(&stubSigner{}, 0)
	assert.Equal(t, int64(500000), w.quotaRate)
}
