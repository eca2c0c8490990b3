package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthealt/anyrouter-autosign/internal/adapters/challenge"
	"github.com/hearthealt/anyrouter-autosign/internal/adapters/gateway/gatewaytest"
	adhttp "github.com/hearthealt/anyrouter-autosign/internal/adapters/http"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *sleepRecorder) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type solveCounter struct{ n int }

func (s *solveCounter) ChallengeSolved() { s.n++ }

var cred = model.SessionCredential{Cookie: "sess-1", UserID: "4242"}

func newClient(t *testing.T, p *gatewaytest.Platform) (*Client, *sleepRecorder, *solveCounter) {
	t.Helper()
	api, err := adhttp.NewAPIClient(adhttp.ClientOptions{
		BaseURL: p.URL(),
		Timeout: 2 * time.Second,
		Retries: 2,
		Backoff: time.Millisecond,
	})
	require.NoError(t, err)
	rec := &sleepRecorder{}
	counter := &solveCounter{}
	c := NewClient(api, challenge.NewSolver(), DefaultOptions(), WithSleeper(rec.sleep), WithChallengeObserver(counter))
	return c, rec, counter
}

func TestGetUserInfoSolvesPrimingChallenge(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.ChallengeOnPriming = true
	p.SetRoute("GET /api/user/self", `{"success":true,"data":{"id":4242,"username":"alice","quota":2500000,"used_quota":10}}`)

	c, sleeps, solves := newClient(t, p)
	profile, err := c.GetUserInfo(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, int64(2500000), profile.Quota)
	assert.Equal(t, 1, solves.n)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps.all())

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/console", reqs[0].Path)
	assert.Equal(t, map[string]string{"session": "sess-1"}, reqs[0].Cookies)
	assert.Equal(t, "4242", reqs[1].UserID)
	assert.Equal(t, "sess-1", reqs[1].Cookies["session"])
	assert.Equal(t, gatewaytest.SolvedCookie, reqs[1].Cookies["acw_sc__v2"])
}

func TestUnlinkedCredentialSendsNoUserHeader(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.SetRoute("GET /api/user/self", `{"success":true,"data":{"id":4242,"username":"alice"}}`)

	c, _, _ := newClient(t, p)
	_, err := c.GetUserInfo(context.Background(), model.SessionCredential{Cookie: "sess-1"})
	require.NoError(t, err)

	reqs := p.Requests()
	require.NotEmpty(t, reqs)
	for _, r := range reqs {
		assert.False(t, r.HasUserID, r.Path)
	}
}

func TestSignInRepeatsOnceAfterGatedAnswer(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.GateAPI = true
	p.SetSignBodies(`{"success":true,"message":"签到成功，获得 $5"}`)

	c, _, solves := newClient(t, p)
	res, err := c.SignIn(context.Background(), cred)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "签到成功，获得 $5", res.Message)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, solves.n)
	assert.Equal(t, 2, p.Count(http.MethodPost, "/api/user/sign_in"))
	assert.Equal(t, 1, p.Count(http.MethodGet, "/console"))
}

func TestSignInCarriesPrimedCookies(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()

	c, sleeps, _ := newClient(t, p)
	_, err := c.SignIn(context.Background(), cred)
	require.NoError(t, err)
	assert.Empty(t, sleeps.all())

	var post gatewaytest.Request
	for _, r := range p.Requests() {
		if r.Method == http.MethodPost {
			post = r
		}
	}
	assert.Equal(t, "primed", post.Cookies[gatewaytest.PrimedCookie])
	assert.Equal(t, "sess-1", post.Cookies["session"])
}

func TestSignInReturnsBusinessFailureWithoutRetrying(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.SetSignBodies(`{"success":false,"message":"无效的令牌"}`)

	c, sleeps, _ := newClient(t, p)
	res, err := c.SignIn(context.Background(), cred)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "无效的令牌", res.Message)
	assert.Equal(t, 1, p.Count(http.MethodPost, "/api/user/sign_in"))
	assert.Empty(t, sleeps.all())
}

func TestSignInExhaustsOnEmptyBodies(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.SetSignBodies("   ")

	c, sleeps, _ := newClient(t, p)
	res, err := c.SignIn(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, errors.Is(err, ErrEmptyBody))
	assert.False(t, res.Success)
	assert.Equal(t, RetriesExhaustedMessage, res.Message)
	assert.Equal(t, 3, p.Count(http.MethodPost, "/api/user/sign_in"))
	assert.Equal(t, 3, p.Count(http.MethodGet, "/console"))
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, sleeps.all())
}

func TestSignInExhaustsOnUnsolvableChallenge(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.GateAPI = true
	p.ChallengeToken = "not-hex-token-not-hex-token-not-hex-toke"

	c, _, solves := newClient(t, p)
	_, err := c.SignIn(context.Background(), cred)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, errors.Is(err, ErrChallengeUnsolved))
	assert.Zero(t, solves.n)
}

func TestSignInExhaustsOnUndecodableBody(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.SetSignBodies("<html>maintenance</html>")

	c, _, _ := newClient(t, p)
	_, err := c.SignIn(context.Background(), cred)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestSignInRecoversInLaterRound(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.SetSignBodies("", `{"success":true,"message":""}`)

	c, _, _ := newClient(t, p)
	res, err := c.SignIn(context.Background(), cred)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Message)
	assert.Equal(t, 2, res.Rounds)
}

func TestSignInTransportFailure(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.SignStatus = http.StatusBadGateway

	c, _, _ := newClient(t, p)
	_, err := c.SignIn(context.Background(), cred)
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.True(t, adhttp.IsTransportError(ex.Last))
	// three rounds, each with the initial try plus two transport retries
	assert.Equal(t, 9, p.Count(http.MethodPost, "/api/user/sign_in"))
}

func TestTokenOperations(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.SetRoute("GET /api/token/", `{"success":true,"data":{"items":[{"id":7,"name":"main","key":"sk-1","remain_quota":100}],"total":1}}`)
	p.SetRoute("POST /api/token/", `{"success":true,"message":""}`)
	p.SetRoute("PUT /api/token/", `{"success":false,"message":"令牌不存在"}`)
	p.SetRoute("DELETE /api/token/7", `{"success":true,"message":"已删除"}`)

	c, _, _ := newClient(t, p)
	ctx := context.Background()

	tokens, err := c.ListTokens(ctx, cred, 0, 50)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "sk-1", tokens[0].Key)

	msg, err := c.CreateToken(ctx, cred, model.NewTokenSpec("nightly"))
	require.NoError(t, err)
	assert.Equal(t, "创建成功", msg)

	_, err = c.UpdateToken(ctx, cred, map[string]any{"id": 9})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "令牌不存在", apiErr.Message)

	msg, err = c.DeleteToken(ctx, cred, 7)
	require.NoError(t, err)
	assert.Equal(t, "已删除", msg)

	var list, create gatewaytest.Request
	for _, r := range p.Requests() {
		switch {
		case r.Method == http.MethodGet && r.Path == "/api/token/":
			list = r
		case r.Method == http.MethodPost && r.Path == "/api/token/":
			create = r
		}
	}
	assert.Equal(t, "p=0&size=50", list.Query)
	var spec model.TokenSpec
	require.NoError(t, json.Unmarshal([]byte(create.Body), &spec))
	assert.Equal(t, "nightly", spec.Name)
	assert.Equal(t, int64(500000), spec.RemainQuota)
	assert.Equal(t, int64(-1), spec.ExpiredTime)
	assert.Equal(t, "default", spec.Group)
}

func TestListTokensAcceptsBareArray(t *testing.T) {
	tokens, err := decodeTokens(json.RawMessage(`[{"id":1},{"id":2}]`))
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	tokens, err = decodeTokens(nil)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestModelsGroupsAndDefaults(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.SetRoute("GET /api/user/models", `{"success":true,"data":["claude-sonnet-4","gpt-5"]}`)
	p.SetRoute("GET /api/user/self/groups", `{"success":true,"data":{"default":{"ratio":1,"desc":"默认分组"}}}`)
	p.SetRoute("GET /api/user/self", `{"success":false}`)

	c, _, _ := newClient(t, p)
	ctx := context.Background()

	models, err := c.ListModels(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-sonnet-4", "gpt-5"}, models)

	groups, err := c.ListGroups(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, 1.0, groups["default"].Ratio)

	_, err = c.GetUserInfo(ctx, cred)
	assert.EqualError(t, err, "获取用户信息失败")
}

func TestAPIStatusSkipsSession(t *testing.T) {
	p := gatewaytest.NewPlatform()
	defer p.Close()
	p.GateAPI = true
	p.SetRoute("GET /api/status", `{"success":true,"data":{"version":"v0.9","system_name":"AnyRouter"}}`)

	c, _, solves := newClient(t, p)
	status, err := c.APIStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AnyRouter", status["system_name"])
	assert.Equal(t, 1, solves.n)

	for _, r := range p.Requests() {
		assert.NotEqual(t, "/console", r.Path)
		assert.Empty(t, r.UserID)
		assert.NotContains(t, r.Cookies, "session")
	}
}
