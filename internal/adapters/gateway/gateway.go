// Package gateway talks to the anyrouter console API on behalf of one account
// at a time, getting through the anti-crawler gate first.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hearthealt/anyrouter-autosign/internal/adapters/challenge"
	adhttp "github.com/hearthealt/anyrouter-autosign/internal/adapters/http"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
)

const (
	consolePath = "/console"
	userPath    = "/api/user/self"
	signInPath  = "/api/user/sign_in"
	modelsPath  = "/api/user/models"
	groupsPath  = "/api/user/self/groups"
	tokenPath   = "/api/token/"
	statusPath  = "/api/status"

	userHeader        = "new-api-user"
	sessionCookieName = "session"

	RetriesExhaustedMessage = "重试次数已用完"
	decodeFailedMessage     = "响应解析失败"
)

var (
	ErrRetriesExhausted  = errors.New("sign-in retries exhausted")
	ErrChallengeUnsolved = errors.New("challenge page persisted after solving")
	ErrEmptyBody         = errors.New("empty response body")
	ErrDecode            = errors.New(decodeFailedMessage)
)

// APIError carries a business failure reported by the platform.
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return e.Message }

// ExhaustedError is returned by SignIn once every round failed.
type ExhaustedError struct {
	Rounds int
	Last   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d rounds: %v", RetriesExhaustedMessage, e.Rounds, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsTransportFailure reports whether a failed sign-in round was lost on the
// network rather than answered badly by the platform.
func IsTransportFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrEmptyBody),
		errors.Is(err, ErrChallengeUnsolved),
		errors.Is(err, ErrDecode),
		errors.Is(err, context.Canceled):
		return false
	}
	return adhttp.IsTransportError(err)
}

type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type SignResult struct {
	Success bool
	Message string
	Rounds  int
}

type GroupInfo struct {
	Ratio float64 `json:"ratio"`
	Desc  string  `json:"desc"`
}

type Options struct {
	PrimingTimeout    time.Duration
	ChallengeDelay    time.Duration
	SignRetryTimes    int
	SignRetryInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		PrimingTimeout:    10 * time.Second,
		ChallengeDelay:    2 * time.Second,
		SignRetryTimes:    3,
		SignRetryInterval: 3 * time.Second,
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ChallengeObserver is told about every solved challenge.
type ChallengeObserver interface {
	ChallengeSolved()
}

type Option func(*Client)

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

func WithChallengeObserver(o ChallengeObserver) Option {
	return func(c *Client) { c.observer = o }
}

type Client struct {
	api      *adhttp.APIClient
	solver   *challenge.Solver
	opts     Options
	sleep    Sleeper
	observer ChallengeObserver
	log      *logger.ClassLogger
}

func NewClient(api *adhttp.APIClient, solver *challenge.Solver, opts Options, options ...Option) *Client {
	if solver == nil {
		solver = challenge.NewSolver()
	}
	if opts.SignRetryTimes <= 0 {
		opts.SignRetryTimes = 1
	}
	c := &Client{
		api:    api,
		solver: solver,
		opts:   opts,
		sleep:  SleepContext,
	}
	for _, o := range options {
		o(c)
	}
	c.log = logger.NewLogger(c, nil)
	return c
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// operation owns the cookies of one logical call. Nothing in it outlives
// the call.
type operation struct {
	c      *Client
	cred   model.SessionCredential
	jar    *adhttp.OperationJar
	withID bool
}

func (c *Client) begin(cred model.SessionCredential) *operation {
	jar := adhttp.NewOperationJar()
	if cred.Cookie != "" {
		jar.Set(c.api.URL("/"), sessionCookieName, cred.Cookie)
	}
	return &operation{c: c, cred: cred, jar: jar, withID: cred.UserID != ""}
}

func (op *operation) headers() map[string]string {
	if !op.withID || op.cred.UserID == "" {
		return nil
	}
	return map[string]string{userHeader: op.cred.UserID}
}

// prime visits the console page so the gate can hand out its cookies. A
// failed priming is not fatal; the real request may still pass.
func (op *operation) prime(ctx context.Context) {
	res, err := op.send(ctx, http.MethodGet, consolePath, nil, op.c.opts.PrimingTimeout)
	if err != nil {
		op.c.log.JustLog(fmt.Sprintf("priming failed: %v", err))
		return
	}
	if _, err := op.solveIfChallenged(ctx, res.Text()); err != nil {
		op.c.log.JustLog(fmt.Sprintf("priming interrupted: %v", err))
	}
}

func (op *operation) solveIfChallenged(ctx context.Context, body string) (bool, error) {
	if !challenge.IsChallenge(body) {
		return false, nil
	}
	value, ok := op.c.solver.Solve(body)
	if !ok {
		op.c.log.Warn("challenge page without a usable token")
		return false, nil
	}
	op.jar.Set(op.c.api.URL("/"), challenge.CookieName, value)
	if op.c.observer != nil {
		op.c.observer.ChallengeSolved()
	}
	if err := op.c.sleep(ctx, op.c.opts.ChallengeDelay); err != nil {
		return false, err
	}
	return true, nil
}

// send performs one request. Non-2xx answers that are not transport
// failures are handed back as responses so their bodies can be inspected.
func (op *operation) send(ctx context.Context, method, path string, fopts *adhttp.FetchOptions, timeout time.Duration) (*adhttp.Response, error) {
	if fopts == nil {
		fopts = &adhttp.FetchOptions{}
	}
	fopts.Method = method
	fopts.Jar = op.jar
	fopts.AdditionalHeaders = op.headers()
	fopts.Timeout = timeout

	res, err := op.c.api.Fetch(ctx, path, fopts)
	if err != nil {
		if adhttp.IsTransportError(err) || res == nil {
			return nil, err
		}
	}
	return res, nil
}

// execute issues the real request, solving and repeating it once if the
// gate answers instead of the API.
func (op *operation) execute(ctx context.Context, method, path string, fopts *adhttp.FetchOptions) (*adhttp.Response, error) {
	res, err := op.send(ctx, method, path, fopts, 0)
	if err != nil {
		return nil, err
	}
	solved, err := op.solveIfChallenged(ctx, res.Text())
	if err != nil {
		return nil, err
	}
	if !solved {
		return res, nil
	}
	return op.send(ctx, method, path, fopts, 0)
}

func decodeEnvelope(res *adhttp.Response) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, ErrDecode
	}
	return &env, nil
}

// call runs prime → execute → interpret for a non-sign operation and returns
// the envelope of a business success.
func (c *Client) call(ctx context.Context, cred model.SessionCredential, method, path string, fopts *adhttp.FetchOptions, failMsg string) (*Envelope, error) {
	op := c.begin(cred)
	op.prime(ctx)

	res, err := op.execute(ctx, method, path, fopts)
	if err != nil {
		return nil, fmt.Errorf("网络请求失败: %w", err)
	}
	env, err := decodeEnvelope(res)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = failMsg
		}
		return env, &APIError{Message: msg}
	}
	return env, nil
}
