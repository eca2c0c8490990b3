package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
	"github.com/hearthealt/anyrouter-autosign/pkg/utils"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36 Edg/143.0.0.0"

	logBodyLimit = 2048
)

type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, e.Status)
}

// IsRetryableStatus lists the gateway errors the transport retries on its own.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type FetchOptions struct {
	Method            string
	Query             interface{}
	Body              interface{}
	RawBody           []byte
	AdditionalHeaders map[string]string
	Jar               *OperationJar
	Timeout           time.Duration
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

type ClientOptions struct {
	BaseURL   string
	Proxy     string
	UserAgent string
	Timeout   time.Duration
	Retries   int
	Backoff   time.Duration
	// RequestsPerSecond paces every request made through the client. Zero
	// disables pacing.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

type APIClient struct {
	BaseURL    *url.URL
	UserAgent  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Limiter    *rate.Limiter
	Log        *logger.ClassLogger
}

func NewAPIClient(opts ClientOptions) (*APIClient, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Proxy != "" {
			proxyURL, err := url.Parse(opts.Proxy)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy url: %w", err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		httpClient = &http.Client{Transport: transport}
	}

	apiClient := &APIClient{
		BaseURL:    base,
		UserAgent:  opts.UserAgent,
		HTTPClient: httpClient,
		Timeout:    opts.Timeout,
		Retries:    opts.Retries,
		Backoff:    opts.Backoff,
	}
	if apiClient.UserAgent == "" {
		apiClient.UserAgent = DefaultUserAgent
	}
	if apiClient.Timeout <= 0 {
		apiClient.Timeout = 300 * time.Second
	}
	if apiClient.Retries < 0 {
		apiClient.Retries = 0
	}
	if opts.RequestsPerSecond > 0 {
		apiClient.Limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	apiClient.Log = logger.NewLogger(apiClient, nil)

	return apiClient, nil
}

// URL resolves path against the base URL.
func (c *APIClient) URL(path string) *url.URL {
	u := *c.BaseURL
	u.Path = strings.TrimRight(c.BaseURL.Path, "/") + path
	return &u
}

func (c *APIClient) _generateHeaders() map[string]string {
	return map[string]string{
		"Accept":             "application/json, text/plain, */*",
		"Accept-Language":    "zh-CN,zh;q=0.9,en;q=0.8,en-GB;q=0.7,en-US;q=0.6",
		"Cache-Control":      "no-store",
		"Pragma":             "no-cache",
		"Priority":           "u=1, i",
		"Referer":            c.URL("/console").String(),
		"Sec-Ch-Ua":          `"Microsoft Edge";v="143", "Chromium";v="143", "Not A(Brand";v="24"`,
		"Sec-Ch-Ua-Mobile":   "?0",
		"Sec-Ch-Ua-Platform": `"Windows"`,
		"Sec-Fetch-Dest":     "empty",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Site":     "same-origin",
		"User-Agent":         c.UserAgent,
	}
}

// Fetch issues one request, retrying network failures and 5xx answers up to
// Retries more times with a fixed backoff. Any other non-2xx answer comes back
// as *HTTPError together with the response.
func (c *APIClient) Fetch(ctx context.Context, path string, opts *FetchOptions) (*Response, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.RawBody != nil && opts.Body != nil {
		return nil, fmt.Errorf("cannot specify both Body and RawBody")
	}

	var payload []byte
	if opts.RawBody != nil {
		payload = opts.RawBody
	} else if opts.Body != nil {
		b, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	target := c.URL(path)
	if opts.Query != nil {
		qs, err := utils.EncodeURLParams(opts.Query)
		if err != nil {
			return nil, err
		}
		target.RawQuery = qs
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.Timeout
	}

	var (
		res     *Response
		attempt int
	)
	operation := func() error {
		attempt++
		r, err := c.do(ctx, target, opts, payload, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.Log.JustLog(fmt.Sprintf("%s %s attempt %d failed: %v", opts.Method, target.Path, attempt, err))
			return err
		}
		res = r
		if IsRetryableStatus(r.StatusCode) {
			c.Log.JustLog(fmt.Sprintf("%s %s attempt %d got %d", opts.Method, target.Path, attempt, r.StatusCode))
			return &HTTPError{StatusCode: r.StatusCode, Status: http.StatusText(r.StatusCode), Body: r.Body}
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.Backoff), uint64(c.Retries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return res, fmt.Errorf("request error: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, &HTTPError{StatusCode: res.StatusCode, Status: http.StatusText(res.StatusCode), Body: res.Body}
	}
	return res, nil
}

func (c *APIClient) do(ctx context.Context, target *url.URL, opts *FetchOptions, payload []byte, timeout time.Duration) (*Response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, opts.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c._generateHeaders() {
		req.Header.Set(key, value)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range opts.AdditionalHeaders {
		req.Header.Set(key, value)
	}
	if opts.Jar != nil {
		for _, ck := range opts.Jar.Cookies(target) {
			req.AddCookie(ck)
		}
	}

	if payload != nil {
		c.Log.JustLog(fmt.Sprintf("%s %s\nBody:\n%s", opts.Method, target.String(), utils.TruncateForLog(utils.BeautifyJSON(payload), logBodyLimit)))
	} else {
		c.Log.JustLog(fmt.Sprintf("%s %s", opts.Method, target.String()))
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	resBodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if opts.Jar != nil {
		opts.Jar.SetCookies(target, res.Cookies())
	}

	c.Log.JustLog(fmt.Sprintf("Response %d:\n%s", res.StatusCode, utils.TruncateForLog(string(resBodyBytes), logBodyLimit)))

	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: resBodyBytes}, nil
}

// IsTransportError reports whether err came from the network or from a
// retryable status that outlived its retries.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return IsRetryableStatus(httpErr.StatusCode)
	}
	return true
}
