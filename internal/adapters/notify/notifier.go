package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/doyensec/safeurl"
)

const (
	sendTimeout     = 10 * time.Second
	maxResponseSize = 1 << 20
)

var ErrUnknownChannel = errors.New("unknown notify channel type")

// Notifier delivers one message through one channel kind. cfg is the channel
// config with the account binding's overrides merged on top.
type Notifier interface {
	Send(ctx context.Context, title, content string, cfg Config) error
}

// Config is a decoded JSON object; numbers arrive as float64.
type Config map[string]any

func (c Config) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func (c Config) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Strings accepts a JSON array or a comma separated string.
func (c Config) Strings(key string) []string {
	var out []string
	switch v := c[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Registry maps a channel type tag to its notifier.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

// NewDefaultRegistry registers every built-in channel kind on client.
func NewDefaultRegistry(client *http.Client) *Registry {
	r := NewRegistry()
	r.Register("pushplus", NewPushPlus(client))
	r.Register("wechat_work", NewWeChatWork(client))
	r.Register("wechat_mp", NewWeChatMP(client))
	r.Register("dingtalk", NewDingTalk(client))
	r.Register("feishu", NewFeishu(client))
	r.Register("email", NewEmail())
	return r
}

func (r *Registry) Register(kind string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[kind] = n
}

func (r *Registry) Get(kind string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, kind)
	}
	return n, nil
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.notifiers))
	for k := range r.notifiers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewSafeClient returns a client that refuses private, loopback and
// link-local destinations, since webhook URLs come from operator config.
func NewSafeClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = sendTimeout
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}

func defaultClient(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Timeout: sendTimeout}
	}
	return client
}

// doJSON sends body (when non-nil) as JSON and decodes the reply into out.
func doJSON(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unexpected response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
