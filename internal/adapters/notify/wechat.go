package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	weChatWorkBase = "https://qyapi.weixin.qq.com/cgi-bin"
	weChatMPBase   = "https://api.weixin.qq.com/cgi-bin"

	errcodeInvalidToken = 40001
)

type weChatReply struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
}

// WeChatWork sends text messages through an enterprise WeChat application.
type WeChatWork struct {
	Client  *http.Client
	BaseURL string
}

func NewWeChatWork(client *http.Client) *WeChatWork {
	return &WeChatWork{Client: defaultClient(client), BaseURL: weChatWorkBase}
}

func (w *WeChatWork) accessToken(ctx context.Context, cfg Config) (string, error) {
	q := url.Values{}
	q.Set("corpid", cfg.String("corp_id"))
	q.Set("corpsecret", cfg.String("corp_secret"))

	var reply weChatReply
	if err := doJSON(ctx, w.Client, http.MethodGet, w.BaseURL+"/gettoken?"+q.Encode(), nil, &reply); err != nil {
		return "", err
	}
	if reply.ErrCode != 0 || reply.AccessToken == "" {
		return "", fmt.Errorf("gettoken failed: errcode=%d errmsg=%s", reply.ErrCode, reply.ErrMsg)
	}
	return reply.AccessToken, nil
}

func (w *WeChatWork) Send(ctx context.Context, title, content string, cfg Config) error {
	if cfg.String("corp_id") == "" || cfg.String("corp_secret") == "" {
		return errors.New("wechat_work corp_id/corp_secret are not configured")
	}
	token, err := w.accessToken(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wechat_work: %w", err)
	}

	touser := cfg.String("user_id")
	if touser == "" {
		touser = "@all"
	}
	body := map[string]any{
		"touser":  touser,
		"msgtype": "text",
		"agentid": cfg.Int("agent_id", 0),
		"text":    map[string]string{"content": title + "\n\n" + content},
	}
	var reply weChatReply
	if err := doJSON(ctx, w.Client, http.MethodPost, w.BaseURL+"/message/send?access_token="+url.QueryEscape(token), body, &reply); err != nil {
		return fmt.Errorf("wechat_work: %w", err)
	}
	if reply.ErrCode != 0 {
		return fmt.Errorf("wechat_work rejected message: errcode=%d errmsg=%s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}

// WeChatMP sends template messages through an official account. Access tokens
// are cached per app id and refreshed once when the platform reports them stale.
type WeChatMP struct {
	Client  *http.Client
	BaseURL string
	Now     func() time.Time

	mu     sync.Mutex
	tokens map[string]string
}

func NewWeChatMP(client *http.Client) *WeChatMP {
	return &WeChatMP{
		Client:  defaultClient(client),
		BaseURL: weChatMPBase,
		Now:     time.Now,
		tokens:  make(map[string]string),
	}
}

func (w *WeChatMP) accessToken(ctx context.Context, cfg Config, refresh bool) (string, error) {
	appID := cfg.String("app_id")
	w.mu.Lock()
	cached := w.tokens[appID]
	w.mu.Unlock()
	if cached != "" && !refresh {
		return cached, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", appID)
	q.Set("secret", cfg.String("app_secret"))

	var reply weChatReply
	if err := doJSON(ctx, w.Client, http.MethodGet, w.BaseURL+"/token?"+q.Encode(), nil, &reply); err != nil {
		return "", err
	}
	if reply.AccessToken == "" {
		return "", fmt.Errorf("token request failed: errcode=%d errmsg=%s", reply.ErrCode, reply.ErrMsg)
	}
	w.mu.Lock()
	w.tokens[appID] = reply.AccessToken
	w.mu.Unlock()
	return reply.AccessToken, nil
}

func (w *WeChatMP) Send(ctx context.Context, title, content string, cfg Config) error {
	openID := cfg.String("openid")
	if openID == "" {
		return errors.New("wechat_mp openid is not configured")
	}
	if cfg.String("app_id") == "" || cfg.String("template_id") == "" {
		return errors.New("wechat_mp app_id/template_id are not configured")
	}

	titleColor := "#ff6b6b"
	if containsSuccess(title) {
		titleColor = "#51cf66"
	}
	body := map[string]any{
		"touser":      openID,
		"template_id": cfg.String("template_id"),
		"data": map[string]any{
			"keyword1": map[string]string{"value": title, "color": titleColor},
			"keyword2": map[string]string{"value": "AnyRouter签到", "color": "#909399"},
			"keyword3": map[string]string{"value": w.Now().Format("2006年01月02日 15:04:05"), "color": "#909399"},
			"keyword4": map[string]string{"value": content, "color": "#606266"},
		},
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := w.accessToken(ctx, cfg, attempt > 0)
		if err != nil {
			return fmt.Errorf("wechat_mp: %w", err)
		}
		var reply weChatReply
		if err := doJSON(ctx, w.Client, http.MethodPost, w.BaseURL+"/message/template/send?access_token="+url.QueryEscape(token), body, &reply); err != nil {
			return fmt.Errorf("wechat_mp: %w", err)
		}
		switch reply.ErrCode {
		case 0:
			return nil
		case errcodeInvalidToken:
			continue
		default:
			return fmt.Errorf("wechat_mp rejected message: errcode=%d errmsg=%s", reply.ErrCode, reply.ErrMsg)
		}
	}
	return errors.New("wechat_mp rejected message: access token still invalid after refresh")
}
