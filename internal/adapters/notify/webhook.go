package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func containsSuccess(title string) bool {
	return strings.Contains(title, "成功")
}

// DingTalk posts markdown messages to a custom robot webhook.
type DingTalk struct {
	Client *http.Client
	Now    func() time.Time
}

func NewDingTalk(client *http.Client) *DingTalk {
	return &DingTalk{Client: defaultClient(client), Now: time.Now}
}

// DingTalkSign returns the url-escaped signature for a millisecond timestamp.
func DingTalkSign(secret string, timestampMs int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampMs, 10) + "\n" + secret))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func (d *DingTalk) Send(ctx context.Context, title, content string, cfg Config) error {
	webhook := cfg.String("webhook")
	if webhook == "" {
		return errors.New("dingtalk webhook is not configured")
	}
	if secret := cfg.String("secret"); secret != "" {
		ts := d.Now().UnixMilli()
		webhook += "&timestamp=" + strconv.FormatInt(ts, 10) + "&sign=" + DingTalkSign(secret, ts)
	}

	body := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  "## " + title + "\n\n" + content,
		},
	}
	if mobiles := cfg.Strings("at_mobiles"); len(mobiles) > 0 {
		body["at"] = map[string]any{"atMobiles": mobiles, "isAtAll": false}
	}

	var reply struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := doJSON(ctx, d.Client, http.MethodPost, webhook, body, &reply); err != nil {
		return fmt.Errorf("dingtalk: %w", err)
	}
	if reply.ErrCode != 0 {
		return fmt.Errorf("dingtalk rejected message: errcode=%d errmsg=%s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}

// Feishu posts interactive cards to a custom bot webhook.
type Feishu struct {
	Client *http.Client
	Now    func() time.Time
}

func NewFeishu(client *http.Client) *Feishu {
	return &Feishu{Client: defaultClient(client), Now: time.Now}
}

// FeishuSign keys the HMAC with "timestamp\nsecret" over an empty message.
func FeishuSign(secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(strconv.FormatInt(timestamp, 10)+"\n"+secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (f *Feishu) Send(ctx context.Context, title, content string, cfg Config) error {
	webhook := cfg.String("webhook")
	if webhook == "" {
		return errors.New("feishu webhook is not configured")
	}
	template := "red"
	if containsSuccess(title) {
		template = "green"
	}
	body := map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"header": map[string]any{
				"title":    map[string]string{"tag": "plain_text", "content": title},
				"template": template,
			},
			"elements": []any{
				map[string]any{
					"tag":  "div",
					"text": map[string]string{"tag": "plain_text", "content": content},
				},
			},
		},
	}
	if secret := cfg.String("secret"); secret != "" {
		ts := f.Now().Unix()
		body["timestamp"] = strconv.FormatInt(ts, 10)
		body["sign"] = FeishuSign(secret, ts)
	}

	var reply struct {
		Code       *int   `json:"code"`
		StatusCode *int   `json:"StatusCode"`
		Msg        string `json:"msg"`
	}
	if err := doJSON(ctx, f.Client, http.MethodPost, webhook, body, &reply); err != nil {
		return fmt.Errorf("feishu: %w", err)
	}
	if (reply.Code != nil && *reply.Code == 0) || (reply.StatusCode != nil && *reply.StatusCode == 0) {
		return nil
	}
	return fmt.Errorf("feishu rejected message: %s", reply.Msg)
}
