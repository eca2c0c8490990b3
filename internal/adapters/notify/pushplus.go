package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const pushPlusEndpoint = "http://www.pushplus.plus/send"

type PushPlus struct {
	Client   *http.Client
	Endpoint string
}

func NewPushPlus(client *http.Client) *PushPlus {
	return &PushPlus{Client: defaultClient(client), Endpoint: pushPlusEndpoint}
}

func (p *PushPlus) Send(ctx context.Context, title, content string, cfg Config) error {
	token := cfg.String("token")
	if token == "" {
		return errors.New("pushplus token is not configured")
	}
	body := map[string]any{
		"token":    token,
		"title":    title,
		"content":  content,
		"template": "html",
	}
	if topic := cfg.String("topic"); topic != "" {
		body["topic"] = topic
	}

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := doJSON(ctx, p.Client, http.MethodPost, p.Endpoint, body, &result); err != nil {
		return fmt.Errorf("pushplus: %w", err)
	}
	if result.Code != 200 {
		return fmt.Errorf("pushplus rejected message: code=%d msg=%s", result.Code, result.Msg)
	}
	return nil
}
