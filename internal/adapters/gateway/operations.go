package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hearthealt/anyrouter-autosign/internal/adapters/challenge"
	adhttp "github.com/hearthealt/anyrouter-autosign/internal/adapters/http"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

type tokenPage struct {
	P    int `url:"p"`
	Size int `url:"size"`
}

func (c *Client) GetUserInfo(ctx context.Context, cred model.SessionCredential) (*model.UserProfile, error) {
	env, err := c.call(ctx, cred, http.MethodGet, userPath, nil, "获取用户信息失败")
	if err != nil {
		return nil, err
	}
	var profile model.UserProfile
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &profile); err != nil {
			return nil, ErrDecode
		}
	}
	return &profile, nil
}

// SignIn posts the daily sign-in. Rounds that end in an empty body, a
// persisting challenge, undecodable JSON or a transport failure are repeated
// from priming up to SignRetryTimes. A decoded answer is returned as-is,
// whatever its success flag.
func (c *Client) SignIn(ctx context.Context, cred model.SessionCredential) (SignResult, error) {
	var last error
	for round := 0; round < c.opts.SignRetryTimes; round++ {
		if round > 0 {
			if err := c.sleep(ctx, c.opts.SignRetryInterval); err != nil {
				return SignResult{Message: RetriesExhaustedMessage, Rounds: round}, &ExhaustedError{Rounds: round, Last: err}
			}
		}

		env, err := c.signRound(ctx, cred)
		if err != nil {
			last = err
			c.log.JustLog(fmt.Sprintf("sign-in round %d for user %s failed: %v", round+1, cred.UserID, err))
			if ctx.Err() != nil {
				return SignResult{Message: RetriesExhaustedMessage, Rounds: round + 1}, &ExhaustedError{Rounds: round + 1, Last: ctx.Err()}
			}
			continue
		}
		return SignResult{Success: env.Success, Message: env.Message, Rounds: round + 1}, nil
	}
	return SignResult{Message: RetriesExhaustedMessage, Rounds: c.opts.SignRetryTimes},
		&ExhaustedError{Rounds: c.opts.SignRetryTimes, Last: last}
}

func (c *Client) signRound(ctx context.Context, cred model.SessionCredential) (*Envelope, error) {
	op := c.begin(cred)
	op.prime(ctx)

	res, err := op.execute(ctx, http.MethodPost, signInPath, nil)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(res.Text())
	if body == "" {
		return nil, ErrEmptyBody
	}
	if challenge.IsChallenge(body) {
		return nil, ErrChallengeUnsolved
	}
	return decodeEnvelope(res)
}

func (c *Client) ListTokens(ctx context.Context, cred model.SessionCredential, page, size int) ([]model.APIToken, error) {
	env, err := c.call(ctx, cred, http.MethodGet, tokenPath, &adhttp.FetchOptions{Query: tokenPage{P: page, Size: size}}, "获取 Token 列表失败")
	if err != nil {
		return nil, err
	}
	return decodeTokens(env.Data)
}

// decodeTokens accepts both a bare array and the paginated {items: [...]} form.
func decodeTokens(data json.RawMessage) ([]model.APIToken, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var tokens []model.APIToken
	if err := json.Unmarshal(data, &tokens); err == nil {
		return tokens, nil
	}
	var paged struct {
		Items []model.APIToken `json:"items"`
	}
	if err := json.Unmarshal(data, &paged); err != nil {
		return nil, ErrDecode
	}
	return paged.Items, nil
}

func (c *Client) CreateToken(ctx context.Context, cred model.SessionCredential, spec model.TokenSpec) (string, error) {
	env, err := c.call(ctx, cred, http.MethodPost, tokenPath, &adhttp.FetchOptions{Body: spec}, "创建令牌失败")
	if err != nil {
		return "", err
	}
	return messageOr(env, "创建成功"), nil
}

func (c *Client) UpdateToken(ctx context.Context, cred model.SessionCredential, token map[string]any) (string, error) {
	env, err := c.call(ctx, cred, http.MethodPut, tokenPath, &adhttp.FetchOptions{Body: token}, "更新令牌失败")
	if err != nil {
		return "", err
	}
	return messageOr(env, "更新成功"), nil
}

func (c *Client) DeleteToken(ctx context.Context, cred model.SessionCredential, tokenID int64) (string, error) {
	env, err := c.call(ctx, cred, http.MethodDelete, tokenPath+strconv.FormatInt(tokenID, 10), nil, "删除令牌失败")
	if err != nil {
		return "", err
	}
	return messageOr(env, "删除成功"), nil
}

func (c *Client) ListModels(ctx context.Context, cred model.SessionCredential) ([]string, error) {
	env, err := c.call(ctx, cred, http.MethodGet, modelsPath, nil, "获取模型列表失败")
	if err != nil {
		return nil, err
	}
	var models []string
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &models); err != nil {
			return nil, ErrDecode
		}
	}
	return models, nil
}

func (c *Client) ListGroups(ctx context.Context, cred model.SessionCredential) (map[string]GroupInfo, error) {
	env, err := c.call(ctx, cred, http.MethodGet, groupsPath, nil, "获取分组列表失败")
	if err != nil {
		return nil, err
	}
	groups := map[string]GroupInfo{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &groups); err != nil {
			return nil, ErrDecode
		}
	}
	return groups, nil
}

// APIStatus reads the public node status. It needs no session and skips
// priming, but still gets through the gate if challenged.
func (c *Client) APIStatus(ctx context.Context) (map[string]any, error) {
	op := c.begin(model.SessionCredential{})
	res, err := op.execute(ctx, http.MethodGet, statusPath, nil)
	if err != nil {
		return nil, fmt.Errorf("网络请求失败: %w", err)
	}
	env, err := decodeEnvelope(res)
	if err != nil {
		return nil, err
	}
	status := map[string]any{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &status); err != nil {
			return nil, ErrDecode
		}
	}
	return status, nil
}

func messageOr(env *Envelope, fallback string) string {
	if env != nil && strings.TrimSpace(env.Message) != "" {
		return env.Message
	}
	return fallback
}
