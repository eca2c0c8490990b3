package model

type APIToken struct {
	ID                 int64  `json:"id"`
	AccountID          int64  `json:"-"`
	Name               string `json:"name"`
	Key                string `json:"key"`
	Status             int    `json:"status"`
	RemainQuota        int64  `json:"remain_quota"`
	UsedQuota          int64  `json:"used_quota"`
	UnlimitedQuota     bool   `json:"unlimited_quota"`
	ExpiredTime        int64  `json:"expired_time"`
	CreatedTime        int64  `json:"created_time"`
	AccessedTime       int64  `json:"accessed_time"`
	ModelLimitsEnabled bool   `json:"model_limits_enabled"`
	ModelLimits        string `json:"model_limits"`
	AllowIPs           string `json:"allow_ips"`
	Group              string `json:"group"`
}

// TokenSpec is the body of a create-token request.
type TokenSpec struct {
	Name               string `json:"name"`
	RemainQuota        int64  `json:"remain_quota"`
	ExpiredTime        int64  `json:"expired_time"`
	UnlimitedQuota     bool   `json:"unlimited_quota"`
	ModelLimitsEnabled bool   `json:"model_limits_enabled"`
	ModelLimits        string `json:"model_limits"`
	AllowIPs           string `json:"allow_ips"`
	Group              string `json:"group"`
}

func NewTokenSpec(name string) TokenSpec {
	return TokenSpec{
		Name:        name,
		RemainQuota: 500000,
		ExpiredTime: -1,
		Group:       "default",
	}
}

type UserProfile struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Email        string `json:"email"`
	Group        string `json:"group"`
	Quota        int64  `json:"quota"`
	UsedQuota    int64  `json:"used_quota"`
	RequestCount int64  `json:"request_count"`
	AffCode      string `json:"aff_code"`
	Role         int    `json:"role"`
	Status       int    `json:"status"`
}
