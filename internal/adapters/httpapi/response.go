package httpapi

import "time"

type outcomeResponse struct {
	AccountID   int64     `json:"account_id"`
	Kind        string    `json:"kind"`
	RewardQuota int64     `json:"reward_quota"`
	Message     string    `json:"message"`
	SignedAt    time.Time `json:"signed_at"`
}
