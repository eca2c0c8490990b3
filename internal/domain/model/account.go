package model

import (
	"fmt"
	"strconv"
	"time"
)

const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

type Account struct {
	ID             int64
	Index          int
	Username       string
	DisplayName    string
	SessionCookie  string `log:"-"`
	PlatformUserID int64
	IsActive       bool

	HealthStatus  string
	HealthMessage string
	Quota         int64
	UsedQuota     int64
	LastCheckAt   time.Time

	SignStatus string
	LastReward int64
}

// SessionCredential is what the gateway needs to act as one account.
type SessionCredential struct {
	Cookie string
	UserID string
}

// Credential leaves UserID empty for accounts not yet linked to a platform
// user, so no new-api-user header is sent for them.
func (a *Account) Credential() SessionCredential {
	cred := SessionCredential{Cookie: a.SessionCookie}
	if a.PlatformUserID > 0 {
		cred.UserID = strconv.FormatInt(a.PlatformUserID, 10)
	}
	return cred
}

// Signable reports whether the scheduler may sign in with this account.
func (a *Account) Signable() bool {
	return a != nil && a.IsActive && a.PlatformUserID > 0 && a.SessionCookie != ""
}

func (a *Account) Label() string {
	if a == nil {
		return "-"
	}
	if a.Username != "" {
		return a.Username
	}
	return fmt.Sprintf("Account %d", a.ID)
}

// LoggingAccount returns a copy safe to hand to the UI goroutine.
func (a *Account) LoggingAccount() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.SessionCookie = ""
	return &cp
}
