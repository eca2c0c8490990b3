package model

import "time"

type OutcomeKind string

const (
	OutcomeRewarded      OutcomeKind = "succeeded_with_reward"
	OutcomeAlreadySigned OutcomeKind = "succeeded_already_signed"
	OutcomeFailed        OutcomeKind = "failed"
)

func (k OutcomeKind) Succeeded() bool {
	return k == OutcomeRewarded || k == OutcomeAlreadySigned
}

// Notifiable reports whether the account's channels hear about this outcome.
func (k OutcomeKind) Notifiable() bool {
	return k == OutcomeRewarded || k == OutcomeFailed
}

// SignOutcome is one persisted row of the sign log.
type SignOutcome struct {
	ID          int64
	AccountID   int64
	Kind        OutcomeKind
	RewardQuota int64
	Message     string
	Attempt     int
	SignedAt    time.Time
}

// AttemptResult is the tagged result of a single sign-in attempt.
type AttemptResult interface {
	Kind() OutcomeKind
	Detail() string
}

type Succeeded struct {
	Reward  int64
	Message string
}

type AlreadySigned struct{}

type Failed struct {
	Reason string
}

type TransportError struct {
	Reason string
}

func (Succeeded) Kind() OutcomeKind      { return OutcomeRewarded }
func (AlreadySigned) Kind() OutcomeKind  { return OutcomeAlreadySigned }
func (Failed) Kind() OutcomeKind         { return OutcomeFailed }
func (TransportError) Kind() OutcomeKind { return OutcomeFailed }

func (r Succeeded) Detail() string      { return r.Message }
func (AlreadySigned) Detail() string    { return AlreadySignedMessage }
func (r Failed) Detail() string         { return r.Reason }
func (r TransportError) Detail() string { return r.Reason }

const AlreadySignedMessage = "今日已签到"

// RewardOf returns the quota carried by a result, zero for anything but Succeeded.
func RewardOf(r AttemptResult) int64 {
	if s, ok := r.(Succeeded); ok {
		return s.Reward
	}
	return 0
}
