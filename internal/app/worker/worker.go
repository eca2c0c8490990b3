package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hearthealt/anyrouter-autosign/internal/adapters/gateway"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/ui"
	"github.com/hearthealt/anyrouter-autosign/pkg/utils"
)

const (
	statusWaiting    = "WAITING"
	statusInProgress = "SIGNING IN"
	statusDone       = "DONE"
	statusFailed     = "FAILED"

	defaultFailureMessage = "签到失败"
)

// Signer is the slice of the gateway a worker needs.
type Signer interface {
	SignIn(ctx context.Context, cred model.SessionCredential) (gateway.SignResult, error)
}

// Worker performs single sign-in attempts and turns whatever happened into
// a tagged result. It never returns an error and never panics.
type Worker struct {
	signer    Signer
	quotaRate int64
}

func New(signer Signer, quotaRate int64) *Worker {
	if quotaRate <= 0 {
		quotaRate = utils.DefaultQuotaRate
	}
	return &Worker{signer: signer, quotaRate: quotaRate}
}

// Attempt signs the account in once (with the gateway's own round retries).
func (w *Worker) Attempt(ctx context.Context, account *model.Account, attempt int) (result model.AttemptResult) {
	log := logger.NewNamed(fmt.Sprintf("Sign - %s", account.Label()), account)

	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected failure during sign-in", fmt.Errorf("%v", r))
			result = model.Failed{Reason: fmt.Sprintf("unexpected error: %v", r)}
			ui.SetSpinnerError(*account.LoggingAccount(), statusFailed)
		}
	}()

	if attempt > 0 {
		log.Log(fmt.Sprintf("Retry attempt %d: %s", attempt, statusInProgress))
	} else {
		log.Log(statusInProgress)
	}

	res, err := w.signer.SignIn(ctx, account.Credential())
	result = Classify(res, err, w.quotaRate)

	switch r := result.(type) {
	case model.Succeeded:
		account.SignStatus, account.LastReward = "REWARDED", r.Reward
		log.Log(fmt.Sprintf("%s: reward %s", statusDone, utils.FormatQuota(r.Reward, w.quotaRate)))
		ui.SetSpinnerSuccess(*account.LoggingAccount(), statusDone)
	case model.AlreadySigned:
		account.SignStatus = "ALREADY SIGNED"
		log.Log(fmt.Sprintf("%s: %s", statusDone, model.AlreadySignedMessage))
		ui.SetSpinnerSuccess(*account.LoggingAccount(), statusDone)
	case model.TransportError:
		account.SignStatus = statusFailed
		log.Error(fmt.Sprintf("%s: %s", statusFailed, r.Reason), err)
		ui.SetSpinnerError(*account.LoggingAccount(), statusFailed)
	default:
		account.SignStatus = statusFailed
		log.Error(fmt.Sprintf("%s: %s", statusFailed, result.Detail()), err)
		ui.SetSpinnerError(*account.LoggingAccount(), statusFailed)
	}
	return result
}

// Classify maps a gateway answer to exactly one result:
//   - success with a message: Succeeded, reward parsed from the message
//   - success without a message: AlreadySigned
//   - anything else: Failed, or TransportError when every round was lost
//     on the network
func Classify(res gateway.SignResult, err error, quotaRate int64) model.AttemptResult {
	if err != nil {
		var exhausted *gateway.ExhaustedError
		if errors.As(err, &exhausted) {
			if gateway.IsTransportFailure(exhausted.Last) {
				return model.TransportError{Reason: gateway.RetriesExhaustedMessage}
			}
			return model.Failed{Reason: gateway.RetriesExhaustedMessage}
		}
		return model.Failed{Reason: err.Error()}
	}

	msg := strings.TrimSpace(res.Message)
	switch {
	case res.Success && msg != "":
		return model.Succeeded{Reward: utils.ParseRewardQuota(msg, quotaRate), Message: msg}
	case res.Success:
		return model.AlreadySigned{}
	case msg == "":
		return model.Failed{Reason: defaultFailureMessage}
	default:
		return model.Failed{Reason: msg}
	}
}

// Waiting marks accounts as queued on the console board.
func Waiting(accounts []model.Account) {
	if !ui.Enabled() {
		return
	}
	for i := range accounts {
		ui.UpdateStatus(*accounts[i].LoggingAccount(), statusWaiting, 0)
	}
}
