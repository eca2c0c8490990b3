package orchestrator

import (
	"context"
	"fmt"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
	"github.com/hearthealt/anyrouter-autosign/internal/storage/signlog"
)

type HealthSummary struct {
	Checked   int `json:"checked"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// HealthCheck fetches the profile of every active account and caches the
// result on the account row.
func (o *Orchestrator) HealthCheck(ctx context.Context) (HealthSummary, error) {
	var summary HealthSummary
	if err := o.acquire(ctx); err != nil {
		return summary, err
	}
	defer o.release()

	accounts, err := o.store.ListAccounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list accounts: %w", err)
	}
	for i := range accounts {
		acc := &accounts[i]
		if !acc.IsActive || acc.SessionCookie == "" {
			continue
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		if o.checkOne(ctx, acc) {
			summary.Healthy++
		} else {
			summary.Unhealthy++
		}
	}
	o.log.Log(fmt.Sprintf("Health check finished: %d healthy, %d unhealthy", summary.Healthy, summary.Unhealthy))
	return summary, nil
}

func (o *Orchestrator) checkOne(ctx context.Context, acc *model.Account) bool {
	log := logger.NewNamed("Health", acc)
	profile, err := o.gateway.GetUserInfo(ctx, acc.Credential())

	update := signlog.HealthUpdate{Status: model.HealthHealthy, Profile: profile}
	if err != nil {
		update = signlog.HealthUpdate{Status: model.HealthUnhealthy, Message: err.Error()}
	}
	if uerr := o.store.UpdateHealth(ctx, acc.ID, update); uerr != nil {
		log.Error("Failed to store health result", uerr)
	}

	if err != nil {
		log.Warn(fmt.Sprintf("Account unhealthy: %v", err))
		return false
	}
	acc.HealthStatus, acc.Quota, acc.UsedQuota = model.HealthHealthy, profile.Quota, profile.UsedQuota
	log.LogObject("Profile", profile)
	log.WithAccount(acc).Log("Account healthy")
	return true
}
