package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/pkg/utils"
)

var (
	multi    *pterm.MultiPrinter
	spinners = make(map[int64]*pterm.SpinnerPrinter)
	mu       sync.Mutex
)

func StartUISystem() {
	mu.Lock()
	defer mu.Unlock()
	m, _ := pterm.DefaultMultiPrinter.Start()
	multi = m
}

func StopUISystem() {
	mu.Lock()
	defer mu.Unlock()
	if multi != nil {
		_, _ = multi.Stop()
		multi = nil
	}
}

// Enabled reports whether a board is running. Without one every update is
// dropped, which is what tests and headless runs get.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return multi != nil
}

func UpdateStatus(account model.Account, status string, remainingDelay time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	updateLocked(account, status, remainingDelay)
}

func updateLocked(account model.Account, status string, remainingDelay time.Duration) {
	if multi == nil {
		return
	}

	content := render(account, status, remainingDelay)
	if spinner, ok := spinners[account.ID]; ok {
		spinner.UpdateText(content)
		return
	}
	spinner, _ := pterm.DefaultSpinner.
		WithWriter(multi.NewWriter()).
		WithRemoveWhenDone(false).
		Start(content)
	spinners[account.ID] = spinner
}

func render(account model.Account, status string, remainingDelay time.Duration) string {
	return fmt.Sprintf(`
=============== %s ================
User ID       : %d
Health        : %s
Quota         : %s
Used          : %s

Today Sign    : %s
Last Reward   : %s

Status   : %s
Delay    : %s
===========================================`,
		account.Label(),
		account.PlatformUserID,
		defaultString(account.HealthStatus, model.HealthUnknown),
		utils.FormatQuota(account.Quota, utils.DefaultQuotaRate),
		utils.FormatQuota(account.UsedQuota, utils.DefaultQuotaRate),
		defaultString(account.SignStatus, "WAITING"),
		utils.FormatQuota(account.LastReward, utils.DefaultQuotaRate),
		status,
		FormatDelay(remainingDelay))
}

func SetSpinnerSuccess(account model.Account, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if spinner, ok := spinners[account.ID]; ok {
		updateLocked(account, finalMessage, 0)
		spinner.Success()
		delete(spinners, account.ID)
	}
}

func SetSpinnerError(account model.Account, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if spinner, ok := spinners[account.ID]; ok {
		updateLocked(account, finalMessage, 0)
		spinner.Fail()
		delete(spinners, account.ID)
	}
}

func FormatDelay(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d H %02d M %02d S", h, m, s)
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
