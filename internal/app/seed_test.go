package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthealt/anyrouter-autosign/internal/config"
	"github.com/hearthealt/anyrouter-autosign/internal/storage/signlog"
)

func TestApplySeed(t *testing.T) {
	store, err := signlog.NewStore(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	off := false
	seed := &config.Seed{
		Accounts: []config.SeedAccount{
			{Username: "alice", SessionCookie: "c1", UserID: 4242},
			{Username: "bob", SessionCookie: "c2", UserID: 7, Active: &off},
		},
		Channels: []config.SeedChannel{
			{Name: "ops", Type: "pushplus", Config: map[string]any{"token": "t"}},
		},
		Bindings: []config.SeedBinding{
			{Account: "alice", Channel: "ops", Config: map[string]any{"topic": "daily"}},
		},
		Settings: map[string]any{"auto_sign_enabled": true, "auto_sign_time": "09:30"},
	}
	require.NoError(t, ApplySeed(ctx, store, seed))
	// idempotent
	require.NoError(t, ApplySeed(ctx, store, seed))

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	signable, err := store.ListSignableAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, signable, 1)
	assert.Equal(t, "alice", signable[0].Username)

	bindings, err := store.ListAccountBindings(ctx, signable[0].ID)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, map[string]any{"token": "t", "topic": "daily"}, bindings[0].MergedConfig())

	settings, err := store.LoadScheduleSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.AutoSignEnabled)
	assert.Equal(t, "09:30", settings.AutoSignTime)
}

func TestApplySeedRejectsUnknownBinding(t *testing.T) {
	store, err := signlog.NewStore(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer store.Close()

	err = ApplySeed(context.Background(), store, &config.Seed{
		Bindings: []config.SeedBinding{{Account: "ghost", Channel: "ops"}},
	})
	assert.ErrorContains(t, err, "unknown account")
}
