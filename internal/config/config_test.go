package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("COLLECTION_ADDRESS", "Coll111111111111111111111111111111111111111")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	err := os.WriteFile(path, []byte(`
betting:
  min_stake: 0.05
  fee_factor: "0.95"
timing:
  lock_poll_window: 20s
  payout_batch_size: 5
  gate_max_attempts: 4
`), 0o600)
	require.NoError(t, err)

	t.Setenv("SOLTYBET_CONFIG", path)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("COLLECTION_ADDRESS", "Coll111111111111111111111111111111111111111")
	t.Setenv("GATE_MAX_ATTEMPTS", "6")
	t.Setenv("JWT_EXPIRY", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Betting.MinStake.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, cfg.Betting.FeeFactor.Equal(decimal.RequireFromString("0.95")))
	assert.True(t, cfg.Betting.ReferredFeeFactor.Equal(decimal.RequireFromString("0.97")))
	assert.Equal(t, 20*time.Second, cfg.Timing.LockPollWindow)
	assert.Equal(t, 5, cfg.Timing.PayoutBatchSize)
	assert.Equal(t, 6, cfg.Timing.GateMaxAttempts)
	assert.Equal(t, 2*time.Hour, cfg.App.JWTExpiry)
}

func TestValidateRejectsBadFeeFactor(t *testing.T) {
	cfg := Defaults()
	cfg.App.JWTSecret = "secret"
	cfg.Solana.CollectionAddress = "Coll111111111111111111111111111111111111111"
	require.NoError(t, cfg.Validate())

	cfg.Betting.FeeFactor = decimal.RequireFromString("1.2")
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.App.JWTSecret = "secret"
	cfg.Solana.CollectionAddress = "Coll111111111111111111111111111111111111111"
	cfg.Betting.MinStake = decimal.NewFromInt(200)
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.App.JWTSecret = "secret"
	cfg.Solana.CollectionAddress = "Coll111111111111111111111111111111111111111"
	assert.Equal(t, DefaultJWTExpiry, cfg.App.JWTExpiry)
	cfg.App.JWTExpiry = 0
	assert.Error(t, cfg.Validate())
}

func TestGetEnvDurationRejectsGarbage(t *testing.T) {
	t.Setenv("LOCK_POLL_WINDOW", "soon")
	_, err := getEnvDuration("LOCK_POLL_WINDOW", time.Second)
	assert.Error(t, err)
}
