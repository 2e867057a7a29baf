package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Wallet.ReferralCredit.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 90, cfg.Wallet.ExpirationDays)
	assert.True(t, cfg.Affiliate.MinimumWithdrawal.Equal(decimal.NewFromInt(50)))
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9000"
  timezone: UTC
wallet:
  referral_credit: "30.50"
  expiration_days: 60
pix:
  kits:
    3:
      code: "00020126pix3"
      price: "297.00"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PORT", "7000")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port, "env overrides file")
	assert.Equal(t, "UTC", cfg.Server.Timezone)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.True(t, cfg.Wallet.ReferralCredit.Equal(decimal.RequireFromString("30.50")))
	assert.Equal(t, 60, cfg.Wallet.ExpirationDays)
	require.Contains(t, cfg.Pix.Kits, 3)
	assert.Equal(t, "00020126pix3", cfg.Pix.Kits[3].Code)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.ExpirationDays = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Affiliate.CommissionRate = decimal.NewFromInt(2)
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Server.Timezone = "Nowhere/Atlantis"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Defaults().Validate())
}
