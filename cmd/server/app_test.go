package main

import (
	"testing"

	"paycore/config"
	"paycore/pkg/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildRegistry_OnlyConfiguredProviders(t *testing.T) {
	cfg := &config.Config{}
	cfg.Payment.EnableStub = true
	cfg.CinetPay = config.CinetPayConfig{APIKey: "key", SiteID: "site", SecretKey: "s"}

	reg, err := buildRegistry(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.ElementsMatch(t, []payment.Provider{payment.ProviderCinetPay, payment.ProviderStub}, reg.Providers())

	_, err = reg.Get(payment.ProviderSwapuzi)
	assert.ErrorIs(t, err, payment.ErrUnknownProvider)
}

func TestBuildRegistry_PlatformFeeApplied(t *testing.T) {
	cfg := &config.Config{}
	cfg.Payment.PlatformPercent = decimal.NewFromInt(5)
	cfg.MoneyFusion = config.MoneyFusionConfig{PayURL: "https://pay.example/merchant"}

	reg, err := buildRegistry(cfg, zap.NewNop())
	require.NoError(t, err)
	a, err := reg.Get(payment.ProviderMoneyFusion)
	require.NoError(t, err)

	b, err := a.CalculateFees(decimal.NewFromInt(1000), payment.XOF, payment.MethodMobileMoney)
	require.NoError(t, err)
	assert.Equal(t, "30", b.ProcessingFee.String())
	assert.Equal(t, "50", b.PlatformFee.String())
	assert.Equal(t, "920", b.NetAmount.String())
}

func TestLogConfigWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logConfigWarnings(zap.New(core), []string{`RECONCILE_ATTEMPTS="abc" is not an integer, using 3`})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "config value ignored", entry.Message)
	assert.Equal(t, `RECONCILE_ATTEMPTS="abc" is not an integer, using 3`, entry.ContextMap()["warning"])
}
