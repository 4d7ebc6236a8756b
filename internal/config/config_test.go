package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
chain:
  domain: 1
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("CHAIN_DOMAIN", "")
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 125, cfg.Coordinator.MinRatio)
	assert.Equal(t, 200, cfg.Coordinator.MaxRatio)
	assert.Equal(t, 50, cfg.Oracle.ConfidenceThreshold)
	assert.Equal(t, "0", cfg.Oracle.FixedFee)
	assert.Equal(t, 3600, cfg.Coordinator.TimeoutWindow)
	assert.Equal(t, 86400, cfg.Coordinator.OwnerManualDelay)
	assert.Equal(t, 604800, cfg.Automation.EmergencyDelay)
	assert.Equal(t, 10, cfg.Automation.MaxBatch)
	assert.Equal(t, "collateral", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "admin", cfg.Admin.Username)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	t.Setenv("CHAIN_DOMAIN", "")

	_, err := Parse([]byte("server:\n  port: 8080\n"))
	assert.Error(t, err, "chain.domain is required")

	_, err = Parse([]byte(minimal + "coordinator:\n  min_ratio: 210\n  max_ratio: 150\n"))
	assert.ErrorContains(t, err, "min_ratio")

	_, err = Parse([]byte(minimal + "database:\n  driver: mysql\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("chain: ["))
	assert.Error(t, err)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_DOMAIN", "42")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RISK_ORACLE_CALLBACK_TOKEN", "oracle-secret")
	t.Setenv("AUTOMATION_ENABLED", "true")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.Chain.Domain)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "oracle-secret", cfg.Oracle.CallbackToken)
	assert.True(t, cfg.Automation.Enabled)
}
