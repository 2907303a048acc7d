package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "badger", c.Store.Backend)
	assert.Equal(t, 7, c.Regime.EMAShort)
	assert.Equal(t, 30, c.Regime.EMALong)
	assert.Equal(t, 0.5, c.Regime.ZEnter)
	assert.Equal(t, uint(100), c.Regime.PegSingleBps)
	assert.Equal(t, uint(150), c.Regime.PegAggBps)
	assert.Equal(t, 24, c.Regime.PegClearHours)
	assert.Equal(t, 0.001, c.Regime.VolatilityEpsilon)
}

func TestLoadWithEnvOverridesRegime(t *testing.T) {
	t.Setenv("EMA_SHORT", "5")
	t.Setenv("Z_ENTER", "0.75")
	t.Setenv("PEG_AGG_BPS", "200")

	c, err := LoadWithEnv(writeConfig(t, "environment: test\nregime:\n  ema_long: 20\n"))
	require.NoError(t, err)

	assert.Equal(t, 5, c.Regime.EMAShort)
	assert.Equal(t, 20, c.Regime.EMALong)
	assert.Equal(t, 0.75, c.Regime.ZEnter)
	assert.Equal(t, uint(200), c.Regime.PegAggBps)
}

func TestLoadWithEnvRejectsGarbage(t *testing.T) {
	t.Setenv("PERSIST_DAYS", "two")
	_, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	c.Regime.EMAShort = 30
	assert.Error(t, c.Validate())

	c.Regime.EMAShort = 7
	c.Store.Backend = "postgres"
	assert.Error(t, c.Validate(), "postgres without dsn")

	c.Store.Backend = "mongo"
	assert.Error(t, c.Validate())
}

func TestShippedConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "badger", c.Store.Backend)
	assert.Equal(t, "5 0 * * *", c.Scheduler.Spec)
	assert.True(t, c.Notify.WebSocket)
}

func TestValidateCollectorNeedsBrokers(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	c.Log.CollectTopic = "regime.logs"
	assert.Error(t, c.Validate())

	c.Kafka.Brokers = []string{"localhost:9092"}
	assert.NoError(t, c.Validate())
}
