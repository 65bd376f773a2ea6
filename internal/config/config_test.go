package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv_OverridesDefaults(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"STORE":                  "memory",
		"RESERVATION_TTL":        "20m",
		"SWEEP_INTERVAL":         "30s",
		"SWEEP_BATCH_SIZE":       "50",
		"KAFKA_BROKERS":          "k1:9092, k2:9092 ,",
		"AUTO_MIGRATE":           "true",
		"DB_MAX_CONNS":           "12",
		"RESERVATION_OP_TIMEOUT": "2s",
	}))
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 20*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 50, cfg.SweepBatchSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, int32(12), cfg.DBMaxConns)
	assert.Equal(t, 2*time.Second, cfg.ReservationOpTimeout)
	assert.Equal(t, "8080", cfg.ServerPort)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_RejectsBadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{"RESERVATION_TTL": "soon"}))
	assert.ErrorContains(t, err, "RESERVATION_TTL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"postgres without url", func(c *Config) {}, "DATABASE_URL"},
		{"unknown store", func(c *Config) { c.Store = "sqlite" }, "unknown STORE"},
		{"zero ttl", func(c *Config) { c.Store = StoreMemory; c.ReservationTTL = 0 }, "RESERVATION_TTL"},
		{"zero batch", func(c *Config) { c.Store = StoreMemory; c.SweepBatchSize = 0 }, "SWEEP_BATCH_SIZE"},
		{"memory ok", func(c *Config) { c.Store = StoreMemory }, ""},
		{"postgres ok", func(c *Config) { c.DatabaseURL = "postgres://localhost/db" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadFile_ThenEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
reservation_ttl: 10m
sweep_batch_size: 25
kafka_brokers: [broker:9092]
`), 0o600))

	cfg := Default()
	require.NoError(t, cfg.loadFile(path))
	assert.Equal(t, 10*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 25, cfg.SweepBatchSize)
	assert.Equal(t, []string{"broker:9092"}, cfg.KafkaBrokers)

	require.NoError(t, cfg.applyEnv(envMap(map[string]string{"SWEEP_BATCH_SIZE": "40"})))
	assert.Equal(t, 40, cfg.SweepBatchSize)
	assert.Equal(t, StoreMemory, cfg.Store)
}
