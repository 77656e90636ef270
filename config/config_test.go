package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_PORT", "DATABASE_PATH", "LOW_STOCK_THRESHOLD", "RECENT_LIMIT", "SCAN_INTERVAL", "RABBITMQ_URL", "CORS_ORIGINS", "ENVIRONMENT"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "pharmacy.db", cfg.DatabasePath)
	assert.Equal(t, int64(10), cfg.LowStockThreshold)
	assert.Equal(t, 20, cfg.RecentLimit)
	assert.Equal(t, time.Hour, cfg.ScanInterval)
	assert.Equal(t, "pharmacy.events", cfg.RabbitQueue)
	assert.Empty(t, cfg.RabbitURL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.True(t, cfg.IsDevelopment())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOW_STOCK_THRESHOLD", "25")
	t.Setenv("RECENT_LIMIT", "50")
	t.Setenv("SCAN_INTERVAL", "15m")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, int64(25), cfg.LowStockThreshold)
	assert.Equal(t, 50, cfg.RecentLimit)
	assert.Equal(t, 15*time.Minute, cfg.ScanInterval)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.IsDevelopment())
}

func TestFromEnv_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"LOW_STOCK_THRESHOLD": "lots",
		"RECENT_LIMIT":        "0",
		"SCAN_INTERVAL":       "hourly",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_NonNumericPortFallsBack(t *testing.T) {
	t.Setenv("HTTP_PORT", "http")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoad_ReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DATABASE_PATH=/data/from-dotenv.db\nHTTP_PORT=7000\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("HTTP_PORT", "7001")
	t.Setenv("DATABASE_PATH", "")
	os.Unsetenv("DATABASE_PATH")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/from-dotenv.db", cfg.DatabasePath)
	assert.Equal(t, "7001", cfg.HTTPPort)
}

func TestBindFlags(t *testing.T) {
	cfg := Config{HTTPPort: "8080", DatabasePath: "pharmacy.db"}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"-port", "9999", "-seed", "catalog.csv"}))
	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, "pharmacy.db", cfg.DatabasePath)
	assert.Equal(t, "catalog.csv", cfg.SeedCatalog)
}
