package config_test

import (
	"testing"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadHarvesterDefaults(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "")
	t.Setenv("ELASTICSEARCH_INDEX", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("HARVEST_BATCH_SIZE", "")

	cfg, err := config.LoadHarvester()
	require.NoError(t, err)

	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "ecolex", cfg.ElasticsearchIndex)
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout)
	require.Equal(t, 60*time.Second, cfg.ExtractTimeout)
	require.Contains(t, cfg.TreatyQuery, "{year}")
}

func TestLoadHarvesterOverrides(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://localhost:9999")
	t.Setenv("ELASTICSEARCH_INDEX", "custom")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092,broker-b:29093")
	t.Setenv("HARVEST_BATCH_SIZE", "7")
	t.Setenv("FETCH_MAX_ATTEMPTS", "5")
	t.Setenv("REQUEST_TIMEOUT", "30s")
	t.Setenv("FETCH_RATE_PER_SECOND", "0.5")
	t.Setenv("DECISION_DAYS_AGO", "14")

	cfg, err := config.LoadHarvester()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:9999", cfg.ElasticsearchAddr)
	require.Equal(t, "custom", cfg.ElasticsearchIndex)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, 7, cfg.BatchSize)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.InDelta(t, 0.5, cfg.RatePerSecond, 1e-9)
	require.Equal(t, 14, cfg.DecisionDaysAgo)
}

func TestLoadHarvesterRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "batch", key: "HARVEST_BATCH_SIZE", val: "0"},
		{name: "attempts", key: "FETCH_MAX_ATTEMPTS", val: "2"},
		{name: "days ago", key: "DECISION_DAYS_AGO", val: "-1"},
		{name: "page size", key: "COURT_PAGE_SIZE", val: "-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := config.LoadHarvester()
			require.Error(t, err)
		})
	}
}

func TestLoadIntake(t *testing.T) {
	t.Setenv("INTAKE_BIND_ADDR", ":9090")
	t.Setenv("INTAKE_API_KEY", "secret")
	t.Setenv("INTAKE_MAX_UPLOAD_MB", "2")

	cfg, err := config.LoadIntake()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, "secret", cfg.APIKey)
	require.Equal(t, int64(2<<20), cfg.MaxUploadBytes)
}

func TestLoadIntakeRequiresKey(t *testing.T) {
	t.Setenv("INTAKE_API_KEY", "")

	_, err := config.LoadIntake()
	require.Error(t, err)
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("WORKER_INTERVAL", "12h")
	t.Setenv("WORKER_TYPES", "treaty, literature")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, []string{"treaty", "literature"}, cfg.Types)
	require.Equal(t, 2*time.Hour, cfg.RunTimeout)
}
