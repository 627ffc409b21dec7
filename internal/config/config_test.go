package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Scheduler.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, time.Second, cfg.Scheduler.RepollDelay)
	assert.Equal(t, 20, cfg.Crawler.MaxPagesDefault)
	assert.Equal(t, 4, cfg.Crawler.MaxConcurrency)
	assert.Equal(t, 2, cfg.Crawler.MaxRetries)
	assert.Equal(t, EngineColly, cfg.Crawler.Engine)
	assert.InDelta(t, 0.25, cfg.Crawler.PromoteScriptShare, 1e-9)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, BackendNone, cfg.Publisher.Backend)
	assert.Equal(t, BackendNone, cfg.Notify.Backend)
	assert.InDelta(t, 250.0, cfg.Layout.NodeWidth, 0)
	assert.InDelta(t, 300.0, cfg.Layout.LevelSpacing, 0)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "crawl-job-events", cfg.EventsTopic())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scheduler:
  concurrency: 3
  poll_interval: 10s
  stale_after: 0s
crawler:
  engine: playwright
  max_pages_default: 50
  per_host_rps: 2.5
store:
  backend: sqlite
  sqlite_path: /tmp/jobs.db
publisher:
  backend: pubsub
pubsub:
  project_id: proj
  events_topic: job-events
kafka:
  brokers: ["k1:9092", "k2:9092"]
logging:
  development: false
  file: /var/log/sitegraph.log
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 3, cfg.Scheduler.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollInterval)
	assert.Zero(t, cfg.Scheduler.StaleAfter)
	assert.Equal(t, EnginePlaywright, cfg.Crawler.Engine)
	assert.Equal(t, 50, cfg.Crawler.MaxPagesDefault)
	assert.InDelta(t, 2.5, cfg.Crawler.PerHostRPS, 1e-9)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "job-events", cfg.EventsTopic())
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "/var/log/sitegraph.log", cfg.Logging.File)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SITEGRAPH_SCHEDULER_CONCURRENCY", "5")
	t.Setenv("SITEGRAPH_CRAWLER_USER_AGENT", "env-agent")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Scheduler.Concurrency)
	assert.Equal(t, "env-agent", cfg.Crawler.UserAgent)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  concurrency: 0\n"), 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "scheduler.concurrency")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Scheduler.Concurrency = 0 }, want: "scheduler.concurrency"},
		{name: "unknown engine", mutate: func(c *Config) { c.Crawler.Engine = "lynx" }, want: "crawler.engine"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = BackendPostgres }, want: "store.dsn"},
		{name: "postgres results without dsn", mutate: func(c *Config) { c.Results.Postgres = true }, want: "store.dsn"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Blob.Backend = BackendGCS }, want: "blob.gcs_bucket"},
		{name: "neo4j without uri", mutate: func(c *Config) { c.Results.Neo4j = true }, want: "neo4j.uri"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Notify.Backend = BackendKafka }, want: "kafka.brokers"},
		{
			name: "pubsub without subscription",
			mutate: func(c *Config) {
				c.Notify.Backend = BackendPubSub
				c.PubSub.ProjectID = "p"
			},
			want: "pubsub.subscription",
		},
		{name: "unknown notify backend", mutate: func(c *Config) { c.Notify.Backend = "sqs" }, want: "notify.backend"},
		{name: "bad layout", mutate: func(c *Config) { c.Layout.NodeWidth = 0 }, want: "layout"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
