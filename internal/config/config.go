// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Layout    LayoutConfig    `mapstructure:"layout"`
	Store     StoreConfig     `mapstructure:"store"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Results   ResultsConfig   `mapstructure:"results"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Publisher BackendConfig   `mapstructure:"publisher"`
	Notify    BackendConfig   `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RateLimitConfig throttles API clients by remote address.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// SchedulerConfig governs job claiming.
type SchedulerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RepollDelay  time.Duration `mapstructure:"repoll_delay"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	SortByDepth  bool          `mapstructure:"sort_by_depth"`
}

// CrawlerConfig governs the per-site crawl.
type CrawlerConfig struct {
	MaxPagesDefault    int           `mapstructure:"max_pages_default"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	UserAgent          string        `mapstructure:"user_agent"`
	PerHostRPS         float64       `mapstructure:"per_host_rps"`
	Engine             string        `mapstructure:"engine"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
	StoreHTML          bool          `mapstructure:"store_html"`
	HeadlessParallel   int           `mapstructure:"headless_parallel"`
	// PromoteScriptShare tunes the auto engine's client-render detector.
	PromoteScriptShare float64       `mapstructure:"promote_script_share"`
}

// LayoutConfig sets node footprint and spacing in layout units.
type LayoutConfig struct {
	NodeWidth      float64 `mapstructure:"node_width"`
	SiblingSpacing float64 `mapstructure:"sibling_spacing"`
	LevelSpacing   float64 `mapstructure:"level_spacing"`
	Margin         float64 `mapstructure:"margin"`
}

// StoreConfig selects the job store.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// BlobConfig selects where graph exports and page HTML go.
type BlobConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ResultsConfig toggles result sinks. Persist fans out in this order.
type ResultsConfig struct {
	Postgres   bool `mapstructure:"postgres"`
	BlobExport bool `mapstructure:"blob_export"`
	Neo4j      bool `mapstructure:"neo4j"`
}

// Neo4jConfig locates the graph database.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// RedisConfig locates the progress status cache; empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaConfig holds broker and topic names.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	NotifyTopic string   `mapstructure:"notify_topic"`
	GroupID     string   `mapstructure:"group_id"`
	EventsTopic string   `mapstructure:"events_topic"`
}

// PubSubConfig holds Google Cloud Pub/Sub names.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
	EventsTopic  string `mapstructure:"events_topic"`
}

// BackendConfig names one transport implementation.
type BackendConfig struct {
	Backend string `mapstructure:"backend"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// ProgressConfig sizes the progress event hub.
type ProgressConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("ratelimit.requests_per_second", 10.0)
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("scheduler.poll_interval", 30*time.Second)
	v.SetDefault("scheduler.repoll_delay", time.Second)
	v.SetDefault("scheduler.stale_after", time.Hour)
	v.SetDefault("scheduler.sort_by_depth", false)
	v.SetDefault("crawler.max_pages_default", crawler.DefaultMaxPages)
	v.SetDefault("crawler.max_concurrency", 4)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.retry_delay", 500*time.Millisecond)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.user_agent", "sitegraph-bot/0.1")
	v.SetDefault("crawler.per_host_rps", 1.0)
	v.SetDefault("crawler.engine", EngineColly)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.store_html", false)
	v.SetDefault("crawler.headless_parallel", 2)
	v.SetDefault("crawler.promote_script_share", 0.25)
	v.SetDefault("layout.node_width", 250.0)
	v.SetDefault("layout.sibling_spacing", 100.0)
	v.SetDefault("layout.level_spacing", 300.0)
	v.SetDefault("layout.margin", 50.0)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.sqlite_path", "sitegraph.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("blob.backend", BackendMemory)
	v.SetDefault("blob.base_dir", "data")
	v.SetDefault("blob.prefix", "pages")
	v.SetDefault("results.postgres", false)
	v.SetDefault("results.blob_export", true)
	v.SetDefault("results.neo4j", false)
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("kafka.notify_topic", "crawl-requests")
	v.SetDefault("kafka.group_id", "sitegraph")
	v.SetDefault("kafka.events_topic", "crawl-job-events")
	v.SetDefault("pubsub.events_topic", "crawl-job-events")
	v.SetDefault("publisher.backend", BackendNone)
	v.SetDefault("notify.backend", BackendNone)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
}

// Backend and engine names.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendKafka    = "kafka"
	BackendPubSub   = "pubsub"

	EngineColly      = "colly"
	EngineChromedp   = "chromedp"
	EnginePlaywright = "playwright"
	EngineAuto       = "auto"
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if c.Crawler.MaxPagesDefault <= 0 {
		return fmt.Errorf("crawler.max_pages_default must be > 0")
	}
	if c.Crawler.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.max_concurrency must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if err := oneOf("crawler.engine", c.Crawler.Engine, EngineColly, EngineChromedp, EnginePlaywright, EngineAuto); err != nil {
		return err
	}
	if err := oneOf("store.backend", c.Store.Backend, BackendMemory, BackendPostgres, BackendSQLite); err != nil {
		return err
	}
	if c.Store.Backend == BackendPostgres && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set for the postgres store")
	}
	if c.Results.Postgres && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when results.postgres is enabled")
	}
	if err := oneOf("blob.backend", c.Blob.Backend, BackendMemory, BackendLocal, BackendGCS); err != nil {
		return err
	}
	if c.Blob.Backend == BackendGCS && c.Blob.GCSBucket == "" {
		return fmt.Errorf("blob.gcs_bucket must be set for the gcs backend")
	}
	if c.Results.Neo4j && c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j.uri must be set when results.neo4j is enabled")
	}
	if err := oneOf("publisher.backend", c.Publisher.Backend, BackendNone, BackendMemory, BackendKafka, BackendPubSub); err != nil {
		return err
	}
	if err := oneOf("notify.backend", c.Notify.Backend, BackendNone, BackendMemory, BackendKafka, BackendPubSub); err != nil {
		return err
	}
	usesKafka := c.Publisher.Backend == BackendKafka || c.Notify.Backend == BackendKafka
	if usesKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be set when a kafka backend is selected")
	}
	usesPubSub := c.Publisher.Backend == BackendPubSub || c.Notify.Backend == BackendPubSub
	if usesPubSub && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a pubsub backend is selected")
	}
	if c.Notify.Backend == BackendPubSub && c.PubSub.Subscription == "" {
		return fmt.Errorf("pubsub.subscription must be set for pubsub notifications")
	}
	if c.Layout.NodeWidth <= 0 || c.Layout.SiblingSpacing < 0 || c.Layout.LevelSpacing <= 0 {
		return fmt.Errorf("layout sizes must be positive")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}

// EventsTopic returns the lifecycle topic for the selected publisher.
func (c Config) EventsTopic() string {
	if c.Publisher.Backend == BackendPubSub {
		return c.PubSub.EventsTopic
	}
	return c.Kafka.EventsTopic
}
