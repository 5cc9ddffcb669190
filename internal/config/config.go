// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	DB        DBConfig        `mapstructure:"db"`
	Index     IndexConfig     `mapstructure:"index"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sources   []SourceConfig  `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs the fetch strategy chain.
type FetchConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	SolverURL           string `mapstructure:"solver_url"`
	SolverTimeoutSec    int    `mapstructure:"solver_timeout_seconds"`
	HeadlessMaxParallel int    `mapstructure:"headless_max_parallel"`
	InteractiveEnabled  bool   `mapstructure:"interactive_enabled"`
	InteractivePollSec  int    `mapstructure:"interactive_poll_seconds"`
	InteractiveMaxSec   int    `mapstructure:"interactive_max_wait_seconds"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// IndexConfig points at the search index.
type IndexConfig struct {
	URL       string `mapstructure:"url"`
	IndexName string `mapstructure:"index_name"`
}

// RedisConfig controls the fingerprint cache. An empty address disables it.
type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	CacheTTLMin int    `mapstructure:"cache_ttl_minutes"`
}

// PubSubConfig holds posting event publishing metadata. An empty project ID
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig selects where raw listing pages are kept.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"` // gcs, local, or none
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
}

// SchedulerConfig controls the recurring full crawl.
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// CrawlConfig bounds individual crawl runs.
type CrawlConfig struct {
	MaxPerSource     int `mapstructure:"max_per_source"`
	AbandonAfterMin  int `mapstructure:"abandon_after_minutes"`
	FuzzyCandidates  int `mapstructure:"fuzzy_candidates"`
	ChallengeWaitSec int `mapstructure:"challenge_wait_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig describes one job board, selectors included.
type SourceConfig struct {
	Name          string            `mapstructure:"name"`
	StartURL      string            `mapstructure:"start_url"`
	PageParam     string            `mapstructure:"page_param"`
	MaxPages      int               `mapstructure:"max_pages"`
	Browser       bool              `mapstructure:"browser"`
	ExpectMarkers []string          `mapstructure:"expect_markers"`
	Headers       map[string]string `mapstructure:"headers"`
	Selectors     SelectorConfig    `mapstructure:"selectors"`
}

// SelectorConfig maps posting fields onto CSS selectors.
type SelectorConfig struct {
	Item            string `mapstructure:"item"`
	Title           string `mapstructure:"title"`
	Company         string `mapstructure:"company"`
	Location        string `mapstructure:"location"`
	Salary          string `mapstructure:"salary"`
	JobType         string `mapstructure:"job_type"`
	ExperienceLevel string `mapstructure:"experience_level"`
	Description     string `mapstructure:"description"`
	Link            string `mapstructure:"link"`
	NativeIDAttr    string `mapstructure:"native_id_attr"`
	PostedAt        string `mapstructure:"posted_at"`
	PostedAtLayout  string `mapstructure:"posted_at_layout"`
}

// Load builds a Config from disk/environment. Environment variables use the
// JOBRADAR prefix, e.g. JOBRADAR_SERVER_PORT.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBRADAR")
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
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.solver_timeout_seconds", 75)
	v.SetDefault("fetch.headless_max_parallel", 2)
	v.SetDefault("fetch.interactive_enabled", false)
	v.SetDefault("fetch.interactive_poll_seconds", 3)
	v.SetDefault("fetch.interactive_max_wait_seconds", 120)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("index.index_name", "postings")
	v.SetDefault("redis.cache_ttl_minutes", 1440)
	v.SetDefault("pubsub.topic", "jobradar.postings")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", "0 */6 * * *")
	v.SetDefault("crawl.max_per_source", 250)
	v.SetDefault("crawl.abandon_after_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Archive.Backend {
	case "none", "local", "gcs":
	default:
		return fmt.Errorf("archive.backend must be one of none, local, gcs")
	}
	if c.Archive.Backend == "gcs" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket must be set for the gcs backend")
	}
	if c.Archive.Backend == "local" && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir must be set for the local backend")
	}
	if c.Scheduler.Enabled && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.cron must be set when the scheduler is enabled")
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if src.StartURL == "" {
			return fmt.Errorf("sources[%d].start_url is required", i)
		}
		if src.Selectors.Item == "" {
			return fmt.Errorf("sources[%d].selectors.item is required", i)
		}
	}
	return nil
}

// AbandonBudget returns the wall-clock budget for one crawl run.
func (c Config) AbandonBudget() time.Duration {
	return time.Duration(c.Crawl.AbandonAfterMin) * time.Minute
}

// CacheTTL returns the fingerprint cache TTL.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLMin) * time.Minute
}
