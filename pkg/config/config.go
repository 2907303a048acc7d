package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors" default:"true"`
		UserAgent       string        `yaml:"user_agent" default:"RegimeWatch/1.0"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
		// Topic for aggregated error logs; empty disables the collector.
		CollectTopic    string        `yaml:"collect_topic"`
		CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Regime RegimeConfig `yaml:"regime"`
	Store  struct {
		Backend string `yaml:"backend" default:"badger"`
		Badger  struct {
			Dir string `yaml:"dir" default:"data/regime"`
		} `yaml:"badger"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
		DuckDB struct {
			Path string `yaml:"path" default:"data/regime.duckdb"`
		} `yaml:"duckdb"`
		MaxOpenConns int           `yaml:"max_open_conns" default:"10"`
		QueryTimeout time.Duration `yaml:"query_timeout" default:"5s"`
	} `yaml:"store"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"regime"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Cache struct {
		Enabled bool          `yaml:"enabled" default:"true"`
		TTL     time.Duration `yaml:"ttl" default:"5m"`
	} `yaml:"cache"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		InputTopic   string   `yaml:"input_topic" default:"index.daily"`
		AlertTopic   string   `yaml:"alert_topic" default:"regime.alerts"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"regime-watch"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	NATS struct {
		URL     string `yaml:"url" default:"nats://localhost:4222"`
		Stream  string `yaml:"stream" default:"REGIME"`
		Subject string `yaml:"subject" default:"regime.alerts"`
	} `yaml:"nats"`
	Notify struct {
		Timeout    time.Duration `yaml:"timeout" default:"5s"`
		Webhooks   []string      `yaml:"webhooks"`
		DiscordURL string        `yaml:"discord_url"`
		Kafka      bool          `yaml:"kafka"`
		NATS       bool          `yaml:"nats"`
		RedisList  string        `yaml:"redis_list"`
		WebSocket  bool          `yaml:"websocket" default:"true"`
	} `yaml:"notify"`
	Scheduler struct {
		Enabled     bool          `yaml:"enabled"`
		Spec        string        `yaml:"spec" default:"5 0 * * *"`
		IndexAPIURL string        `yaml:"index_api_url"`
		Timeout     time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"scheduler"`
	Backfill struct {
		UseQueue  bool   `yaml:"use_queue"`
		KeyPrefix string `yaml:"key_prefix" default:"regime:backfill"`
	} `yaml:"backfill"`
	RateLimit struct {
		RPS   float64 `yaml:"rps" default:"20"`
		Burst int     `yaml:"burst" default:"40"`
	} `yaml:"ratelimit"`
}

// RegimeConfig holds the classifier thresholds. Field names mirror the env overrides.
type RegimeConfig struct {
	EMAShort          int     `yaml:"ema_short" default:"7"`
	EMALong           int     `yaml:"ema_long" default:"30"`
	ZEnter            float64 `yaml:"z_enter" default:"0.5"`
	PersistDays       int     `yaml:"persist_days" default:"2"`
	CooldownDays      int     `yaml:"cooldown_days" default:"7"`
	BreadthOnMax      float64 `yaml:"breadth_on_max" default:"40.0"`
	BreadthOffMin     float64 `yaml:"breadth_off_min" default:"60.0"`
	PegSingleBps      uint    `yaml:"peg_single_bps" default:"100"`
	PegAggBps         uint    `yaml:"peg_agg_bps" default:"150"`
	PegClearHours     int     `yaml:"peg_clear_hours" default:"24"`
	VolatilityEpsilon float64 `yaml:"volatility_epsilon" default:"0.001"`
}

// Default returns a config populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NOTIFY_WEBHOOKS"); v != "" {
		c.Notify.Webhooks = strings.Split(v, ",")
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Notify.DiscordURL = v
	}

	r := &c.Regime
	ints := []struct {
		env string
		dst *int
	}{
		{"EMA_SHORT", &r.EMAShort},
		{"EMA_LONG", &r.EMALong},
		{"PERSIST_DAYS", &r.PersistDays},
		{"COOLDOWN_DAYS", &r.CooldownDays},
		{"PEG_CLEAR_HOURS", &r.PegClearHours},
	}
	for _, f := range ints {
		if v := os.Getenv(f.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("env %s: %w", f.env, err)
			}
			*f.dst = n
		}
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{"Z_ENTER", &r.ZEnter},
		{"BREADTH_ON_MAX", &r.BreadthOnMax},
		{"BREADTH_OFF_MIN", &r.BreadthOffMin},
		{"VOL_EPSILON", &r.VolatilityEpsilon},
	}
	for _, f := range floats {
		if v := os.Getenv(f.env); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("env %s: %w", f.env, err)
			}
			*f.dst = n
		}
	}

	uints := []struct {
		env string
		dst *uint
	}{
		{"PEG_SINGLE_BPS", &r.PegSingleBps},
		{"PEG_AGG_BPS", &r.PegAggBps},
	}
	for _, f := range uints {
		if v := os.Getenv(f.env); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("env %s: %w", f.env, err)
			}
			*f.dst = uint(n)
		}
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Store.Backend {
	case "badger", "duckdb", "clickhouse":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of badger, postgres, duckdb, clickhouse, got '%s'", c.Store.Backend)
	}
	if (c.Kafka.Enabled || c.Notify.Kafka || c.Log.CollectTopic != "") && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is used")
	}
	if c.Scheduler.Enabled && c.Scheduler.IndexAPIURL == "" {
		return fmt.Errorf("scheduler.index_api_url is required when scheduler is enabled")
	}
	if (c.Backfill.UseQueue || c.Notify.RedisList != "") && !c.Redis.Enabled {
		return fmt.Errorf("redis must be enabled for backfill queue or redis alert list")
	}
	return c.Regime.Validate()
}

// Validate checks threshold consistency.
func (r RegimeConfig) Validate() error {
	if r.EMAShort <= 0 || r.EMALong <= r.EMAShort {
		return fmt.Errorf("regime: need 0 < ema_short < ema_long, got %d/%d", r.EMAShort, r.EMALong)
	}
	if r.PersistDays < 1 {
		return fmt.Errorf("regime: persist_days must be >= 1")
	}
	if r.CooldownDays < 0 || r.PegClearHours < 0 {
		return fmt.Errorf("regime: cooldown_days and peg_clear_hours must be >= 0")
	}
	if r.BreadthOnMax < 0 || r.BreadthOffMin > 100 || r.BreadthOnMax > r.BreadthOffMin {
		return fmt.Errorf("regime: need 0 <= breadth_on_max <= breadth_off_min <= 100")
	}
	if r.VolatilityEpsilon <= 0 {
		return fmt.Errorf("regime: volatility_epsilon must be > 0")
	}
	return nil
}
