package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// PostgreSQL primary (writes)
	Postgres PostgresConfig `mapstructure:"postgres"`

	// PostgreSQL read replica; empty host means "read from primary"
	Replica PostgresConfig `mapstructure:"postgres_replica"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	HTTP      HTTPConfig      `mapstructure:"http"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Log       LogConfig       `mapstructure:"log"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

// Configured reports whether a host was provided.
func (c PostgresConfig) Configured() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`

	OwnershipSubject string `mapstructure:"ownership_subject"`
	BatchSubject     string `mapstructure:"batch_subject"`
	ClickSubject     string `mapstructure:"click_subject"`
}

type PrometheusConfig struct {
	Port           int    `mapstructure:"port"`
	Retention      string `mapstructure:"retention"`
	ScrapeInterval string `mapstructure:"scrape_interval"`
	Target         string `mapstructure:"target"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type RealtimeConfig struct {
	Port          int           `mapstructure:"port"`
	TicketSecret  string        `mapstructure:"ticket_secret"`
	TicketTTL     time.Duration `mapstructure:"ticket_ttl"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

type CacheConfig struct {
	LocationTTL   time.Duration `mapstructure:"location_ttl"`
	DeviceTTL     time.Duration `mapstructure:"device_ttl"`
	StatsTTL      time.Duration `mapstructure:"stats_ttl"`
	OwnerTTL      time.Duration `mapstructure:"owner_ttl"`
	DayCounterTTL time.Duration `mapstructure:"day_counter_ttl"`
	SeenMarkerTTL time.Duration `mapstructure:"seen_marker_ttl"`
}

type AnalyticsConfig struct {
	OwnershipTimeout time.Duration `mapstructure:"ownership_timeout"`
	TopN             int           `mapstructure:"top_n"`
	TopWindowDays    int           `mapstructure:"top_window_days"`
	HistoryMaxLimit  int           `mapstructure:"history_max_limit"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
	File     string `mapstructure:"file"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)

	v.SetDefault("nats.ownership_subject", "url.ownership.check")
	v.SetDefault("nats.batch_subject", "analytics.batch.clicks")
	v.SetDefault("nats.click_subject", "analytics.clicks")

	v.SetDefault("realtime.port", 8081)
	v.SetDefault("realtime.ticket_ttl", time.Minute)
	v.SetDefault("realtime.stats_interval", 15*time.Second)

	v.SetDefault("cache.location_ttl", time.Hour)
	v.SetDefault("cache.device_ttl", time.Hour)
	v.SetDefault("cache.stats_ttl", time.Minute)
	v.SetDefault("cache.owner_ttl", 5*time.Minute)
	v.SetDefault("cache.day_counter_ttl", 48*time.Hour)
	v.SetDefault("cache.seen_marker_ttl", 24*time.Hour)

	v.SetDefault("analytics.ownership_timeout", 300*time.Millisecond)
	v.SetDefault("analytics.top_n", 5)
	v.SetDefault("analytics.top_window_days", 30)
	v.SetDefault("analytics.history_max_limit", 10)

	v.SetDefault("log.level", "info")
}

func bindEnvVars(v *viper.Viper) {
	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// PostgreSQL replica
	v.BindEnv("postgres_replica.host", "PG_REPLICA_HOST")
	v.BindEnv("postgres_replica.user", "PG_REPLICA_USER")
	v.BindEnv("postgres_replica.password", "PG_REPLICA_PASSWORD")
	v.BindEnv("postgres_replica.database", "PG_REPLICA_DB")
	v.BindEnv("postgres_replica.port", "PG_REPLICA_PORT")
	v.BindEnv("postgres_replica.sslmode", "PG_REPLICA_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
	v.BindEnv("prometheus.retention", "PROM_RETENTION")
	v.BindEnv("prometheus.scrape_interval", "PROM_SCRAPE_INTERVAL")
	v.BindEnv("prometheus.target", "PROM_TARGET")

	// Service
	v.BindEnv("http.port", "HTTP_PORT")
	v.BindEnv("realtime.port", "WS_PORT")
	v.BindEnv("realtime.ticket_secret", "WS_TICKET_SECRET")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.file", "LOG_FILE")
}
