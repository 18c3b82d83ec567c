package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrVenueNotConfigured is returned when a channel references a venue that
// has no calendar entry. This is fatal at startup.
var ErrVenueNotConfigured = errors.New("venue not configured")

// Config holds all configuration for the streaming services.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Stream   StreamConfig   `mapstructure:"stream"`

	Channels []ChannelConfig        `mapstructure:"channels"`
	Venues   map[string]VenueConfig `mapstructure:"venues"`

	Processor ProcessorConfig `mapstructure:"processor"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"env"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StreamConfig tunes the distribution engine itself.
type StreamConfig struct {
	SendBuffer  int           `mapstructure:"send_buffer"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	MaxSessions int           `mapstructure:"max_sessions"`

	// Reconnect policy for the refresh-signal subscriber.
	BackoffInitial     time.Duration `mapstructure:"backoff_initial"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	BackoffMaxFailures int           `mapstructure:"backoff_max_failures"`

	// Cadence of the closed-market sweep and lifetime of cached
	// previous-close resolutions.
	ClosedRefreshEvery time.Duration `mapstructure:"closed_refresh_every"`
	ResolverCacheTTL   time.Duration `mapstructure:"resolver_cache_ttl"`
}

// ChannelConfig defines one broadcast domain. The channel set is read once at
// startup and never mutated.
type ChannelConfig struct {
	Name  string `mapstructure:"name"`
	Venue string `mapstructure:"venue"`
	Limit int    `mapstructure:"limit"`
}

// VenueConfig describes one trading venue's session calendar. Open and Close
// are venue-local times of day in "15:04" form; Holidays are venue-local
// dates in "2006-01-02" form. AlwaysOpen venues skip the calendar entirely.
type VenueConfig struct {
	Timezone   string   `mapstructure:"timezone"`
	Open       string   `mapstructure:"open"`
	Close      string   `mapstructure:"close"`
	Holidays   []string `mapstructure:"holidays"`
	AlwaysOpen bool     `mapstructure:"always_open"`

	// CloseGrace extends the previous-close search window past the close
	// instant to cover after-hours prints still tagged to the session.
	// ExtendedSearch widens the window's lower bound on the single retry
	// after an empty result.
	CloseGrace     time.Duration `mapstructure:"close_grace"`
	ExtendedSearch time.Duration `mapstructure:"extended_search"`
}

type ProcessorConfig struct {
	NumWorkers    int           `mapstructure:"num_workers"`
	BarInterval   time.Duration `mapstructure:"bar_interval"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type SimulatorConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// Full-day NYSE closures carried over from the upstream data pipeline.
// Deployments override these; the defaults keep local runs correct for the
// covered years.
var defaultUSHolidays = []string{
	"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29",
	"2024-05-27", "2024-06-19", "2024-07-04", "2024-09-02",
	"2024-11-28", "2024-12-25",
	"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18",
	"2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01",
	"2025-11-27", "2025-12-25",
}

// LoadConfig reads configuration from .env file, environment variables, an
// optional config.yaml, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	// This ensures variables like APP_PORT are available as real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	setDefaults(v)

	// 3. Optional config file for the structured sections (channels, venues)
	// that flat env vars cannot express.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 5. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.env")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "postgres.dsn")
	bindEnv(v, "processor.num_workers")

	// 6. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.env", "local")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.group_id", "price-processor-group")

	v.SetDefault("postgres.dsn",
		"host=localhost user=postgres password=postgres dbname=market port=5432 sslmode=disable TimeZone=UTC")

	v.SetDefault("stream.send_buffer", 256)
	v.SetDefault("stream.write_wait", 5*time.Second)
	v.SetDefault("stream.pong_wait", 60*time.Second)
	v.SetDefault("stream.ping_period", 50*time.Second)
	v.SetDefault("stream.max_sessions", 1000)
	v.SetDefault("stream.backoff_initial", 500*time.Millisecond)
	v.SetDefault("stream.backoff_max", 30*time.Second)
	v.SetDefault("stream.backoff_max_failures", 10)
	v.SetDefault("stream.closed_refresh_every", 5*time.Minute)
	v.SetDefault("stream.resolver_cache_ttl", time.Hour)

	v.SetDefault("channels", []map[string]interface{}{
		{"name": "crypto", "venue": "crypto", "limit": 100},
		{"name": "equities", "venue": "us_equities", "limit": 100},
		{"name": "etf", "venue": "us_equities", "limit": 50},
	})

	v.SetDefault("venues", map[string]interface{}{
		"us_equities": map[string]interface{}{
			"timezone":        "America/New_York",
			"open":            "09:30",
			"close":           "16:00",
			"holidays":        defaultUSHolidays,
			"close_grace":     14 * time.Hour,
			"extended_search": 12 * time.Hour,
		},
		"crypto": map[string]interface{}{
			"always_open": true,
		},
	})

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.bar_interval", time.Minute)
	v.SetDefault("processor.flush_interval", time.Minute)
	v.SetDefault("processor.cache_ttl", time.Hour)

	v.SetDefault("simulator.tick_interval", 100*time.Millisecond)
}

// Validate checks the structural invariants the services cannot start without.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel must be configured")
	}

	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel with empty name")
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = true

		if _, ok := c.Venues[ch.Venue]; !ok {
			return fmt.Errorf("channel %q: %w: %q", ch.Name, ErrVenueNotConfigured, ch.Venue)
		}
	}
	return nil
}

// Channel returns the configuration for a named channel.
func (c *Config) Channel(name string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
