package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Import    ImportConfig    `mapstructure:"import"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Lock      LockConfig      `mapstructure:"lock"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ProvidersConfig struct {
	YouTube YouTubeConfig `mapstructure:"youtube"`
	Vimeo   VimeoConfig   `mapstructure:"vimeo"`
}

type YouTubeConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type VimeoConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AccessToken string `mapstructure:"access_token"`
}

type ImportConfig struct {
	// Workers is the number of submissions the dispatcher runs concurrently.
	Workers int `mapstructure:"workers"`
	// MaxQueued is the number of submissions allowed to wait for a worker.
	// Zero means no queue: excess submissions are rejected immediately.
	MaxQueued int `mapstructure:"max_queued"`
	// FanOut bounds concurrent per-id fetch/persist pipelines inside one submission.
	FanOut       int           `mapstructure:"fan_out"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// ExponentialBackoff doubles the delay after each failed attempt.
	ExponentialBackoff bool          `mapstructure:"exponential_backoff"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	RunTimeout         time.Duration `mapstructure:"run_timeout"`
}

type RateLimitConfig struct {
	Global  BucketConfig `mapstructure:"global"`
	PerUser BucketConfig `mapstructure:"per_user"`
}

type BucketConfig struct {
	Capacity     int64         `mapstructure:"capacity"`
	RefillTokens int64         `mapstructure:"refill_tokens"`
	RefillPeriod time.Duration `mapstructure:"refill_period"`
}

type LockConfig struct {
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type DedupConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("providers.youtube.api_key", "YOUTUBE_API_KEY")
	v.BindEnv("providers.vimeo.access_token", "VIMEO_ACCESS_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/vidmeta.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "vidmeta")
	v.SetDefault("database.name", "vidmeta")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("providers.youtube.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("providers.vimeo.base_url", "https://api.vimeo.com")

	v.SetDefault("import.workers", 2)
	v.SetDefault("import.max_queued", 8)
	v.SetDefault("import.fan_out", 4)
	v.SetDefault("import.max_retries", 3)
	v.SetDefault("import.retry_backoff", time.Second)
	v.SetDefault("import.exponential_backoff", false)
	v.SetDefault("import.fetch_timeout", 5*time.Second)
	v.SetDefault("import.run_timeout", 10*time.Minute)

	v.SetDefault("ratelimit.global.capacity", 100)
	v.SetDefault("ratelimit.global.refill_tokens", 20)
	v.SetDefault("ratelimit.global.refill_period", time.Minute)
	v.SetDefault("ratelimit.per_user.capacity", 5)
	v.SetDefault("ratelimit.per_user.refill_tokens", 5)
	v.SetDefault("ratelimit.per_user.refill_period", time.Minute)

	v.SetDefault("lock.prefix", "import:job:")
	v.SetDefault("lock.ttl", 30*time.Second)

	v.SetDefault("dedup.ttl", 10*time.Minute)
}
