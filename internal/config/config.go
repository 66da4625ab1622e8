package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	RateLimitMin       time.Duration
	RateLimitMax       time.Duration
	NavigationTimeout  time.Duration
	ExtractionTimeout  time.Duration
	SettleDelay        time.Duration
	RunDeadline        time.Duration
	Concurrency        int
	StaleBatchSize     int
	ZeroPriceIsFailure bool
}

type BrowserConfig struct {
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	Languages      []string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	MaxConns   int32
	SQLitePath string
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	PollInterval time.Duration
	BatchSize    int

	// Retention keeps published events this long; negative keeps them forever.
	Retention time.Duration
}

type ScheduleConfig struct {
	Cron string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			RateLimitMin:       getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:       getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 4*time.Second),
			NavigationTimeout:  getDurationOrDefault("SCRAPER_NAVIGATION_TIMEOUT", 20*time.Second),
			ExtractionTimeout:  getDurationOrDefault("SCRAPER_EXTRACTION_TIMEOUT", 15*time.Second),
			SettleDelay:        getDurationOrDefault("SCRAPER_SETTLE_DELAY", 2400*time.Millisecond),
			RunDeadline:        getDurationOrDefault("SCRAPER_RUN_DEADLINE", 0),
			Concurrency:        getIntOrDefault("SCRAPER_CONCURRENCY", 1),
			StaleBatchSize:     getIntOrDefault("SCRAPER_STALE_BATCH_SIZE", 50),
			ZeroPriceIsFailure: getBoolOrDefault("SCRAPER_ZERO_PRICE_IS_FAILURE", false),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7"),
			Languages:      getStringSliceOrDefault("BROWSER_LANGUAGES", []string{"tr-TR", "tr", "en-US", "en"}),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Istanbul"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "tr-TR"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Driver:     getEnvOrDefault("DB_DRIVER", "postgres"),
			Host:       getEnvOrDefault("DB_HOST", "localhost"),
			Port:       getIntOrDefault("DB_PORT", 5432),
			User:       getEnvOrDefault("DB_USER", "postgres"),
			Password:   getEnvOrDefault("DB_PASSWORD", ""),
			DBName:     getEnvOrDefault("DB_NAME", "trendyol_metrics"),
			SSLMode:    getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:   int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			SQLitePath: getEnvOrDefault("DB_SQLITE_PATH", "scraper.db"),
		},
		Redis: RedisConfig{
			Enabled:      getBoolOrDefault("REDIS_ENABLED", false),
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			PollInterval: getDurationOrDefault("REDIS_RELAY_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("REDIS_RELAY_BATCH_SIZE", 100),
			Retention:    getDurationOrDefault("REDIS_RELAY_RETENTION", 7*24*time.Hour),
		},
		Schedule: ScheduleConfig{
			Cron: getEnvOrDefault("SCRAPE_CRON", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.Concurrency < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENCY must be at least 1")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.NavigationTimeout <= 0 {
		return fmt.Errorf("SCRAPER_NAVIGATION_TIMEOUT must be positive")
	}

	if c.Scraper.ExtractionTimeout <= 0 {
		return fmt.Errorf("SCRAPER_EXTRACTION_TIMEOUT must be positive")
	}

	if c.Scraper.StaleBatchSize < 1 {
		return fmt.Errorf("SCRAPER_STALE_BATCH_SIZE must be at least 1")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for postgres")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("DB_SQLITE_PATH is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	return nil
}

// DSN returns the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
