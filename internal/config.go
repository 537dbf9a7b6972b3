package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env           string              `mapstructure:"env"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Resolver      ResolverConfig      `mapstructure:"resolver"`
	Visit         VisitConfig         `mapstructure:"visit"`
	Sweeper       SweeperConfig       `mapstructure:"sweeper"`
	Notification  NotificationConfig  `mapstructure:"notification"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source" validate:"required"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Address      string        `mapstructure:"address" validate:"required_without=URL"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"min=0"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SecurityConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret" validate:"required,min=32"`
	WebhookSecret string `mapstructure:"webhook_secret" validate:"required,min=16"`
}

type PaymentConfig struct {
	ProviderURL string        `mapstructure:"provider_url" validate:"required,url"`
	APIKey      string        `mapstructure:"api_key"`
	Currency    string        `mapstructure:"currency" validate:"required,len=3"`
	Country     string        `mapstructure:"country" validate:"required,len=2"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ResolverConfig struct {
	MaxDuration  time.Duration `mapstructure:"max_duration" validate:"required"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`
}

type VisitConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"required"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Fee         int64         `mapstructure:"fee" validate:"min=0"`
}

type SweeperConfig struct {
	Interval   time.Duration `mapstructure:"interval" validate:"required"`
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"required"`
	BatchSize  int           `mapstructure:"batch_size" validate:"min=0"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

type NotificationConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// ----------------- DEFAULTS -----------------

const (
	DefaultGracePeriod  = 120 * time.Second
	DefaultRetryDelay   = 5 * time.Second
	DefaultMaxDuration  = 3 * time.Minute
	DefaultPollInterval = 3 * time.Second
)

// ApplyDefaults fills zero values that have a sensible product default.
func (c *Config) ApplyDefaults() {
	if c.Visit.GracePeriod <= 0 {
		c.Visit.GracePeriod = DefaultGracePeriod
	}
	if c.Visit.RetryDelay <= 0 {
		c.Visit.RetryDelay = DefaultRetryDelay
	}
	if c.Resolver.MaxDuration <= 0 {
		c.Resolver.MaxDuration = DefaultMaxDuration
	}
	if c.Resolver.PollInterval <= 0 {
		c.Resolver.PollInterval = DefaultPollInterval
	}
	if c.Payment.Timeout <= 0 {
		c.Payment.Timeout = 30 * time.Second
	}
	if c.Sweeper.Interval <= 0 {
		c.Sweeper.Interval = time.Minute
	}
	if c.Sweeper.StaleAfter <= 0 {
		c.Sweeper.StaleAfter = 2 * c.Resolver.MaxDuration
	}
	if c.Sweeper.BatchSize <= 0 {
		c.Sweeper.BatchSize = 100
	}
	if c.Sweeper.LockTTL <= 0 {
		c.Sweeper.LockTTL = 5 * time.Minute
	}
	if c.Notification.Timeout <= 0 {
		c.Notification.Timeout = 5 * time.Second
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the configuration for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 4*time.Minute),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Security: SecurityConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		},
		Payment: PaymentConfig{
			ProviderURL: getEnv("PAYMENT_PROVIDER_URL", ""),
			APIKey:      getEnv("PAYMENT_API_KEY", ""),
			Currency:    getEnv("PAYMENT_CURRENCY", "XOF"),
			Country:     getEnv("PAYMENT_COUNTRY", "SN"),
			Timeout:     getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Second),
		},
		Resolver: ResolverConfig{
			MaxDuration:  getEnvAsDuration("RESOLVER_MAX_DURATION", DefaultMaxDuration),
			PollInterval: getEnvAsDuration("RESOLVER_POLL_INTERVAL", DefaultPollInterval),
		},
		Visit: VisitConfig{
			GracePeriod: getEnvAsDuration("VISIT_GRACE_PERIOD", DefaultGracePeriod),
			RetryDelay:  getEnvAsDuration("VISIT_RETRY_DELAY", DefaultRetryDelay),
			Fee:         int64(getEnvAsInt("VISIT_FEE", 0)),
		},
		Sweeper: SweeperConfig{
			Interval:   getEnvAsDuration("SWEEPER_INTERVAL", time.Minute),
			StaleAfter: getEnvAsDuration("SWEEPER_STALE_AFTER", 2*DefaultMaxDuration),
			BatchSize:  getEnvAsInt("SWEEPER_BATCH_SIZE", 100),
			LockTTL:    getEnvAsDuration("SWEEPER_LOCK_TTL", 5*time.Minute),
		},
		Notification: NotificationConfig{
			URL:     getEnv("NOTIFICATION_URL", ""),
			Timeout: getEnvAsDuration("NOTIFICATION_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("METRICS_ENABLED", "true") == "true",
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- VALIDATION -----------------

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Resolver.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("resolver config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

// Validate checks that a poll tick can happen at least once before the resolver gives up.
func (c *ResolverConfig) Validate() error {
	if c.PollInterval >= c.MaxDuration {
		return errors.New("poll_interval must be shorter than max_duration")
	}
	return nil
}
