package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the workbench service configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Notify      NotifyConfig     `mapstructure:"notify"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Jobs        JobsConfig       `mapstructure:"jobs"`
	ML          MLConfig         `mapstructure:"ml"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds metadata store configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// StorageConfig holds blob store configuration
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// NotifyConfig holds notification bus configuration
type NotifyConfig struct {
	Type  string      `mapstructure:"type"` // redis, kafka, none
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig holds token validation configuration
type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	Issuer           string        `mapstructure:"issuer"`
	RealtimeSecret   string        `mapstructure:"realtime_secret"`
	RealtimeTokenTTL time.Duration `mapstructure:"realtime_token_ttl"`
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	AsyncExecution       bool          `mapstructure:"async_execution"`
	MaxConcurrent        int64         `mapstructure:"max_concurrent"`
	PublishTimeout       time.Duration `mapstructure:"publish_timeout"`
	FailOrphansOnStartup bool          `mapstructure:"fail_orphans_on_startup"`
}

// MLConfig holds modelling configuration
type MLConfig struct {
	HyperoptEvals           int           `mapstructure:"hyperopt_evals"`
	CVFolds                 int           `mapstructure:"cv_folds"`
	RandomState             int64         `mapstructure:"random_state"`
	CategoricalThreshold    int           `mapstructure:"categorical_threshold"`
	DowngradeLowCardinality bool          `mapstructure:"downgrade_low_cardinality"`
	CardinalityLimit        int           `mapstructure:"cardinality_limit"`
	FilenameRetries         int           `mapstructure:"filename_retries"`
	ModelCacheTTL           time.Duration `mapstructure:"model_cache_ttl"`
}

// MonitoringConfig holds metrics configuration
type MonitoringConfig struct {
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	MetricsPath         string        `mapstructure:"metrics_path"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads configuration from an optional YAML file and the environment.
// Environment variables use the MLWB prefix, e.g. MLWB_STORAGE_ROOT.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ml-workbench")
	}

	// Enable reading environment variables
	v.SetEnvPrefix("MLWB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read configuration file if it exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that have no usable default
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root not configured")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	switch c.Notify.Type {
	case "redis", "kafka", "none":
	default:
		return fmt.Errorf("unsupported notification bus type: %q", c.Notify.Type)
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be positive")
	}
	if c.ML.HyperoptEvals < 1 {
		return fmt.Errorf("ml.hyperopt_evals must be positive")
	}
	if c.ML.CVFolds < 2 {
		return fmt.Errorf("ml.cv_folds must be at least 2")
	}
	return nil
}

// PostgresDSN builds a connection string from discrete settings when no DSN is given
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.max_upload_bytes", 256<<20)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "ml_workbench")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.log_queries", false)

	// Storage defaults
	v.SetDefault("storage.root", "./data")

	// Notification bus defaults
	v.SetDefault("notify.type", "redis")
	v.SetDefault("notify.redis.addr", "localhost:6379")
	v.SetDefault("notify.redis.password", "")
	v.SetDefault("notify.redis.database", 0)
	v.SetDefault("notify.redis.pool_size", 10)
	v.SetDefault("notify.redis.min_idle_conns", 2)
	v.SetDefault("notify.redis.max_retries", 3)
	v.SetDefault("notify.redis.dial_timeout", "5s")
	v.SetDefault("notify.redis.read_timeout", "5s")
	v.SetDefault("notify.redis.write_timeout", "5s")
	v.SetDefault("notify.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("notify.kafka.topic", "workbench.job.events")
	v.SetDefault("notify.kafka.batch_timeout", "50ms")
	v.SetDefault("notify.kafka.write_timeout", "10s")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "ml-workbench")
	v.SetDefault("auth.realtime_secret", "")
	v.SetDefault("auth.realtime_token_ttl", "15m")

	// Job defaults
	v.SetDefault("jobs.async_execution", true)
	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.publish_timeout", "5s")
	v.SetDefault("jobs.fail_orphans_on_startup", true)

	// ML defaults
	v.SetDefault("ml.hyperopt_evals", 50)
	v.SetDefault("ml.cv_folds", 5)
	v.SetDefault("ml.random_state", 42)
	v.SetDefault("ml.categorical_threshold", 10)
	v.SetDefault("ml.downgrade_low_cardinality", false)
	v.SetDefault("ml.cardinality_limit", 1000)
	v.SetDefault("ml.filename_retries", 20)
	v.SetDefault("ml.model_cache_ttl", "10m")

	// Monitoring defaults
	v.SetDefault("monitoring.metrics_enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.health_check_interval", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
}
