package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "PIGUARD"

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ClickHouseConfig struct {
	Addr     string        `mapstructure:"addr"`
	Database string        `mapstructure:"database"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Config struct {
	HTTPAddr         string           `mapstructure:"http_addr"`
	MetricsAddr      string           `mapstructure:"metrics_addr"`
	LogLevel         string           `mapstructure:"log_level"`
	LogFormat        string           `mapstructure:"log_format"`
	GenesisFile      string           `mapstructure:"genesis_file"`
	SigningSecret    string           `mapstructure:"signing_secret"`
	GovernanceSecret string           `mapstructure:"governance_secret"`
	NotifierWorkers  int              `mapstructure:"notifier_workers"`
	MaxMetadata      int              `mapstructure:"max_metadata"`
	Storage          StorageConfig    `mapstructure:"storage"`
	Kafka            KafkaConfig      `mapstructure:"kafka"`
	ClickHouse       ClickHouseConfig `mapstructure:"clickhouse"`
}

var ErrInvalidConfig = errors.New("invalid config")

func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("genesis_file", "")
	v.SetDefault("signing_secret", "")
	v.SetDefault("governance_secret", "")
	v.SetDefault("notifier_workers", 3)
	v.SetDefault("max_metadata", 1024)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "piguard.compliance")
	v.SetDefault("clickhouse.addr", "")
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.timeout", 5*time.Second)
}

// BindEnv makes every key readable from PIGUARD_* variables, with dots mapped to underscores
// (storage.driver -> PIGUARD_STORAGE_DRIVER).
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads the given .env files into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads an optional config file and decodes the merged settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/piguard")
		v.SetConfigName("piguard")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	if (c.Storage.Driver == "sqlite" || c.Storage.Driver == "postgres") && c.Storage.DSN == "" {
		return fmt.Errorf("%w: storage.dsn is required for %s", ErrInvalidConfig, c.Storage.Driver)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid log level %q", ErrInvalidConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: invalid log format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.NotifierWorkers <= 0 {
		return fmt.Errorf("%w: notifier_workers must be positive", ErrInvalidConfig)
	}
	return nil
}
