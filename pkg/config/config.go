// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, NATS, OpenSearch, PrisonAPI, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	PrisonAPI  PrisonAPIConfig  `yaml:"prisonApi"`
	Search     SearchConfig     `yaml:"search"`
	Index      IndexConfig      `yaml:"index"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the status row and
// the change hash table.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
	// HandlerAttempts is how many times a failing inbound message is retried
	// before it is written to the dead-letter topic.
	HandlerAttempts int `yaml:"handlerAttempts"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DomainEvents  string `yaml:"domainEvents"`
	Notifications string `yaml:"notifications"`
	DeadLetter    string `yaml:"deadLetter"`
	Telemetry     string `yaml:"telemetry"`
}

// RedisConfig holds Redis connection parameters for the search cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// NATSConfig holds the JetStream settings of the rebuild work queue.
type NATSConfig struct {
	URL              string        `yaml:"url"`
	Stream           string        `yaml:"stream"`
	Subject          string        `yaml:"subject"`
	DeadLetterStream string        `yaml:"deadLetterStream"`
	DeadLetterSubj   string        `yaml:"deadLetterSubject"`
	Consumer         string        `yaml:"consumer"`
	MaxDeliver       int           `yaml:"maxDeliver"`
	AckWait          time.Duration `yaml:"ackWait"`
}

// OpenSearchConfig holds document store connection settings.
type OpenSearchConfig struct {
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	IndexPrefix string   `yaml:"indexPrefix"`
	// Refresh is passed on index/delete requests ("", "true", "wait_for").
	Refresh string `yaml:"refresh"`
}

// PrisonAPIConfig holds the system-of-record client settings.
type PrisonAPIConfig struct {
	BaseURL          string        `yaml:"baseUrl"`
	Timeout          time.Duration `yaml:"timeout"`
	PageSize         int           `yaml:"pageSize"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// SearchConfig controls paging limits.
type SearchConfig struct {
	DefaultPageSize int `yaml:"defaultPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`
}

// IndexConfig controls rebuild and reconciliation behaviour.
type IndexConfig struct {
	ScrollPageSize     int `yaml:"scrollPageSize"`
	CompareReportLimit int `yaml:"compareReportLimit"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Search.MaxPageSize <= 0 {
		return fmt.Errorf("search.maxPageSize must be positive, got %d", c.Search.MaxPageSize)
	}
	if c.Search.DefaultPageSize <= 0 || c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.defaultPageSize must be in (0, %d], got %d", c.Search.MaxPageSize, c.Search.DefaultPageSize)
	}
	if c.NATS.MaxDeliver <= 0 {
		return fmt.Errorf("nats.maxDeliver must be positive, got %d", c.NATS.MaxDeliver)
	}
	if len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("opensearch.addresses must not be empty")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "prisoner_search",
			User:            "prisoner_search",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "prisoner-offender-search",
			Topics: KafkaTopics{
				DomainEvents:  "offender-events",
				Notifications: "hmpps-domain-events",
				DeadLetter:    "offender-events-dlq",
				Telemetry:     "prisoner-search-telemetry",
			},
			HandlerAttempts: 3,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		NATS: NATSConfig{
			URL:              "nats://localhost:4222",
			Stream:           "PRISONER_REBUILD",
			Subject:          "rebuild.prisoner",
			DeadLetterStream: "PRISONER_REBUILD_DLQ",
			DeadLetterSubj:   "rebuild.dlq",
			Consumer:         "rebuild-worker",
			MaxDeliver:       5,
			AckWait:          30 * time.Second,
		},
		OpenSearch: OpenSearchConfig{
			Addresses:   []string{"http://localhost:9200"},
			IndexPrefix: "prisoner-search",
		},
		PrisonAPI: PrisonAPIConfig{
			BaseURL:          "http://localhost:8093",
			Timeout:          10 * time.Second,
			PageSize:         1000,
			RetryAttempts:    3,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Search: SearchConfig{
			DefaultPageSize: 10,
			MaxPageSize:     3000,
		},
		Index: IndexConfig{
			ScrollPageSize:     2000,
			CompareReportLimit: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads POS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.Split(v, ",")
		}
	}

	setInt("POS_SERVER_PORT", &cfg.Server.Port)
	setString("POS_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("POS_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("POS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("POS_POSTGRES_USER", &cfg.Postgres.User)
	setString("POS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("POS_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	setList("POS_KAFKA_BROKERS", &cfg.Kafka.Brokers)
	setString("POS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("POS_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("POS_NATS_URL", &cfg.NATS.URL)
	setList("POS_OPENSEARCH_ADDRESSES", &cfg.OpenSearch.Addresses)
	setString("POS_OPENSEARCH_USERNAME", &cfg.OpenSearch.Username)
	setString("POS_OPENSEARCH_PASSWORD", &cfg.OpenSearch.Password)
	setString("POS_PRISON_API_BASE_URL", &cfg.PrisonAPI.BaseURL)
	setInt("POS_SEARCH_MAX_PAGE_SIZE", &cfg.Search.MaxPageSize)
	setString("POS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("POS_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("POS_METRICS_PORT", &cfg.Metrics.Port)
}
