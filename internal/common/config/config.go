package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database    DatabaseConfig
	Topology    TopologyConfig
	Engine      EngineConfig
	HTTP        HTTPConfig
	Metrics     MetricsConfig
	NATS        NATSConfig
	Tracing     TracingConfig
	Maintenance MaintenanceConfig
	Alerts      AlertsConfig
	Logging     LoggingConfig
}

// DatabaseConfig configures the optional Postgres recorder.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// TopologyConfig points at an alternative network file. Empty uses the
// embedded London Underground network.
type TopologyConfig struct {
	File string
}

type EngineConfig struct {
	HistoryWindow time.Duration // arrivals older than this relative to the newest are dropped
	MaxBatchSize  int
	Parallelism   int
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type MetricsConfig struct {
	Addr string // empty disables the /metrics listener
}

type NATSConfig struct {
	URL           string // empty disables publishing
	SubjectPrefix string
}

type TracingConfig struct {
	Endpoint    string // empty disables export
	ServiceName string
}

type MaintenanceConfig struct {
	Retention time.Duration
	Interval  time.Duration
}

type AlertsConfig struct {
	DiscordWebhookURL     string
	UnknownRatioThreshold float64
	MinSample             int
	Cooldown              time.Duration
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "tubetrace"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Topology: TopologyConfig{
			File: getEnv("TOPOLOGY_FILE", ""),
		},
		Engine: EngineConfig{
			HistoryWindow: getDurationEnv("ENGINE_HISTORY_WINDOW", 30*time.Minute),
			MaxBatchSize:  getIntEnv("ENGINE_MAX_BATCH_SIZE", 5000),
			Parallelism:   getIntEnv("ENGINE_PARALLELISM", 4),
		},
		HTTP: HTTPConfig{
			Addr:           getEnv("HTTP_ADDR", ":8080"),
			AllowedOrigins: getListEnv("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "tube.predictions"),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "tubetrace"),
		},
		Maintenance: MaintenanceConfig{
			Retention: getDurationEnv("RETENTION", 7*24*time.Hour),
			Interval:  getDurationEnv("RETENTION_INTERVAL", time.Hour),
		},
		Alerts: AlertsConfig{
			DiscordWebhookURL:     getEnv("DISCORD_WEBHOOK_URL", ""),
			UnknownRatioThreshold: getFloatEnv("ALERT_UNKNOWN_RATIO", 0.5),
			MinSample:             getIntEnv("ALERT_MIN_SAMPLE", 20),
			Cooldown:              getDurationEnv("ALERT_COOLDOWN", 15*time.Minute),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "tubetrace.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_MAX_BATCH_SIZE must be positive, got %d", c.Engine.MaxBatchSize))
	}
	if c.Engine.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("ENGINE_PARALLELISM must not be negative, got %d", c.Engine.Parallelism))
	}
	if c.Engine.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("ENGINE_HISTORY_WINDOW must not be negative"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if r := c.Alerts.UnknownRatioThreshold; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("ALERT_UNKNOWN_RATIO must be in (0, 1], got %v", r))
	}
	if c.NATS.URL != "" && strings.TrimSpace(c.NATS.SubjectPrefix) == "" {
		errs = append(errs, errors.New("NATS_SUBJECT_PREFIX is required when NATS_URL is set"))
	}
	if c.Database.Enabled {
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, err)
		}
		if c.Maintenance.Interval <= 0 {
			errs = append(errs, errors.New("RETENTION_INTERVAL must be positive"))
		}
		if c.Maintenance.Retention <= 0 {
			errs = append(errs, errors.New("RETENTION must be positive"))
		}
	}
	return errors.Join(errs...)
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" || c.Port == "" || c.User == "" || c.DBName == "" {
		return errors.New("DB_HOST, DB_PORT, DB_USER and DB_NAME are required when DB_ENABLED is set")
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
