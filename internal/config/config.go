package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	SnowflakeNode int64

	OTLPEndpoint string

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	// CacheBackend selects the balance cache implementation: redis or memory.
	CacheBackend string

	BalanceConfigPath string

	Scheduler SchedulerConfig
}

// TelemetryConfig holds logging and tracing settings. Standard OTEL_* variables
// take precedence over the service's own keys.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
	// DeploymentEnv overrides Environment in telemetry resource attributes.
	DeploymentEnv string
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialRetries int
}

type SchedulerConfig struct {
	Enabled      bool
	TickInterval time.Duration
	BatchSize    int
	JobTimeout   time.Duration
	// Jobs limits the scheduler to the named jobs; empty runs all of them.
	Jobs []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_NAME", "autumn"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OtelProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			DeploymentEnv: strings.TrimSpace(getenv("DEPLOYMENT_ENV", "")),
		},
		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "autumn"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DB_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DB_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DB_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DB_CONN_MAX_IDLE_TIME", 60)),
		Redis: RedisConfig{
			Addr:        getenv("REDIS_ADDR", "localhost:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          int(getenvInt64("REDIS_DB", 0)),
			DialRetries: int(getenvInt64("REDIS_DIAL_RETRIES", 3)),
		},
		CacheBackend:      strings.ToLower(getenv("CACHE_BACKEND", "redis")),
		BalanceConfigPath: strings.TrimSpace(getenv("BALANCE_CONFIG_PATH", "")),
		Scheduler: SchedulerConfig{
			Enabled:      getenvBool("SCHEDULER_ENABLED", true),
			TickInterval: getenvDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
			BatchSize:    int(getenvInt64("SCHEDULER_BATCH_SIZE", 100)),
			JobTimeout:   getenvDuration("SCHEDULER_JOB_TIMEOUT", 2*time.Minute),
			Jobs:         getenvList("SCHEDULER_JOBS"),
		},
	}

	return cfg
}

func (c Config) UsesRedis() bool {
	return c.CacheBackend != "memory"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
