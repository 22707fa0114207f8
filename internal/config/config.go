package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the API server and the worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Processor ProcessorConfig
	OpenAI    OpenAIConfig
}

type ServerConfig struct {
	Port         int           `mapstructure:"API_PORT"`
	ReadTimeout  time.Duration `mapstructure:"API_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"API_WRITE_TIMEOUT"`
	RateLimit    int           `mapstructure:"API_RATE_LIMIT"`
	GinMode      string        `mapstructure:"GIN_MODE"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: "sqlite" or "postgres".
	Driver     string `mapstructure:"DATABASE_DRIVER"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	URL        string `mapstructure:"DATABASE_URL"`
}

type RabbitMQConfig struct {
	// URL is optional; wake notifications are disabled when empty.
	URL string `mapstructure:"RABBITMQ_URL"`
}

type RedisConfig struct {
	// URL is optional; submission dedupe is disabled when empty.
	URL string `mapstructure:"REDIS_URL"`
}

type WorkerConfig struct {
	MaxWorkers      int           `mapstructure:"WORKER_MAX_WORKERS"`
	PollInterval    time.Duration `mapstructure:"WORKER_POLL_INTERVAL"`
	ErrorBackoff    time.Duration `mapstructure:"WORKER_ERROR_BACKOFF"`
	ShutdownTimeout time.Duration `mapstructure:"WORKER_SHUTDOWN_TIMEOUT"`
	// LaunchMode selects how job runs are isolated: "process" re-execs the
	// worker binary per job, "goroutine" runs jobs in-process.
	LaunchMode  string `mapstructure:"WORKER_LAUNCH_MODE"`
	MetricsPort int    `mapstructure:"WORKER_METRICS_PORT"`
}

type ProcessorConfig struct {
	Concurrency     int      `mapstructure:"PROCESSOR_CONCURRENCY"`
	MaxFileBytes    int64    `mapstructure:"PROCESSOR_MAX_FILE_BYTES"`
	MinContentChars int      `mapstructure:"PROCESSOR_MIN_CONTENT_CHARS"`
	Extensions      []string `mapstructure:"PROCESSOR_EXTENSIONS"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"OPENAI_API_KEY"`
	Model  string `mapstructure:"OPENAI_MODEL"`
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("API_PORT", 8080)
	viper.SetDefault("API_READ_TIMEOUT", "10s")
	viper.SetDefault("API_WRITE_TIMEOUT", "30s")
	viper.SetDefault("API_RATE_LIMIT", 100)
	viper.SetDefault("GIN_MODE", "debug")
	viper.SetDefault("DATABASE_DRIVER", "sqlite")
	viper.SetDefault("SQLITE_PATH", "repolish.db")
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("RABBITMQ_URL", "")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("WORKER_MAX_WORKERS", 2)
	viper.SetDefault("WORKER_POLL_INTERVAL", "5s")
	viper.SetDefault("WORKER_ERROR_BACKOFF", "10s")
	viper.SetDefault("WORKER_SHUTDOWN_TIMEOUT", "30s")
	viper.SetDefault("WORKER_LAUNCH_MODE", "process")
	viper.SetDefault("WORKER_METRICS_PORT", 9090)
	viper.SetDefault("PROCESSOR_CONCURRENCY", 5)
	viper.SetDefault("PROCESSOR_MAX_FILE_BYTES", 1<<20)
	viper.SetDefault("PROCESSOR_MIN_CONTENT_CHARS", 50)
	viper.SetDefault("PROCESSOR_EXTENSIONS", "")
	viper.SetDefault("OPENAI_API_KEY", "")
	viper.SetDefault("OPENAI_MODEL", "gpt-4o-mini")

	// Attempt to read .env file (non-fatal if missing)
	_ = viper.ReadInConfig()

	cfg := &Config{}
	cfg.Server.Port = viper.GetInt("API_PORT")
	cfg.Server.ReadTimeout = viper.GetDuration("API_READ_TIMEOUT")
	cfg.Server.WriteTimeout = viper.GetDuration("API_WRITE_TIMEOUT")
	cfg.Server.RateLimit = viper.GetInt("API_RATE_LIMIT")
	cfg.Server.GinMode = viper.GetString("GIN_MODE")
	cfg.Database.Driver = viper.GetString("DATABASE_DRIVER")
	cfg.Database.SQLitePath = viper.GetString("SQLITE_PATH")
	cfg.Database.URL = viper.GetString("DATABASE_URL")
	cfg.RabbitMQ.URL = viper.GetString("RABBITMQ_URL")
	cfg.Redis.URL = viper.GetString("REDIS_URL")
	cfg.Worker.MaxWorkers = viper.GetInt("WORKER_MAX_WORKERS")
	cfg.Worker.PollInterval = viper.GetDuration("WORKER_POLL_INTERVAL")
	cfg.Worker.ErrorBackoff = viper.GetDuration("WORKER_ERROR_BACKOFF")
	cfg.Worker.ShutdownTimeout = viper.GetDuration("WORKER_SHUTDOWN_TIMEOUT")
	cfg.Worker.LaunchMode = viper.GetString("WORKER_LAUNCH_MODE")
	cfg.Worker.MetricsPort = viper.GetInt("WORKER_METRICS_PORT")
	cfg.Processor.Concurrency = viper.GetInt("PROCESSOR_CONCURRENCY")
	cfg.Processor.MaxFileBytes = viper.GetInt64("PROCESSOR_MAX_FILE_BYTES")
	cfg.Processor.MinContentChars = viper.GetInt("PROCESSOR_MIN_CONTENT_CHARS")
	cfg.Processor.Extensions = splitExtensions(viper.GetString("PROCESSOR_EXTENSIONS"))
	cfg.OpenAI.APIKey = viper.GetString("OPENAI_API_KEY")
	cfg.OpenAI.Model = viper.GetString("OPENAI_MODEL")

	return cfg, nil
}

// splitExtensions parses a comma-separated extension list. An empty value
// means the scanner's built-in defaults apply.
func splitExtensions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var exts []string
	for _, ext := range strings.Split(raw, ",") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return exts
}
