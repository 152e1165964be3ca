// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres, pgx
	ConnectionString string        `mapstructure:"connection_string"`
	Table            string        `mapstructure:"table"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	EnsureSchema     bool          `mapstructure:"ensure_schema"`
}

// SinkConfig contains batching configuration
type SinkConfig struct {
	FlushThreshold int           `mapstructure:"flush_threshold"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"` // 0 disables the background flusher
	FlushTimeout   time.Duration `mapstructure:"flush_timeout"`  // 0 means no deadline
	CaptureStack   bool          `mapstructure:"capture_stack"`
	StackSkip      int           `mapstructure:"stack_skip"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level            string `mapstructure:"level"`
	Format           string `mapstructure:"format"` // json, text
	Output           string `mapstructure:"output"` // stdout, file
	File             string `mapstructure:"file"`
	DiagnosticsLevel string `mapstructure:"diagnostics_level"`
	ForwardToSink    bool   `mapstructure:"forward_to_sink"`
}

// IngestConfig contains the optional upstream feeders
type IngestConfig struct {
	Tail TailConfig `mapstructure:"tail"`
	AMQP AMQPConfig `mapstructure:"amqp"`
}

// TailConfig configures the file tailer
type TailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	Category string `mapstructure:"category"`
	Poll     bool   `mapstructure:"poll"`
	FromEnd  bool   `mapstructure:"from_end"`
}

// AMQPConfig configures the AMQP consumer
type AMQPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Consumer string `mapstructure:"consumer"`
	Prefetch int    `mapstructure:"prefetch"`
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("DBTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		config.Ingest.AMQP.URL = amqpURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "dbtrace")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/applog.db")
	v.SetDefault("storage.table", "AppLog")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.ensure_schema", true)

	// Sink defaults
	v.SetDefault("sink.flush_threshold", 100)
	v.SetDefault("sink.flush_interval", "0s")
	v.SetDefault("sink.flush_timeout", "30s")
	v.SetDefault("sink.capture_stack", true)
	v.SetDefault("sink.stack_skip", 0)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.diagnostics_level", "warning")
	v.SetDefault("logging.forward_to_sink", false)

	// Ingest defaults
	v.SetDefault("ingest.tail.enabled", false)
	v.SetDefault("ingest.tail.category", "tail")
	v.SetDefault("ingest.tail.poll", false)
	v.SetDefault("ingest.tail.from_end", true)
	v.SetDefault("ingest.amqp.enabled", false)
	v.SetDefault("ingest.amqp.queue", "dbtrace.events")
	v.SetDefault("ingest.amqp.consumer", "dbtrace")
	v.SetDefault("ingest.amqp.prefetch", 50)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if !tableNamePattern.MatchString(c.Storage.Table) {
		return fmt.Errorf("storage table %q is not a valid identifier", c.Storage.Table)
	}
	if c.Storage.MaxConnections <= 0 {
		return fmt.Errorf("storage max connections must be positive")
	}
	if c.Sink.FlushThreshold <= 0 {
		return fmt.Errorf("sink flush threshold must be positive")
	}
	if c.Sink.FlushInterval < 0 || c.Sink.FlushTimeout < 0 {
		return fmt.Errorf("sink durations must not be negative")
	}
	if c.Ingest.Tail.Enabled && c.Ingest.Tail.Path == "" {
		return fmt.Errorf("ingest tail path is required when tail is enabled")
	}
	if c.Ingest.AMQP.Enabled && (c.Ingest.AMQP.URL == "" || c.Ingest.AMQP.Queue == "") {
		return fmt.Errorf("ingest amqp url and queue are required when amqp is enabled")
	}
	return nil
}

// ValidTableName reports whether name can be spliced into SQL as a table name
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}
