package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for pgdesk.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	History   HistoryConfig   `yaml:"history"`
	Query     QueryConfig     `yaml:"query"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig contains settings for the embedded PostgreSQL server.
type EngineConfig struct {
	// Port is the TCP port the engine listens on (localhost only).
	Port int `yaml:"port"`

	// StorageDir is the engine's data directory.
	StorageDir string `yaml:"storage_dir"`

	// Persistent keeps StorageDir across runs. When false the directory is
	// scratch space and is removed when the engine stops.
	Persistent bool `yaml:"persistent"`

	// MigrationDir holds golang-migrate style *.up.sql / *.down.sql files
	// applied to Database at startup. Empty disables migrations.
	MigrationDir string `yaml:"migration_dir"`

	// Database is the fixed database every UI query runs against.
	Database string `yaml:"database"`

	// Username and Password are the fixed local credential.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// AuthMethod is passed to initdb: "md5", "scram-sha-256" or "trust".
	AuthMethod string `yaml:"auth_method"`

	// Version is the PostgreSQL binaries version to fetch (e.g. "15.5.0").
	Version string `yaml:"version"`

	// CacheDir is where downloaded engine binaries are unpacked.
	CacheDir string `yaml:"cache_dir"`

	// BinaryDir points at a pre-installed engine (containing bin/postgres).
	// When set, nothing is downloaded.
	BinaryDir string `yaml:"binary_dir,omitempty"`

	// RepositoryURL is the Maven repository hosting the binaries jars.
	RepositoryURL string `yaml:"repository_url"`

	// StartTimeoutSeconds bounds how long Start waits for the engine to accept connections.
	StartTimeoutSeconds int `yaml:"start_timeout_seconds"`
}

// HistoryConfig contains the SQLite statement history settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// QueryConfig contains query gateway settings.
type QueryConfig struct {
	// TimeoutSeconds bounds a single connect+execute round trip. 0 selects 30s.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// DefaultFormat is the wire format used when a caller does not pick one ("pipe" or "json").
	DefaultFormat string `yaml:"default_format"`
}

// TerminalConfig contains PTY session settings.
type TerminalConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Rows           int    `yaml:"rows"`
	Cols           int    `yaml:"cols"`
	Shell          string `yaml:"shell,omitempty"`
	Dir            string `yaml:"dir,omitempty"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	BufferSize     int    `yaml:"buffer_size"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// Requests carrying any other Origin are refused; an empty list admits
// same-origin requests only.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains the optional MQTT event relay settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains query telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ErrConfigNotFound is returned by Load when the file does not exist.
var ErrConfigNotFound = errors.New("config: file not found")

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PGDESK_SECTION_KEY
// For example: PGDESK_ENGINE_PORT, PGDESK_API_PORT
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults (plus
// environment overrides) when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return nil, err
	}

	cfg = Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Port:                5432,
			StorageDir:          "./data/pg",
			Persistent:          true,
			Database:            "test",
			Username:            "postgres",
			Password:            "password",
			AuthMethod:          "md5",
			Version:             "15.5.0",
			CacheDir:            "./data/cache",
			RepositoryURL:       "https://repo1.maven.org/maven2",
			StartTimeoutSeconds: 10,
		},
		History: HistoryConfig{
			Enabled:     true,
			Path:        "./data/history.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Query: QueryConfig{
			TimeoutSeconds: 30,
			DefaultFormat:  "pipe",
		},
		Terminal: TerminalConfig{
			Enabled:        true,
			Rows:           24,
			Cols:           80,
			PollIntervalMS: 1,
			BufferSize:     4096,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8765,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  120,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"tauri://localhost", "http://localhost:1420"},
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pgdesk",
			},
			QoS:         0,
			TopicPrefix: "pgdesk",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PGDESK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Engine
	if v := os.Getenv("PGDESK_ENGINE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Port = port
		}
	}
	if v := os.Getenv("PGDESK_ENGINE_STORAGE_DIR"); v != "" {
		cfg.Engine.StorageDir = v
	}
	if v := os.Getenv("PGDESK_ENGINE_PERSISTENT"); v != "" {
		if persistent, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.Persistent = persistent
		}
	}
	if v := os.Getenv("PGDESK_ENGINE_MIGRATION_DIR"); v != "" {
		cfg.Engine.MigrationDir = v
	}
	if v := os.Getenv("PGDESK_ENGINE_PASSWORD"); v != "" {
		cfg.Engine.Password = v
	}
	if v := os.Getenv("PGDESK_ENGINE_BINARY_DIR"); v != "" {
		cfg.Engine.BinaryDir = v
	}
	if v := os.Getenv("PGDESK_ENGINE_CACHE_DIR"); v != "" {
		cfg.Engine.CacheDir = v
	}

	// History
	if v := os.Getenv("PGDESK_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// Terminal
	if v := os.Getenv("PGDESK_TERMINAL_SHELL"); v != "" {
		cfg.Terminal.Shell = v
	}

	// API
	if v := os.Getenv("PGDESK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PGDESK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("PGDESK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PGDESK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PGDESK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("PGDESK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("PGDESK_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	// Engine validation
	if c.Engine.Port < 1 || c.Engine.Port > 65535 {
		errs = append(errs, "engine.port must be between 1 and 65535")
	}
	if c.Engine.StorageDir == "" {
		errs = append(errs, "engine.storage_dir is required")
	}
	if c.Engine.Database == "" {
		errs = append(errs, "engine.database is required")
	}
	if c.Engine.Username == "" {
		errs = append(errs, "engine.username is required")
	}
	switch c.Engine.AuthMethod {
	case "md5", "scram-sha-256", "trust":
	default:
		errs = append(errs, "engine.auth_method must be md5, scram-sha-256 or trust")
	}
	if c.Engine.AuthMethod != "trust" && c.Engine.Password == "" {
		errs = append(errs, "engine.password is required unless auth_method is trust")
	}
	if c.Engine.BinaryDir == "" && c.Engine.Version == "" {
		errs = append(errs, "engine.version is required when engine.binary_dir is not set")
	}
	if c.Engine.StartTimeoutSeconds < 0 {
		errs = append(errs, "engine.start_timeout_seconds must not be negative")
	}

	// History validation
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	// Query validation
	switch c.Query.DefaultFormat {
	case "", "pipe", "json":
	default:
		errs = append(errs, "query.default_format must be pipe or json")
	}

	// Terminal validation
	if c.Terminal.Enabled {
		if c.Terminal.Rows < 1 || c.Terminal.Rows > 65535 {
			errs = append(errs, "terminal.rows must be between 1 and 65535")
		}
		if c.Terminal.Cols < 1 || c.Terminal.Cols > 65535 {
			errs = append(errs, "terminal.cols must be between 1 and 65535")
		}
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetStartTimeout returns the engine start timeout as a Duration.
func (c *Config) GetStartTimeout() time.Duration {
	return time.Duration(c.Engine.StartTimeoutSeconds) * time.Second
}

// GetQueryTimeout returns the per-query timeout as a Duration (0 = default).
func (c *Config) GetQueryTimeout() time.Duration {
	return time.Duration(c.Query.TimeoutSeconds) * time.Second
}

// GetPollInterval returns the terminal output poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Terminal.PollIntervalMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
