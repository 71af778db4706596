package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Boneco bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge      BridgeConfig      `yaml:"bridge"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Pairing     PairingConfig     `yaml:"pairing"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`

	// Models maps a device model name (as reported by the device) to a
	// device class. Entries here override the built-in model table.
	Models map[string]string `yaml:"models"`
}

// BridgeConfig identifies this bridge instance on the MQTT bus.
type BridgeConfig struct {
	ID                  string `yaml:"id"`
	Name                string `yaml:"name"`
	HealthCheckInterval int    `yaml:"health_check_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays bounds the snapshot history table. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables API authentication.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	Issuer         string `yaml:"issuer"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// GatewayConfig describes how the bridge reaches the BLE gateway that owns
// the radio and the vendor GATT codec.
type GatewayConfig struct {
	// TopicPrefix is the MQTT topic root shared with the gateway.
	TopicPrefix string `yaml:"topic_prefix"`

	// RequestTimeout bounds a single gateway RPC in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// AdvertisementTTL is how long a discovered advertisement stays listed (seconds).
	AdvertisementTTL int `yaml:"advertisement_ttl"`

	// Process configures optional supervision of the gateway binary.
	Process GatewayProcessConfig `yaml:"process"`
}

// GatewayProcessConfig contains settings for running the BLE gateway as a
// managed child process.
type GatewayProcessConfig struct {
	// Managed indicates whether the bridge should start and supervise the gateway.
	// If false, the gateway is expected to run externally.
	Managed bool `yaml:"managed"`

	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`

	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelaySeconds int  `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// PairingConfig contains pairing flow timeouts in seconds.
type PairingConfig struct {
	WaitForPairingTimeout        int `yaml:"wait_for_pairing_timeout"`
	WaitForConfirmPairingTimeout int `yaml:"wait_for_confirm_pairing_timeout"`
}

// CoordinatorConfig contains per-device polling settings.
type CoordinatorConfig struct {
	UpdateInterval int `yaml:"update_interval"` // seconds
	UpdateTimeout  int `yaml:"update_timeout"`  // seconds
	WriteCooldown  int `yaml:"write_cooldown"`  // milliseconds
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BONECO_SECTION_KEY
// For example: BONECO_DATABASE_PATH, BONECO_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
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

// defaultConfig returns a Config with sensible defaults.
// Pairing and polling defaults match the device firmware's behaviour:
// a 30 second pairing window, 60 second polls bounded by 30 seconds.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:                  "boneco-bridge-01",
			Name:                "Boneco Bridge",
			HealthCheckInterval: 30,
		},
		Database: DatabaseConfig{
			Path:                 "./data/boneco.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "boneco-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:         "boneco-bridge",
				AccessTokenTTL: 60,
			},
		},
		Gateway: GatewayConfig{
			TopicPrefix:      "boneco",
			RequestTimeout:   10,
			AdvertisementTTL: 300,
			Process: GatewayProcessConfig{
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
		},
		Pairing: PairingConfig{
			WaitForPairingTimeout:        30,
			WaitForConfirmPairingTimeout: 30,
		},
		Coordinator: CoordinatorConfig{
			UpdateInterval: 60,
			UpdateTimeout:  30,
			WriteCooldown:  300,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BONECO_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	if v := os.Getenv("BONECO_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BONECO_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BONECO_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BONECO_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BONECO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BONECO_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("BONECO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("BONECO_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	if v := os.Getenv("BONECO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Authentication is optional, but a configured secret must be strong
	// enough that tokens cannot be brute forced.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Gateway.TopicPrefix == "" || strings.ContainsAny(c.Gateway.TopicPrefix, "+#") {
		errs = append(errs, "gateway.topic_prefix must be a non-empty topic without wildcards")
	}
	if c.Gateway.RequestTimeout <= 0 {
		errs = append(errs, "gateway.request_timeout must be positive")
	}
	if c.Gateway.Process.Managed && c.Gateway.Process.Binary == "" {
		errs = append(errs, "gateway.process.binary is required when the gateway is managed")
	}

	if c.Pairing.WaitForPairingTimeout <= 0 {
		errs = append(errs, "pairing.wait_for_pairing_timeout must be positive")
	}
	if c.Pairing.WaitForConfirmPairingTimeout <= 0 {
		errs = append(errs, "pairing.wait_for_confirm_pairing_timeout must be positive")
	}

	if c.Coordinator.UpdateInterval <= 0 {
		errs = append(errs, "coordinator.update_interval must be positive")
	}
	if c.Coordinator.UpdateTimeout <= 0 {
		errs = append(errs, "coordinator.update_timeout must be positive")
	} else if c.Coordinator.UpdateTimeout > c.Coordinator.UpdateInterval {
		errs = append(errs, "coordinator.update_timeout must not exceed coordinator.update_interval")
	}
	if c.Coordinator.WriteCooldown < 0 {
		errs = append(errs, "coordinator.write_cooldown must not be negative")
	}

	for model, class := range c.Models {
		if !isKnownDeviceClass(class) {
			errs = append(errs, fmt.Sprintf("models.%s: unknown device class %q", model, class))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// isKnownDeviceClass mirrors the device class names accepted by the boneco
// package. It is duplicated here to keep config free of domain imports.
func isKnownDeviceClass(class string) bool {
	switch strings.ToUpper(class) {
	case "FAN", "HUMIDIFIER", "SIMPLE_CLIMATE", "TOP_CLIMATE":
		return true
	}
	return false
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

// PairingTimeouts returns the wait-for-pairing and wait-for-confirm bounds.
func (c *Config) PairingTimeouts() (pairing, confirm time.Duration) {
	return time.Duration(c.Pairing.WaitForPairingTimeout) * time.Second,
		time.Duration(c.Pairing.WaitForConfirmPairingTimeout) * time.Second
}

// PollInterval returns the coordinator poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Coordinator.UpdateInterval) * time.Second
}

// PollTimeout returns the bound on a single poll.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Coordinator.UpdateTimeout) * time.Second
}

// WriteCooldown returns the debounce window for coalesced writes.
func (c *Config) WriteCooldown() time.Duration {
	return time.Duration(c.Coordinator.WriteCooldown) * time.Millisecond
}

// GatewayRequestTimeout returns the bound on a single gateway RPC.
func (c *Config) GatewayRequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeout) * time.Second
}
