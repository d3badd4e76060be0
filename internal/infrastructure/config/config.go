package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/motion-core/internal/motion"
)

// Device drivers.
const (
	DriverIntiface  = "intiface"
	DriverMQTT      = "mqtt"
	DriverSimulator = "simulator"
)

// Config is the root of config.yaml. Fields tagged env can also be set
// from the environment.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	LLM       LLMConfig       `yaml:"llm"`
	Intiface  IntifaceConfig  `yaml:"intiface"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig describes the actuator and how to reach it.
type DeviceConfig struct {
	// Driver selects the device link: intiface, mqtt or simulator.
	Driver string `yaml:"driver" env:"MOTIONCORE_DEVICE_DRIVER"`

	MinSpeed     float64 `yaml:"min_speed" env:"MOTIONCORE_DEVICE_MIN_SPEED"`
	MaxSpeed     float64 `yaml:"max_speed" env:"MOTIONCORE_DEVICE_MAX_SPEED"`
	StrokeLength float64 `yaml:"stroke_length" env:"MOTIONCORE_DEVICE_STROKE_LENGTH"`

	// InitialPosition is the assumed position in percent before the first command.
	InitialPosition float64 `yaml:"initial_position"`

	Expansion ExpansionConfig `yaml:"expansion"`
}

// ExpansionConfig controls slow-movement expansion.
type ExpansionConfig struct {
	Enabled  bool    `yaml:"enabled" env:"MOTIONCORE_EXPANSION_ENABLED"`
	StepSize float64 `yaml:"step_size" env:"MOTIONCORE_EXPANSION_STEP_SIZE"`
}

// Envelope converts the device section into motion limits.
func (d DeviceConfig) Envelope() motion.Envelope {
	return motion.Envelope{
		MinSpeed:         d.MinSpeed,
		MaxSpeed:         d.MaxSpeed,
		StrokeLength:     d.StrokeLength,
		ExpansionEnabled: d.Expansion.Enabled,
		StepSizePercent:  d.Expansion.StepSize,
	}
}

// AnalysisConfig controls text analysis.
type AnalysisConfig struct {
	Retry RetryConfig `yaml:"retry"`

	// PromptTemplate overrides the built-in prompt. It must contain {{input}}.
	PromptTemplate string `yaml:"prompt_template"`

	// HistoryLimit caps the number of analyses returned by a list request.
	HistoryLimit int `yaml:"history_limit"`
}

// RetryConfig controls analysis retries.
type RetryConfig struct {
	Enabled    bool `yaml:"enabled" env:"MOTIONCORE_RETRY_ENABLED"`
	MaxRetries int  `yaml:"max_retries" env:"MOTIONCORE_RETRY_MAX_RETRIES"`
	BackoffMs  int  `yaml:"backoff_ms" env:"MOTIONCORE_RETRY_BACKOFF_MS"`
}

// Backoff returns the retry wait as a Duration.
func (r RetryConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMs) * time.Millisecond
}

// LLMConfig selects the text generator.
type LLMConfig struct {
	Provider       string        `yaml:"provider" env:"MOTIONCORE_LLM_PROVIDER"`
	Model          string        `yaml:"model" env:"MOTIONCORE_LLM_MODEL"`
	APIKey         string        `yaml:"api_key" env:"MOTIONCORE_LLM_API_KEY"`
	BaseURL        string        `yaml:"base_url" env:"MOTIONCORE_LLM_BASE_URL"`
	Timeout        time.Duration `yaml:"timeout"`
	StaticResponse string        `yaml:"static_response"`
}

// IntifaceConfig contains Intiface server connection settings.
type IntifaceConfig struct {
	URL            string        `yaml:"url" env:"MOTIONCORE_INTIFACE_URL"`
	ClientName     string        `yaml:"client_name"`
	DeviceIndex    int           `yaml:"device_index"`
	ScanOnConnect  bool          `yaml:"scan_on_connect"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Engine         EngineConfig  `yaml:"engine"`
}

// EngineConfig contains settings for managing the intiface-engine process.
type EngineConfig struct {
	// Managed indicates whether Motion Core should run the engine itself.
	// If false, an Intiface server is expected to be running already.
	Managed bool `yaml:"managed"`

	// Binary is the path to the engine executable.
	// Default: "intiface-engine"
	Binary string `yaml:"binary"`

	// Args are passed to the engine verbatim.
	Args []string `yaml:"args"`

	// RestartOnFailure enables automatic restart if the engine exits.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the time to wait before restarting (in seconds).
	// Default: 5
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled" env:"MOTIONCORE_MQTT_ENABLED"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"MOTIONCORE_MQTT_HOST"`
	Port     int    `yaml:"port" env:"MOTIONCORE_MQTT_PORT"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MOTIONCORE_MQTT_USERNAME"`
	Password string `yaml:"password" env:"MOTIONCORE_MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"MOTIONCORE_INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"MOTIONCORE_INFLUXDB_URL"`
	Token         string `yaml:"token" env:"MOTIONCORE_INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"MOTIONCORE_DATABASE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host" env:"MOTIONCORE_API_HOST"`
	Port     int              `yaml:"port" env:"MOTIONCORE_API_PORT"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	// PanelDir serves the rod view from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir" env:"MOTIONCORE_API_PANEL_DIR"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings. An empty secret leaves the
// API open, which is only appropriate on a trusted local network.
type JWTConfig struct {
	Secret string `yaml:"secret" env:"MOTIONCORE_JWT_SECRET"`
	Issuer string `yaml:"issuer"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level" env:"MOTIONCORE_LOG_LEVEL"`
	Format string            `yaml:"format" env:"MOTIONCORE_LOG_FORMAT"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig enables a second, file-based log sink.
type FileLoggingConfig struct {
	Path string `yaml:"path" env:"MOTIONCORE_LOG_FILE"`
}

// Load builds the configuration in three layers: Default, then the YAML
// file at path (skipped when path is empty), then MOTIONCORE_* environment
// variables such as MOTIONCORE_DATABASE_PATH or MOTIONCORE_LLM_API_KEY.
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	envelope := motion.DefaultEnvelope()
	return &Config{
		Device: DeviceConfig{
			Driver:          DriverSimulator,
			MinSpeed:        envelope.MinSpeed,
			MaxSpeed:        envelope.MaxSpeed,
			StrokeLength:    envelope.StrokeLength,
			InitialPosition: 50,
			Expansion: ExpansionConfig{
				Enabled:  envelope.ExpansionEnabled,
				StepSize: envelope.StepSizePercent,
			},
		},
		Analysis: AnalysisConfig{
			Retry: RetryConfig{
				Enabled:    true,
				MaxRetries: 3,
				BackoffMs:  1000,
			},
			HistoryLimit: 50,
		},
		LLM: LLMConfig{
			Provider: "static",
			Timeout:  60 * time.Second,
		},
		Intiface: IntifaceConfig{
			URL:            "ws://127.0.0.1:12345",
			ClientName:     "motioncore",
			DeviceIndex:    -1,
			ScanOnConnect:  true,
			ReconnectDelay: 5 * time.Second,
			Engine: EngineConfig{
				Binary:              "intiface-engine",
				Args:                []string{"--websocket-port", "12345", "--use-bluetooth-le"},
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
		},
		MQTT: MQTTConfig{
			TopicPrefix: "motioncore",
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "motioncore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "motion",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/motioncore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate reports every invalid or unsafe setting in one error.
func (c *Config) Validate() error {
	var errs []string

	// Device
	switch c.Device.Driver {
	case DriverIntiface, DriverMQTT, DriverSimulator:
	default:
		errs = append(errs, fmt.Sprintf("device.driver %q must be intiface, mqtt or simulator", c.Device.Driver))
	}
	if err := c.Device.Envelope().Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errs = append(errs, "device: "+line)
		}
	}
	if c.Device.InitialPosition < 0 || c.Device.InitialPosition > 100 {
		errs = append(errs, "device.initial_position must be between 0 and 100")
	}
	if c.Device.Driver == DriverMQTT && !c.MQTT.Enabled {
		errs = append(errs, "device.driver mqtt requires mqtt.enabled")
	}

	// Analysis
	if c.Analysis.Retry.MaxRetries < 0 {
		errs = append(errs, "analysis.retry.max_retries must not be negative")
	}
	if c.Analysis.Retry.BackoffMs < 0 {
		errs = append(errs, "analysis.retry.backoff_ms must not be negative")
	}
	if c.Analysis.PromptTemplate != "" && !strings.Contains(c.Analysis.PromptTemplate, "{{input}}") {
		errs = append(errs, "analysis.prompt_template must contain {{input}}")
	}

	// LLM
	switch strings.ToLower(c.LLM.Provider) {
	case "", "static", "gemini", "openai":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q must be gemini, openai or static", c.LLM.Provider))
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, org and bucket are required when influxdb is enabled")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security - an empty secret disables auth, a short one is refused.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout returns Read as a duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return seconds(t.Read) }

// WriteTimeout returns Write as a duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }

// IdleTimeout returns Idle as a duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return seconds(t.Idle) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
