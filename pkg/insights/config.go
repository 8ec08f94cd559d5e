package insights

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEndpoint      = "ws://localhost:8000/ws"
	DefaultKafkaTopic    = "insights"
	DefaultRefreshBuffer = 60 * time.Second

	envPrefix = "INSIGHTS_"
)

// KafkaConfig enables forwarding accepted insights to a Kafka topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Config holds everything a Session and the CLI need.
type Config struct {
	Endpoint           string            `yaml:"endpoint"`
	Headers            map[string]string `yaml:"headers,omitempty"`
	UseTokenAuth       bool              `yaml:"use_token_auth"`
	APIKey             string            `yaml:"api_key,omitempty"`
	UserID             string            `yaml:"user_id,omitempty"`
	TokenEndpoint      string            `yaml:"token_endpoint,omitempty"`
	TokenRefreshBuffer time.Duration     `yaml:"token_refresh_buffer"`
	ReconnectDelay     time.Duration     `yaml:"reconnect_delay"`
	HandshakeTimeout   time.Duration     `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration     `yaml:"write_timeout"`
	AudioDeviceID      *int              `yaml:"audio_device_id,omitempty"`
	LogLevel           string            `yaml:"log_level"`
	LogPretty          bool              `yaml:"log_pretty"`
	MetricsAddr        string            `yaml:"metrics_addr,omitempty"`
	Kafka              KafkaConfig       `yaml:"kafka"`
}

func DefaultConfig() *Config {
	return &Config{
		Endpoint:           DefaultEndpoint,
		Headers:            make(map[string]string),
		TokenRefreshBuffer: DefaultRefreshBuffer,
		ReconnectDelay:     DefaultReconnectDelay,
		HandshakeTimeout:   DefaultHandshakeTimeout,
		WriteTimeout:       DefaultWriteTimeout,
		LogLevel:           "info",
		LogPretty:          true,
		Kafka:              KafkaConfig{Topic: DefaultKafkaTopic},
	}
}

// LoadConfig builds a Config from defaults, then the YAML file at path (if
// path is non-empty), then .env and the process environment.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, WrapError(fmt.Errorf("failed to parse config file %s: %w", path, err), ErrCodeConfigInvalid)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		GetGlobalLogger().WithError(err).Warn("Failed to load .env")
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv overrides fields from INSIGHTS_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	var errs []error
	duration := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	str("ENDPOINT", &c.Endpoint)
	boolean("USE_TOKEN_AUTH", &c.UseTokenAuth)
	str("API_KEY", &c.APIKey)
	str("USER_ID", &c.UserID)
	str("TOKEN_ENDPOINT", &c.TokenEndpoint)
	duration("TOKEN_REFRESH_BUFFER", &c.TokenRefreshBuffer)
	duration("RECONNECT_DELAY", &c.ReconnectDelay)
	duration("HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	duration("WRITE_TIMEOUT", &c.WriteTimeout)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_PRETTY", &c.LogPretty)
	str("METRICS_ADDR", &c.MetricsAddr)
	boolean("KAFKA_ENABLED", &c.Kafka.Enabled)
	str("KAFKA_TOPIC", &c.Kafka.Topic)

	if v, ok := get("AUDIO_DEVICE_ID"); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sAUDIO_DEVICE_ID: %w", envPrefix, err))
		} else {
			c.AudioDeviceID = &id
		}
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}

	if len(errs) > 0 {
		return WrapError(errors.Join(errs...), ErrCodeConfigInvalid)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}

	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		issues = append(issues, fmt.Sprintf("Invalid WebSocket endpoint: %q", c.Endpoint))
	}
	if c.ReconnectDelay <= 0 {
		issues = append(issues, "reconnect_delay must be positive")
	}
	if c.HandshakeTimeout < 0 || c.WriteTimeout < 0 {
		issues = append(issues, "timeouts must not be negative")
	}

	if c.UseTokenAuth {
		switch {
		case c.TokenEndpoint == "" && c.APIKey == "":
			issues = append(issues, "use_token_auth requires api_key or token_endpoint")
		case c.TokenEndpoint == "":
			if err := ValidateAPIKeyFormat(c.APIKey); err != nil {
				issues = append(issues, fmt.Sprintf("API key must be at least %d characters", APIKeyMinLength))
			}
		}
		if c.TokenRefreshBuffer < 0 {
			issues = append(issues, "token_refresh_buffer must not be negative")
		}
	}

	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	found := false
	for _, level := range validLevels {
		if strings.EqualFold(level, c.LogLevel) {
			found = true
			break
		}
	}
	if !found {
		issues = append(issues, fmt.Sprintf("Invalid log level: %s", c.LogLevel))
	}

	if c.AudioDeviceID != nil && *c.AudioDeviceID < 0 {
		issues = append(issues, "audio_device_id must not be negative")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			issues = append(issues, "kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			issues = append(issues, "kafka.topic is required when kafka is enabled")
		}
	}

	return issues
}

// TokenSource returns the bearer token source the config asks for, or nil
// when token auth is off.
func (c *Config) TokenSource() TokenSource {
	if !c.UseTokenAuth {
		return nil
	}
	if c.TokenEndpoint != "" {
		return NewTokenManager(c.TokenEndpoint, c.Headers, c.TokenRefreshBuffer)
	}
	return NewAPIKeyTokenSource(c.APIKey, c.UserID)
}

// LogConfig derives the logger settings.
func (c *Config) LogConfig() *LogConfig {
	lc := DefaultLogConfig()
	lc.Level = c.LogLevel
	lc.Pretty = c.LogPretty
	return lc
}

// PrintConfig writes a human-readable summary with the API key masked.
func (c *Config) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "Insights Client Configuration")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Endpoint: %s\n", c.Endpoint)
	fmt.Fprintf(w, "Use Token Auth: %t\n", c.UseTokenAuth)
	switch {
	case c.APIKey == "":
		fmt.Fprintln(w, "API Key: NOT SET")
	case len(c.APIKey) > 10:
		fmt.Fprintf(w, "API Key: %s...\n", c.APIKey[:10])
	default:
		fmt.Fprintln(w, "API Key: ***")
	}
	if c.TokenEndpoint != "" {
		fmt.Fprintf(w, "Token Endpoint: %s\n", c.TokenEndpoint)
	}
	fmt.Fprintf(w, "Reconnect Delay: %s\n", c.ReconnectDelay)
	fmt.Fprintf(w, "Handshake Timeout: %s\n", c.HandshakeTimeout)
	fmt.Fprintf(w, "Write Timeout: %s\n", c.WriteTimeout)
	fmt.Fprintf(w, "Log Level: %s\n", c.LogLevel)
	if c.AudioDeviceID != nil {
		fmt.Fprintf(w, "Audio Device ID: %d\n", *c.AudioDeviceID)
	} else {
		fmt.Fprintln(w, "Audio Device: Default")
	}
	if c.MetricsAddr != "" {
		fmt.Fprintf(w, "Metrics: %s\n", c.MetricsAddr)
	}
	if c.Kafka.Enabled {
		fmt.Fprintf(w, "Kafka: %s -> %s\n", strings.Join(c.Kafka.Brokers, ","), c.Kafka.Topic)
	} else {
		fmt.Fprintln(w, "Kafka: disabled")
	}
}
