package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	TV              TVConfig          `yaml:"tv"`
	Hue             HueConfig         `yaml:"hue"`
	Stream          StreamConfig      `yaml:"stream"`
	Engine          EngineConfig      `yaml:"engine"`
	Lights          []LightConfig     `yaml:"lights"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// TVConfig contains the JointSpace connection settings for the ambilight TV.
type TVConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`        // 0 = derived from api_version (1925 / 1926)
	APIVersion int    `yaml:"api_version"` // 1, 5 or 6
	User       string `yaml:"user"`        // digest auth credentials, v6 only
	Password   string `yaml:"password"`

	ZoneCount     int      `yaml:"zone_count"`     // ambilight zones the panel reports (default: 17)
	SampleTimeout Duration `yaml:"sample_timeout"` // per-request bound (default: 200ms)
}

// HueConfig contains Hue bridge credentials and the entertainment area.
type HueConfig struct {
	Host           string   `yaml:"host"`
	Identification string   `yaml:"identification"` // bridge id
	Username       string   `yaml:"username"`       // hue-application-key
	AppID          string   `yaml:"app_id"`
	ClientKey      string   `yaml:"client_key"` // DTLS PSK, hex
	AreaID         string   `yaml:"area_id"`    // entertainment configuration rid
	AreaIndex      int      `yaml:"area_index"` // used when area_id is empty
	Timeout        Duration `yaml:"timeout"`    // HTTP timeout for bridge API requests
}

// StreamConfig contains entertainment streaming session settings.
type StreamConfig struct {
	MaxSendFailures  int      `yaml:"max_send_failures"` // consecutive transient send failures before auto-close (default: 3)
	SendTimeout      Duration `yaml:"send_timeout"`      // per-frame write bound (default: 1s)
	HandshakeTimeout Duration `yaml:"handshake_timeout"` // DTLS handshake bound (default: 5s)
}

// EngineConfig contains sync loop behavior. A zero refresh_rate_ms means
// "as fast as the TV can serve frames"; zero wait_for_startup_s and
// runtime_error_threshold mean "wait forever" (automation mode).
type EngineConfig struct {
	RefreshRateMs         int      `yaml:"refresh_rate_ms"`
	IdleRefreshRateMs     int      `yaml:"idle_refresh_rate_ms"`
	TransitionSmoothing   float64  `yaml:"transition_smoothing"`    // EMA alpha, 0.0-0.95
	BlackScreenTimeoutS   int      `yaml:"black_screen_timeout_s"`  // sustained black before Idle (default: 30)
	BlackScreenThreshold  int      `yaml:"black_screen_threshold"`  // per-channel black level (default: 15)
	WaitForStartupS       int      `yaml:"wait_for_startup_s"`      // startup wait bound, 0 = infinite
	PowerOnTimeS          int      `yaml:"power_on_time_s"`         // extra grace once the TV first answers
	RuntimeErrorThreshold int      `yaml:"runtime_error_threshold"` // consecutive sample errors before exit, 0 = never
	RetryBackoff          Duration `yaml:"retry_backoff"`           // backoff between failed samples (default: 3s)
}

// LightConfig maps one fixture to its entertainment channel and TV zones.
type LightConfig struct {
	Name    string `yaml:"name"`
	Channel int    `yaml:"id"` // channel id inside the entertainment area
	Zones   []int  `yaml:"zones"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, parses and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills in unset values. refresh_rate_ms, wait_for_startup_s
// and runtime_error_threshold keep their zero values: zero is meaningful
// there (unpaced / infinite).
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./ambilightd.sqlite"
	}

	// TV defaults
	if c.TV.APIVersion == 0 {
		c.TV.APIVersion = 6
	}
	if c.TV.ZoneCount == 0 {
		c.TV.ZoneCount = 17
	}
	if c.TV.SampleTimeout == 0 {
		c.TV.SampleTimeout = Duration(200 * time.Millisecond)
	}

	// Hue defaults
	if c.Hue.Timeout == 0 {
		c.Hue.Timeout = Duration(10 * time.Second)
	}

	// Stream defaults
	if c.Stream.MaxSendFailures == 0 {
		c.Stream.MaxSendFailures = 3
	}
	if c.Stream.SendTimeout == 0 {
		c.Stream.SendTimeout = Duration(1 * time.Second)
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = Duration(5 * time.Second)
	}

	// Engine defaults
	if c.Engine.IdleRefreshRateMs == 0 {
		c.Engine.IdleRefreshRateMs = 5000
	}
	if c.Engine.BlackScreenTimeoutS == 0 {
		c.Engine.BlackScreenTimeoutS = 30
	}
	if c.Engine.BlackScreenThreshold == 0 {
		c.Engine.BlackScreenThreshold = 15
	}
	if c.Engine.RetryBackoff == 0 {
		c.Engine.RetryBackoff = Duration(3 * time.Second)
	}

	// Healthcheck defaults
	if c.Healthcheck.Port == 0 {
		c.Healthcheck.Port = 9090
	}
	if c.Healthcheck.Host == "" {
		c.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the configuration for errors that must fail at startup,
// never mid-run: bad zone mappings, out-of-range smoothing, broken
// connection settings.
func (c *Config) Validate() error {
	switch c.TV.APIVersion {
	case 1, 5, 6:
	default:
		return fmt.Errorf("tv.api_version must be 1, 5 or 6, got %d", c.TV.APIVersion)
	}

	if c.Engine.TransitionSmoothing < 0 || c.Engine.TransitionSmoothing > 0.95 {
		return fmt.Errorf("engine.transition_smoothing must be within [0, 0.95], got %v",
			c.Engine.TransitionSmoothing)
	}
	if c.Engine.BlackScreenThreshold < 0 || c.Engine.BlackScreenThreshold > 255 {
		return fmt.Errorf("engine.black_screen_threshold must be within [0, 255], got %d",
			c.Engine.BlackScreenThreshold)
	}

	seen := make(map[int]string, len(c.Lights))
	for i, light := range c.Lights {
		if light.Name == "" {
			return fmt.Errorf("lights[%d]: name is required", i)
		}
		if light.Channel < 0 || light.Channel > 255 {
			return fmt.Errorf("light %q: id must be within [0, 255], got %d", light.Name, light.Channel)
		}
		if prev, dup := seen[light.Channel]; dup {
			return fmt.Errorf("light %q: id %d already used by %q", light.Name, light.Channel, prev)
		}
		seen[light.Channel] = light.Name

		if len(light.Zones) == 0 {
			return fmt.Errorf("light %q: zone list is empty", light.Name)
		}
		for _, z := range light.Zones {
			if z < 0 || z >= c.TV.ZoneCount {
				return fmt.Errorf("light %q: zone index %d out of range for %d-zone TV",
					light.Name, z, c.TV.ZoneCount)
			}
		}
	}

	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
