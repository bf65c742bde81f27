package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Network     NetworkConfig     `yaml:"network"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Update      UpdateConfig      `yaml:"update"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
	Loop        LoopConfig        `yaml:"loop"`
	Mock        MockConfig        `yaml:"mock"`
}

// SerialConfig contains the sensor UART configuration.
type SerialConfig struct {
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baud_rate"`
	PollInterval time.Duration `yaml:"poll_interval"` // Delay between write/read polls
	MaxPolls     int           `yaml:"max_polls"`     // Receive polls before giving up on a full reply
	MaxSends     int           `yaml:"max_sends"`     // Command writes before giving up on any reply
}

// NetworkConfig contains the host network link configuration.
type NetworkConfig struct {
	Interface string `yaml:"interface"` // Empty selects the first non-loopback interface that is up
	Hostname  string `yaml:"hostname"`
}

// MQTTConfig contains broker connection and topic configuration.
type MQTTConfig struct {
	Broker            string        `yaml:"broker"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	StatusPrefix      string        `yaml:"status_prefix"`
	TelemetryPrefix   string        `yaml:"telemetry_prefix"`
	CommandPrefix     string        `yaml:"command_prefix"`
	WillQoS           byte          `yaml:"will_qos"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
}

// MeasurementConfig contains measurement and smoothing parameters.
type MeasurementConfig struct {
	Interval  time.Duration `yaml:"interval"`
	FastAlpha float64       `yaml:"fast_alpha"`
	SlowAlpha float64       `yaml:"slow_alpha"`
	Extended  bool          `yaml:"extended"` // Publish temperature and range
	Range     int           `yaml:"range"`    // Detection range applied at start; 0 keeps the sensor's
}

// UpdateConfig contains the firmware update listener configuration.
type UpdateConfig struct {
	Addr   string `yaml:"addr"`   // Empty disables the listener
	Token  string `yaml:"token"`  // Shared secret expected in X-Update-Token
	Target string `yaml:"target"` // Binary to replace; empty means the running executable
}

// MetricsConfig contains the Prometheus exporter configuration.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the exporter
}

// LogConfig contains logger configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// LoopConfig contains control loop timing.
type LoopConfig struct {
	Tick time.Duration `yaml:"tick"`
}

// MockConfig contains simulated sensor configuration.
type MockConfig struct {
	BasePPM        int     `yaml:"base_ppm"`         // Mean CO2 concentration
	NoisePPM       int     `yaml:"noise_ppm"`        // Peak noise amplitude
	Temperature    int     `yaml:"temperature"`      // Reported temperature (°C)
	ShortReplyRate float64 `yaml:"short_reply_rate"` // Probability of a truncated reply
	CorruptRate    float64 `yaml:"corrupt_rate"`     // Probability of a bad checksum
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:         "/dev/ttyS0",
			BaudRate:     9600,
			PollInterval: 50 * time.Millisecond,
			MaxPolls:     10,
			MaxSends:     20,
		},
		Network: NetworkConfig{
			Hostname: "mhz-19b",
		},
		MQTT: MQTTConfig{
			Broker:            "tcp://localhost:1883",
			StatusPrefix:      "esp/status/",
			TelemetryPrefix:   "esp/sensors/co2/",
			CommandPrefix:     "esp/cmd/co2/",
			WillQoS:           2,
			ReconnectInterval: 5 * time.Second,
			ConnectTimeout:    3 * time.Second,
		},
		Measurement: MeasurementConfig{
			Interval:  15 * time.Second,
			FastAlpha: 0.5,
			SlowAlpha: 0.15,
		},
		Update: UpdateConfig{
			Addr: ":8266",
		},
		Metrics: MetricsConfig{
			Addr: ":9119",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Loop: LoopConfig{
			Tick: 100 * time.Millisecond,
		},
		Mock: MockConfig{
			BasePPM:     600,
			NoisePPM:    25,
			Temperature: 24,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports configuration values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is empty"))
	}
	if c.Measurement.Interval <= 0 {
		errs = append(errs, errors.New("measurement.interval must be positive"))
	}
	if c.Measurement.FastAlpha <= 0 || c.Measurement.FastAlpha > 1 {
		errs = append(errs, fmt.Errorf("measurement.fast_alpha %v outside (0,1]", c.Measurement.FastAlpha))
	}
	if c.Measurement.SlowAlpha <= 0 || c.Measurement.SlowAlpha > 1 {
		errs = append(errs, fmt.Errorf("measurement.slow_alpha %v outside (0,1]", c.Measurement.SlowAlpha))
	}
	if c.Measurement.Range < 0 || c.Measurement.Range > 0xFFFF {
		errs = append(errs, fmt.Errorf("measurement.range %d outside [0,65535]", c.Measurement.Range))
	}
	if c.MQTT.WillQoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.will_qos %d is not a valid QoS", c.MQTT.WillQoS))
	}
	return errors.Join(errs...)
}

// StatusTopic returns the retained online/offline topic.
func (c *Config) StatusTopic() string {
	return c.MQTT.StatusPrefix + c.Network.Hostname
}

// TelemetryTopic returns the topic measurements are published to.
func (c *Config) TelemetryTopic() string {
	return c.MQTT.TelemetryPrefix + c.Network.Hostname
}

// CommandTopic returns the topic remote commands are received on.
func (c *Config) CommandTopic() string {
	return c.MQTT.CommandPrefix + c.Network.Hostname
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.PollInterval == 0 {
		c.Serial.PollInterval = def.Serial.PollInterval
	}
	if c.Serial.MaxPolls == 0 {
		c.Serial.MaxPolls = def.Serial.MaxPolls
	}
	if c.Serial.MaxSends == 0 {
		c.Serial.MaxSends = def.Serial.MaxSends
	}

	if c.Network.Hostname == "" {
		c.Network.Hostname = def.Network.Hostname
	}

	if c.MQTT.Broker == "" {
		c.MQTT.Broker = def.MQTT.Broker
	}
	if c.MQTT.StatusPrefix == "" {
		c.MQTT.StatusPrefix = def.MQTT.StatusPrefix
	}
	if c.MQTT.TelemetryPrefix == "" {
		c.MQTT.TelemetryPrefix = def.MQTT.TelemetryPrefix
	}
	if c.MQTT.CommandPrefix == "" {
		c.MQTT.CommandPrefix = def.MQTT.CommandPrefix
	}
	if c.MQTT.ReconnectInterval == 0 {
		c.MQTT.ReconnectInterval = def.MQTT.ReconnectInterval
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = def.MQTT.ConnectTimeout
	}

	if c.Measurement.Interval == 0 {
		c.Measurement.Interval = def.Measurement.Interval
	}
	if c.Measurement.FastAlpha == 0 {
		c.Measurement.FastAlpha = def.Measurement.FastAlpha
	}
	if c.Measurement.SlowAlpha == 0 {
		c.Measurement.SlowAlpha = def.Measurement.SlowAlpha
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.Loop.Tick == 0 {
		c.Loop.Tick = def.Loop.Tick
	}

	if c.Mock.BasePPM == 0 {
		c.Mock.BasePPM = def.Mock.BasePPM
	}
	if c.Mock.NoisePPM == 0 {
		c.Mock.NoisePPM = def.Mock.NoisePPM
	}
	if c.Mock.Temperature == 0 {
		c.Mock.Temperature = def.Mock.Temperature
	}
}
