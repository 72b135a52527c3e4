package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete scand configuration
type Config struct {
	InstanceID       string `yaml:"instance_id"`
	Mode             string `yaml:"mode"`               // hybrid, camera, manual (default: hybrid)
	SettleDelayMS    *int   `yaml:"settle_delay_ms"`    // Delay before lookup (default: 600, 0 = none)
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	LogFile          string `yaml:"log_file"`           // Log destination when the terminal UI owns stdout

	Camera     CameraConfig     `yaml:"camera"`
	Throttle   ThrottleConfig   `yaml:"throttle"`
	Decoder    DecoderConfig    `yaml:"decoder"`
	Permission PermissionConfig `yaml:"permission"`
	Lookup     LookupConfig     `yaml:"lookup"`
	Manual     ManualConfig     `yaml:"manual"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// CameraConfig contains frame source settings
type CameraConfig struct {
	Source    string          `yaml:"source"`     // v4l2, images, mock (default: v4l2)
	Device    string          `yaml:"device"`     // V4L2 device node (default: /dev/video0)
	Width     int             `yaml:"width"`      // default: 640
	Height    int             `yaml:"height"`     // default: 480
	FPS       float64         `yaml:"fps"`        // capture rate (default: 15)
	Format    string          `yaml:"format"`     // gray8, nv21 (default: gray8)
	ImagesDir string          `yaml:"images_dir"` // source: images
	Loop      bool            `yaml:"loop"`       // replay images_dir forever
	WarmupS   int             `yaml:"warmup_s"`   // FPS measurement at start (0 = skip)
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls camera pipeline restarts
type ReconnectConfig struct {
	MaxRetries     int `yaml:"max_retries"`      // default: 5
	InitialDelayMS int `yaml:"initial_delay_ms"` // default: 1000
	MaxDelayMS     int `yaml:"max_delay_ms"`     // default: 30000
}

// ThrottleConfig caps decoder invocations
type ThrottleConfig struct {
	MaxFPS float64 `yaml:"max_fps"` // default: 5
}

// DecoderConfig selects the barcode decoder
type DecoderConfig struct {
	Kind      string   `yaml:"kind"`       // zxing, subprocess (default: zxing)
	Formats   []string `yaml:"formats"`    // zxing symbologies (default: all supported)
	TryHarder bool     `yaml:"try_harder"` // zxing
	Command   string   `yaml:"command"`    // subprocess executable
	Args      []string `yaml:"args"`       // subprocess arguments
	TimeoutMS int      `yaml:"timeout_ms"` // subprocess per-call timeout (default: 2000)
}

// PermissionConfig controls the camera consent prompt
type PermissionConfig struct {
	Prompt    bool   `yaml:"prompt"`     // ask before opening the camera
	AutoGrant bool   `yaml:"auto_grant"` // answer for the operator (headless)
	Title     string `yaml:"title"`
	Message   string `yaml:"message"`
}

// LookupConfig selects the message lookup
type LookupConfig struct {
	Kind      string `yaml:"kind"`       // static, mqtt (default: static)
	Count     *int   `yaml:"count"`      // static messages per barcode (default: 3)
	Template  string `yaml:"template"`   // static message format (%s value, %d index)
	TimeoutMS int    `yaml:"timeout_ms"` // mqtt round trip (default: 5000)
}

// ManualConfig controls line-based manual entry
type ManualConfig struct {
	Stdin     bool `yaml:"stdin"`      // read barcodes from stdin in serve mode
	AutoStart bool `yaml:"auto_start"` // start a scan when a line arrives while idle
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string          `yaml:"broker"` // empty disables emitter, control and mqtt lookup
	ClientID string          `yaml:"client_id"`
	Username string          `yaml:"username"`
	Password string          `yaml:"password"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Snapshots      string `yaml:"snapshots"`
	Control        string `yaml:"control"`
	ControlReply   string `yaml:"control_reply"`
	LookupRequest  string `yaml:"lookup_request"`
	LookupResponse string `yaml:"lookup_response"`
	Health         string `yaml:"health"`
}

// HTTPConfig contains the HTTP/SSE listener settings
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SettleDelay returns the pause before each lookup.
func (c *Config) SettleDelay() time.Duration {
	if c.SettleDelayMS == nil {
		return 600 * time.Millisecond
	}
	if *c.SettleDelayMS == 0 {
		return -1 // explicit zero: no delay
	}
	return time.Duration(*c.SettleDelayMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}

// QoSFor returns the QoS configured for a topic key (snapshots, control, lookup, health).
func (c *Config) QoSFor(key string) byte {
	return c.MQTT.QoS[key]
}
