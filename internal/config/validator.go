package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
	"github.com/ChamodiJayakody/barcode-app/internal/decoder"
	"github.com/ChamodiJayakody/barcode-app/internal/session"
	"github.com/ChamodiJayakody/barcode-app/internal/throttle"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	mode, err := session.ParseMode(cfg.Mode)
	if err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	cfg.Mode = mode.String()

	if cfg.SettleDelayMS != nil && *cfg.SettleDelayMS < 0 {
		return fmt.Errorf("settle_delay_ms must be >= 0")
	}
	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be >= 0")
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if mode.UsesCamera() {
		if err := validateCamera(&cfg.Camera); err != nil {
			return err
		}
	}

	// Validate throttle
	if cfg.Throttle.MaxFPS < 0 || cfg.Throttle.MaxFPS > throttle.MaxFPSLimit {
		return fmt.Errorf("throttle.max_fps must be > 0 and <= %.0f", throttle.MaxFPSLimit)
	}
	if cfg.Throttle.MaxFPS == 0 {
		cfg.Throttle.MaxFPS = 5
	}

	if mode.UsesCamera() {
		if err := validateDecoder(&cfg.Decoder); err != nil {
			return err
		}
	}

	// Permission prompt defaults
	if cfg.Permission.Title == "" {
		cfg.Permission.Title = "Camera permission"
	}
	if cfg.Permission.Message == "" {
		cfg.Permission.Message = "This app needs access to your camera to scan barcodes."
	}

	if err := validateLookup(cfg); err != nil {
		return err
	}

	if cfg.MQTTEnabled() {
		applyMQTTDefaults(cfg)
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	switch c.Source {
	case "":
		c.Source = "v4l2"
	case "v4l2", "images", "mock":
	default:
		return fmt.Errorf("camera.source must be v4l2, images or mock (got %q)", c.Source)
	}

	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("camera.width and camera.height must be > 0")
	}
	if c.FPS < 0 {
		return fmt.Errorf("camera.fps must be > 0")
	}
	if c.FPS == 0 {
		c.FPS = 15
	}
	if _, err := capture.ParsePixelFormat(c.Format); err != nil {
		return fmt.Errorf("camera.format: %w", err)
	}
	if c.WarmupS < 0 {
		return fmt.Errorf("camera.warmup_s must be >= 0")
	}

	switch c.Source {
	case "v4l2":
		if c.Device == "" {
			c.Device = "/dev/video0"
		}
		if c.Width%4 != 0 {
			return fmt.Errorf("camera.width must be a multiple of 4 for v4l2")
		}
		if c.FPS > 30 {
			return fmt.Errorf("camera.fps must be <= 30 for v4l2")
		}
	case "images":
		if c.ImagesDir == "" {
			return fmt.Errorf("camera.images_dir is required for source images")
		}
	}

	if c.Reconnect.MaxRetries == 0 {
		c.Reconnect.MaxRetries = 5
	}
	if c.Reconnect.InitialDelayMS == 0 {
		c.Reconnect.InitialDelayMS = 1000
	}
	if c.Reconnect.MaxDelayMS == 0 {
		c.Reconnect.MaxDelayMS = 30000
	}
	if c.Reconnect.MaxDelayMS < c.Reconnect.InitialDelayMS {
		return fmt.Errorf("camera.reconnect.max_delay_ms must be >= initial_delay_ms")
	}
	return nil
}

func validateDecoder(d *DecoderConfig) error {
	switch d.Kind {
	case "":
		d.Kind = "zxing"
	case "zxing":
	case "subprocess":
		if d.Command == "" {
			return fmt.Errorf("decoder.command is required for kind subprocess")
		}
	default:
		return fmt.Errorf("decoder.kind must be zxing or subprocess (got %q)", d.Kind)
	}
	if _, err := decoder.ParseFormats(d.Formats); err != nil {
		return fmt.Errorf("decoder.formats: %w", err)
	}
	if d.TimeoutMS < 0 {
		return fmt.Errorf("decoder.timeout_ms must be >= 0")
	}
	if d.TimeoutMS == 0 {
		d.TimeoutMS = 2000
	}
	return nil
}

func validateLookup(cfg *Config) error {
	l := &cfg.Lookup
	switch l.Kind {
	case "":
		l.Kind = "static"
	case "static":
	case "mqtt":
		if !cfg.MQTTEnabled() {
			return fmt.Errorf("lookup.kind mqtt requires mqtt.broker")
		}
	default:
		return fmt.Errorf("lookup.kind must be static or mqtt (got %q)", l.Kind)
	}

	if l.Count == nil {
		n := 3
		l.Count = &n
	}
	if *l.Count < 0 {
		return fmt.Errorf("lookup.count must be >= 0")
	}
	if l.Template != "" {
		s, d := strings.Index(l.Template, "%s"), strings.Index(l.Template, "%d")
		if s < 0 || d < 0 || d < s {
			return fmt.Errorf("lookup.template must contain %%s followed by %%d")
		}
	}
	if l.TimeoutMS < 0 {
		return fmt.Errorf("lookup.timeout_ms must be >= 0")
	}
	if l.TimeoutMS == 0 {
		l.TimeoutMS = 5000
	}
	return nil
}

func applyMQTTDefaults(cfg *Config) {
	m := &cfg.MQTT
	if m.ClientID == "" {
		m.ClientID = fmt.Sprintf("scand-%s", cfg.InstanceID)
	}

	// Set default topics if not provided
	if m.Topics.Snapshots == "" {
		m.Topics.Snapshots = fmt.Sprintf("scan/snapshots/%s", cfg.InstanceID)
	}
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("scan/control/%s", cfg.InstanceID)
	}
	if m.Topics.ControlReply == "" {
		m.Topics.ControlReply = m.Topics.Control + "/reply"
	}
	if m.Topics.LookupRequest == "" {
		m.Topics.LookupRequest = "scan/lookup/request"
	}
	if m.Topics.LookupResponse == "" {
		m.Topics.LookupResponse = fmt.Sprintf("scan/lookup/response/%s", cfg.InstanceID)
	}
	if m.Topics.Health == "" {
		m.Topics.Health = fmt.Sprintf("scan/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if m.QoS == nil {
		m.QoS = make(map[string]byte)
	}
	defaults := map[string]byte{
		"snapshots": 0, // latest state wins
		"control":   1,
		"lookup":    1,
		"health":    0,
	}
	for k, v := range defaults {
		if _, ok := m.QoS[k]; !ok {
			m.QoS[k] = v
		}
	}
}
