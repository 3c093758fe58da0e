package config

import (
	"log"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the application configuration.
// Tags correspond to the keys in the YAML file.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Detector DetectorConfig `koanf:"detector"`
	Backend  BackendConfig  `koanf:"backend"`
	Capture  CaptureConfig  `koanf:"capture"`
	Kiosk    KioskConfig    `koanf:"kiosk"`
	History  HistoryConfig  `koanf:"history"`
	MQTT     MQTTConfig     `koanf:"mqtt"`
}

// ServerConfig holds settings for the kiosk HTTP surface.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"` // Optional path to an additional log file
}

// DetectorConfig holds settings for the face detection engine.
type DetectorConfig struct {
	URL             string  `koanf:"url"`
	TimeoutSeconds  int     `koanf:"timeout_seconds"`
	Threshold       float64 `koanf:"threshold"`             // Minimum detection confidence
	ReadyTimeoutSec int     `koanf:"ready_timeout_seconds"` // How long to wait for the model to load
}

// BackendConfig holds settings for the remote check-in service.
type BackendConfig struct {
	URL            string `koanf:"url"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// CaptureConfig holds camera and still-image settings.
type CaptureConfig struct {
	Device       int `koanf:"device"`         // Video device index for the webcam
	StillMaxEdge int `koanf:"still_max_edge"` // Uploaded images are downscaled to this long edge
}

// KioskConfig holds the timing parameters of the capture/detection core.
type KioskConfig struct {
	PollIntervalMs  int    `koanf:"poll_interval_ms"`
	DebounceDelayMs int    `koanf:"debounce_delay_ms"`
	StartMode       string `koanf:"start_mode"` // "live" or "still"
}

// HistoryConfig holds settings for the local attempt log.
type HistoryConfig struct {
	Enabled       bool   `koanf:"enabled"`
	File          string `koanf:"file"` // Path to the SQLite database file
	RetentionDays int    `koanf:"retention_days"`
}

// MQTTConfig holds settings for the MQTT announcer.
type MQTTConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Broker   string `koanf:"broker"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	ClientID string `koanf:"client_id"`
	Topic    string `koanf:"topic"` // Topic check-in events are published to
}

// Global Koanf instance
var k = koanf.New(".")

// Load reads configuration from the YAML file at configPath.
// Defaults are applied selectively for fields the file left zero-valued.
func Load(configPath string) (*Config, error) {
	log.Printf("Loading configuration from %s...\n", configPath)
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		log.Printf("Warning: Failed to load configuration file '%s': %v\n", configPath, err)
		// Continue even if file loading fails, defaults apply below
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		log.Printf("Warning: Failed to unmarshal config structure: %v\n", err)
	}

	applyDefaults(&cfg)

	// Ensure log level is lowercase
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	log.Println("Configuration loaded successfully.")
	return &cfg, nil
}

// applyDefaults fills in defaults for fields that are still zero-valued.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3200
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Detector.URL == "" {
		cfg.Detector.URL = "http://localhost:18081"
	}
	if cfg.Detector.TimeoutSeconds == 0 {
		cfg.Detector.TimeoutSeconds = 10
	}
	if cfg.Detector.Threshold == 0.0 {
		cfg.Detector.Threshold = 0.8
	}
	if cfg.Detector.ReadyTimeoutSec == 0 {
		cfg.Detector.ReadyTimeoutSec = 60
	}
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = "http://localhost:8080"
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = 15
	}
	if cfg.Capture.StillMaxEdge == 0 {
		cfg.Capture.StillMaxEdge = 1280
	}
	if cfg.Kiosk.PollIntervalMs == 0 {
		cfg.Kiosk.PollIntervalMs = 100
	}
	if cfg.Kiosk.DebounceDelayMs == 0 {
		cfg.Kiosk.DebounceDelayMs = 3000
	}
	if cfg.Kiosk.StartMode == "" {
		cfg.Kiosk.StartMode = "live"
	}
	if cfg.History.File == "" {
		cfg.History.File = "/data/face-checkin.db"
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 30
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "localhost"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "face-checkin-go"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "face-checkin/events"
	}
}
