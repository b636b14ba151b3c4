package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Model       ModelConfig       `mapstructure:"model"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Labels      LabelsConfig      `mapstructure:"labels"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
	I18n        I18nConfig        `mapstructure:"i18n"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DataDir       string `mapstructure:"data_dir"`
	Timezone      string `mapstructure:"timezone"`
	SessionSecret string `mapstructure:"session_secret"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite-Datei, ":memory:" für flüchtige Historie
}

// CameraConfig beschreibt das Aufnahmegerät
type CameraConfig struct {
	// Geräte-IDs oder URLs je Blickrichtung
	Front       string `mapstructure:"front"`
	Back        string `mapstructure:"back"`
	Facing      string `mapstructure:"facing"` // "front" oder "back"
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	Mirror      bool   `mapstructure:"mirror"`
	DebugFrames int    `mapstructure:"debug_frames"` // 0 deaktiviert die Debug-Ansicht
}

// ModelConfig beschreibt den Klassifikator
type ModelConfig struct {
	Provider  string        `mapstructure:"provider"` // "opencv" oder "remote"
	Path      string        `mapstructure:"path"`
	Config    string        `mapstructure:"config"`
	Layout    string        `mapstructure:"layout"` // "nhwc" oder "nchw"
	Softmax   bool          `mapstructure:"softmax"`
	UseGPU    bool          `mapstructure:"use_gpu"`
	Backend   string        `mapstructure:"backend"` // "default", "cuda", "opencl"
	Target    string        `mapstructure:"target"`  // "cpu", "cuda", "opencl"
	RemoteURL string        `mapstructure:"remote_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RecognitionConfig steuert die Erkennungsschleife
type RecognitionConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Threshold float64       `mapstructure:"threshold"`
	TopK      int           `mapstructure:"top_k"`
}

// LabelsConfig enthält optionale Overrides für Labels und Katalog
type LabelsConfig struct {
	File        string `mapstructure:"file"`
	CatalogFile string `mapstructure:"catalog_file"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker"`
	Port          int                 `mapstructure:"port"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	TopicPrefix   string              `mapstructure:"topic_prefix"`
	QoS           byte                `mapstructure:"qos"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig enthält die Konfiguration für die Home Assistant Integration
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	PublishResults  bool   `mapstructure:"publish_results"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	Interval      time.Duration `mapstructure:"interval"`
}

// I18nConfig enthält Spracheinstellungen
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.SetEnvPrefix("MEDSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate prüft Werte, die viper nicht prüfen kann
func (c *Config) Validate() error {
	if c.Recognition.Interval <= 0 {
		return fmt.Errorf("recognition.interval must be positive, got %s", c.Recognition.Interval)
	}
	if c.Recognition.Threshold <= 0 || c.Recognition.Threshold > 1 {
		return fmt.Errorf("recognition.threshold must be in (0,1], got %v", c.Recognition.Threshold)
	}
	switch c.Model.Provider {
	case "opencv", "remote":
	default:
		return fmt.Errorf("unknown model.provider %q", c.Model.Provider)
	}
	switch strings.ToLower(c.Model.Layout) {
	case "nhwc", "nchw":
	default:
		return fmt.Errorf("unknown model.layout %q", c.Model.Layout)
	}
	if c.Model.Provider == "remote" && c.Model.RemoteURL == "" {
		return fmt.Errorf("model.remote_url is required for the remote provider")
	}
	return nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.session_secret", "medscan-session")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	// DB-Standardwerte
	v.SetDefault("db.file", "./data/medscan.db")

	// Kamera-Standardwerte
	v.SetDefault("camera.front", "0")
	v.SetDefault("camera.back", "1")
	v.SetDefault("camera.facing", "front")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.mirror", false)
	v.SetDefault("camera.debug_frames", 0)

	// Modell-Standardwerte (tfjs-Modelle vorher nach ONNX konvertieren)
	v.SetDefault("model.provider", "opencv")
	v.SetDefault("model.path", "./model/model.onnx")
	v.SetDefault("model.layout", "nhwc")
	v.SetDefault("model.softmax", false)
	v.SetDefault("model.use_gpu", false)
	v.SetDefault("model.backend", "default")
	v.SetDefault("model.target", "cpu")
	v.SetDefault("model.timeout", 5*time.Second)

	// Erkennungsschleife
	v.SetDefault("recognition.interval", time.Second)
	v.SetDefault("recognition.threshold", 0.70)
	v.SetDefault("recognition.top_k", 3)

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "medscan-go")
	v.SetDefault("mqtt.topic_prefix", "medscan")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")
	v.SetDefault("mqtt.homeassistant.publish_results", true)

	// Cleanup-Standardwerte
	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.interval", 24*time.Hour)

	v.SetDefault("i18n.default_language", "en")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Datenbank-Verzeichnis (für SQLite)
	if cfg.DB.File != "" && cfg.DB.File != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
