package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Engine configuration (protocol engine process)
	Engine EngineConfig `mapstructure:"engine"`

	// Router configuration (event router process)
	Router RouterConfig `mapstructure:"router"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig holds protocol-engine configuration
type EngineConfig struct {
	VendorID      string        `mapstructure:"vendor_id"`
	ProductID     string        `mapstructure:"product_id"`
	DeviceName    string        `mapstructure:"device_name"`
	MixerPort     int           `mapstructure:"mixer_port"`
	MaxVolume     int           `mapstructure:"max_volume"`
	DefaultVolume int           `mapstructure:"default_volume"`
	RouterURL     string        `mapstructure:"router_url"`
	RelayURL      string        `mapstructure:"relay_url"`
	Announce      bool          `mapstructure:"announce"`
	Queue         QueueConfig   `mapstructure:"queue"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

// QueueConfig tunes the event intake queue. The priority interval is a
// responsiveness heuristic, not a protocol constant.
type QueueConfig struct {
	Capacity         int           `mapstructure:"capacity"`
	Expiry           time.Duration `mapstructure:"expiry"`
	PriorityInterval time.Duration `mapstructure:"priority_interval"`
}

// RouterConfig holds event-router configuration
type RouterConfig struct {
	Port          int            `mapstructure:"port"`
	VolumeStep    int            `mapstructure:"volume_step"`
	DefaultVolume int            `mapstructure:"default_volume"`
	RelayURL      string         `mapstructure:"relay_url"`
	FallbackURL   string         `mapstructure:"fallback_url"`
	Adapter       AdapterConfig  `mapstructure:"adapter"`
	Menu          []MenuEntry    `mapstructure:"menu"`
	MenuTail      string         `mapstructure:"menu_tail"`
	Sources       []SourceConfig `mapstructure:"sources"`
}

// AdapterConfig selects and parameterizes the active volume backend
type AdapterConfig struct {
	Backend   string        `mapstructure:"backend"` // powerlink, snapcast or software
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	ClientID  string        `mapstructure:"client_id"` // snapcast backend only
	MaxVolume int           `mapstructure:"max_volume"`
	Debounce  time.Duration `mapstructure:"debounce"`
}

// MenuEntry is one static display entry of the router menu
type MenuEntry struct {
	ID    string `mapstructure:"id"`
	Title string `mapstructure:"title"`
}

// SourceConfig pre-registers a playback source with the router
type SourceConfig struct {
	ID         string   `mapstructure:"id"`
	Name       string   `mapstructure:"name"`
	CommandURL string   `mapstructure:"command_url"`
	Handles    []string `mapstructure:"handles"`
	After      string   `mapstructure:"after"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	// Set defaults
	viper.SetDefault("engine.vendor_id", "0x0cd4")
	viper.SetDefault("engine.product_id", "0x0101")
	viper.SetDefault("engine.device_name", "Amplifier")
	viper.SetDefault("engine.mixer_port", 8375)
	viper.SetDefault("engine.max_volume", 70)
	viper.SetDefault("engine.default_volume", 25)
	viper.SetDefault("engine.router_url", "http://127.0.0.1:8374")
	viper.SetDefault("engine.announce", true)
	viper.SetDefault("engine.read_timeout", "500ms")
	viper.SetDefault("engine.queue.capacity", 10)
	viper.SetDefault("engine.queue.expiry", "2s")
	viper.SetDefault("engine.queue.priority_interval", "200ms")
	viper.SetDefault("router.port", 8374)
	viper.SetDefault("router.volume_step", 4)
	viper.SetDefault("router.default_volume", 30)
	viper.SetDefault("router.menu_tail", "settings")
	viper.SetDefault("router.adapter.backend", "powerlink")
	viper.SetDefault("router.adapter.max_volume", 70)
	viper.SetDefault("router.adapter.debounce", "100ms")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Read config file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.beohub")
	viper.AddConfigPath("/etc/beohub")

	// Allow environment variables
	viper.AutomaticEnv()
	viper.SetEnvPrefix("BEOHUB")

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		slog.Debug("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Using config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, _, err := c.Engine.USBIDs(); err != nil {
		return &ConfigError{Field: "engine.vendor_id/product_id", Message: err.Error()}
	}
	if c.Engine.MixerPort <= 0 || c.Engine.MixerPort > 65535 {
		return &ConfigError{Field: "engine.mixer_port", Message: "port must be in 1..65535"}
	}
	if c.Engine.MaxVolume <= 0 {
		return &ConfigError{Field: "engine.max_volume", Message: "must be positive"}
	}
	if c.Engine.DefaultVolume < 0 || c.Engine.DefaultVolume > c.Engine.MaxVolume {
		return &ConfigError{Field: "engine.default_volume", Message: "must be in 0..max_volume"}
	}
	if c.Router.Port <= 0 || c.Router.Port > 65535 {
		return &ConfigError{Field: "router.port", Message: "port must be in 1..65535"}
	}
	if c.Router.VolumeStep <= 0 {
		return &ConfigError{Field: "router.volume_step", Message: "must be positive"}
	}
	switch c.Router.Adapter.Backend {
	case "powerlink", "snapcast", "software":
	default:
		return &ConfigError{Field: "router.adapter.backend", Message: "must be powerlink, snapcast or software"}
	}
	return nil
}

// USBIDs parses the hex vendor/product ids of the amplifier controller.
func (e *EngineConfig) USBIDs() (uint16, uint16, error) {
	vid, err := parseHexID(e.VendorID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor id %q: %w", e.VendorID, err)
	}
	pid, err := parseHexID(e.ProductID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product id %q: %w", e.ProductID, err)
	}
	return vid, pid, nil
}

func parseHexID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
