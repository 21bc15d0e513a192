// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Socket    SocketConfig            `yaml:"socket"`
	Remote    RemoteConfig            `yaml:"remote"`
	Log       LogConfig               `yaml:"log"`
	Arbiter   ArbiterConfig           `yaml:"arbiter"`
	Sensor    SensorConfig            `yaml:"sensor"`
	Transport TransportConfig         `yaml:"transport"`
	Library   LibraryConfig           `yaml:"library"`
	Plex      PlexConfig              `yaml:"plex"`
	Spotify   SpotifyConfig           `yaml:"spotify"`
	Resolvers ResolversConfig         `yaml:"resolvers"`
	Policies  map[string]PolicyConfig `yaml:"policies"`
}

// ServerConfig represents the RPC/metrics HTTP server configuration.
type ServerConfig struct {
	Addr        string      `yaml:"addr" default:":8080"`
	MetricsPath string      `yaml:"metrics_path" default:"/metrics"`
	Hooks       HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// SocketConfig represents the raw TCP intake listener.
type SocketConfig struct {
	Disabled       bool   `yaml:"disabled"`
	Addr           string `yaml:"addr" default:":32413"`
	IdleTimeoutSec int    `yaml:"idle_timeout_sec" default:"30" validate:"gte=1,lte=3600"`
	MaxMessageSize int    `yaml:"max_message_size" default:"4096" validate:"gte=256"`
}

// RemoteConfig represents remote control settings.
type RemoteConfig struct {
	// Token required in the X-Remote-Token header. Empty disables the check.
	Token string `yaml:"token"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Output string `yaml:"output" default:"stdout"` // stdout, stderr or a file path
}

// ArbiterConfig represents control loop and core configuration.
type ArbiterConfig struct {
	TickMs              int  `yaml:"tick_ms" default:"100" validate:"gte=10,lte=5000"`
	DrainPerTick        int  `yaml:"drain_per_tick" default:"32" validate:"gte=1,lte=1024"`
	QueueCapacity       int  `yaml:"queue_capacity" default:"256" validate:"gte=1"`
	ResolveTimeoutSec   int  `yaml:"resolve_timeout_sec" default:"5" validate:"gte=1,lte=120"`
	TransportTimeoutSec int  `yaml:"transport_timeout_sec" default:"5" validate:"gte=1,lte=120"`
	InitialVolume       *int `yaml:"initial_volume" default:"50" validate:"omitempty,gte=0,lte=100"`
}

// SensorConfig represents the tag reader configuration.
type SensorConfig struct {
	Type string `yaml:"type" default:"file" validate:"oneof=file none"`
	Path string `yaml:"path" default:"/run/tagbox/tag.yaml"`
}

// TransportConfig represents the audio output configuration.
type TransportConfig struct {
	Type           string `yaml:"type" default:"beep" validate:"oneof=beep log"`
	SampleRate     int    `yaml:"sample_rate" default:"44100" validate:"oneof=22050 44100 48000 96000"`
	BufferMs       int    `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=1000"`
	HTTPTimeoutSec int    `yaml:"http_timeout_sec" default:"10" validate:"gte=1,lte=120"`
}

// LibraryConfig represents the local audio library.
type LibraryConfig struct {
	Root string `yaml:"root"`
	// Albums maps an identifier to a directory, absolute or relative to Root.
	// Identifiers not listed resolve to Root/<identifier>.
	Albums map[string]string `yaml:"albums"`
}

// PlexConfig represents the Plex media server used for catalog lookups.
type PlexConfig struct {
	BaseURL    string `yaml:"base_url" validate:"omitempty,url"`
	Token      string `yaml:"token"`
	Section    string `yaml:"section" default:"Music"`
	TimeoutSec int    `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=120"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// ResolversConfig lists the resolver chains for each event origin.
type ResolversConfig struct {
	Presence []ResolverConfig `yaml:"presence" validate:"required,min=1,dive"`
	Catalog  []ResolverConfig `yaml:"catalog" validate:"dive"`
}

// ResolverConfig represents a single resolver in a chain.
type ResolverConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=local spotify plex"`
	DisplayName string         `yaml:"display_name"`
	Settings    map[string]any `yaml:"settings,omitempty"`
}

// PolicyConfig represents a policy's configuration.
type PolicyConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if len(cfg.Resolvers.Presence) == 0 {
		cfg.Resolvers.Presence = []ResolverConfig{{Type: "local", DisplayName: "Local library"}}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("PLEX_TOKEN"); v != "" {
		c.Plex.Token = v
	}
	if v := os.Getenv("REMOTE_TOKEN"); v != "" {
		c.Remote.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	// Validate that every configured resolver has what it needs
	if err := c.validateResolvers(); err != nil {
		return err
	}

	if c.Sensor.Type == "file" && c.Sensor.Path == "" {
		return errors.New("sensor.path is required for the file sensor")
	}

	return nil
}

// validateResolvers checks that each resolver type in use is configured.
func (c *Config) validateResolvers() error {
	all := append(append([]ResolverConfig{}, c.Resolvers.Presence...), c.Resolvers.Catalog...)
	for _, r := range all {
		switch r.Type {
		case "local":
			if c.Library.Root == "" && len(c.Library.Albums) == 0 {
				return errors.New("local resolver requires library.root or library.albums")
			}
		case "plex":
			if c.Plex.BaseURL == "" || c.Plex.Token == "" {
				return errors.New("plex resolver requires plex.base_url and plex.token")
			}
		case "spotify":
			if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
				return errors.New("spotify resolver requires spotify.client_id and spotify.client_secret")
			}
			if len(c.Resolvers.Catalog) == 0 {
				return errors.New("spotify resolver looks albums up in the catalog chain, which is empty")
			}
		}
	}
	return nil
}

// TickInterval returns the control loop sleep interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Arbiter.TickMs) * time.Millisecond
}

// InitialVolume returns the volume applied at startup.
func (c *Config) InitialVolume() int {
	if c.Arbiter.InitialVolume == nil {
		return 50
	}
	return *c.Arbiter.InitialVolume
}

// IsPolicyEnabled checks if a policy is enabled.
func (c *Config) IsPolicyEnabled(name string) bool {
	if p, ok := c.Policies[name]; ok {
		return p.Enabled
	}
	return false
}

// PolicySettings returns the settings for a policy.
func (c *Config) PolicySettings(name string) map[string]any {
	if p, ok := c.Policies[name]; ok {
		return p.Settings
	}
	return nil
}
