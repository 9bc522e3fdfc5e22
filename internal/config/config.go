package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Default configuration values
const (
	DefaultEnv             = "local"
	DefaultHTTPAddress     = ":8080"
	DefaultServerURL       = "ws://localhost:8080/ws"
	DefaultSTUN            = "stun:stun.l.google.com:19302"
	DefaultRegistryTimeout = 3 * time.Second
)

// Config holds application configuration for both the hub and the client.
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Signaling SignalingConfig `yaml:"signaling"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Registry  RegistryConfig  `yaml:"registry"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"HTTP_ADDRESS"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:","`
}

type SignalingConfig struct {
	// ServerURL is the hub websocket endpoint the client dials.
	ServerURL string `yaml:"server_url" env:"SIGNALING_URL"`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers" env:"STUN_SERVERS" env-separator:","`
	TURNServer  string   `yaml:"turn_server" env:"TURN_SERVER"`
	TURNUser    string   `yaml:"turn_username" env:"TURN_USERNAME"`
	TURNPass    string   `yaml:"turn_password" env:"TURN_PASSWORD"`
	ForceRelay  bool     `yaml:"force_relay" env:"FORCE_RELAY"`
}

// RegistryConfig points at the meeting-registry occupancy endpoint. An empty
// URL disables notifications.
type RegistryConfig struct {
	URL     string        `yaml:"url" env:"MEETING_REGISTRY_URL"`
	Timeout time.Duration `yaml:"timeout" env:"MEETING_REGISTRY_TIMEOUT"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigPath  string
	Address     string
	ServerURL   string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	RegistryURL string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (and a .env file, if present)
// 3. YAML config file, when a path is given
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	path := opts.ConfigPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	cfg.applyOptions(opts)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for process entry points that cannot continue without config.
func MustLoad(opts Options) *Config {
	cfg, err := Load(opts)
	if err != nil {
		panic("cannot load config: " + err.Error())
	}
	return cfg
}

func (c *Config) applyOptions(opts Options) {
	if opts.Address != "" {
		c.HTTP.Address = opts.Address
	}
	if opts.ServerURL != "" {
		c.Signaling.ServerURL = opts.ServerURL
	}
	if opts.STUNServer != "" {
		c.WebRTC.STUNServers = []string{opts.STUNServer}
	}
	if opts.TURNServer != "" {
		c.WebRTC.TURNServer = opts.TURNServer
	}
	if opts.TURNUser != "" {
		c.WebRTC.TURNUser = opts.TURNUser
	}
	if opts.TURNPass != "" {
		c.WebRTC.TURNPass = opts.TURNPass
	}
	if opts.ForceRelay {
		c.WebRTC.ForceRelay = true
	}
	if opts.RegistryURL != "" {
		c.Registry.URL = opts.RegistryURL
	}
}

func (c *Config) setDefaults() {
	if c.Env == "" {
		c.Env = DefaultEnv
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = DefaultHTTPAddress
	}
	if c.Signaling.ServerURL == "" {
		c.Signaling.ServerURL = DefaultServerURL
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{DefaultSTUN}
	}
	if c.Registry.Timeout <= 0 {
		c.Registry.Timeout = DefaultRegistryTimeout
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Signaling.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid signaling url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid signaling url %q: scheme must be ws or wss", c.Signaling.ServerURL)
	}
	if c.WebRTC.ForceRelay && c.GetTURNServers() == nil {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	return nil
}

// HTTPBaseURL derives the hub's REST base URL from the websocket endpoint.
func (c *Config) HTTPBaseURL() string {
	u, err := url.Parse(c.Signaling.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return c.WebRTC.STUNServers
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.WebRTC.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.WebRTC.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.WebRTC.TURNUser, c.WebRTC.TURNPass
}
