package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"github.com/tailscale/hujson"
)

// Config configures the panel server. Files are JSON, with comments and
// trailing commas allowed.
type Config struct {
	ListenAddr  string `json:"listen_addr"`
	PortPath    string `json:"port_path"`
	ViewerPath  string `json:"viewer_path"`
	HealthPath  string `json:"health_path"`
	ViewerToken string `json:"viewer_token"`
	LogLevel    string `json:"log_level"`
	ReadLimit   int64  `json:"read_limit"`

	// RateLimits caps the call events per port connection, as event counts
	// keyed by window, e.g. {"1s": 50, "1m": 1000}. Empty disables it.
	RateLimits map[string]int `json:"rate_limits,omitempty"`
}

// Environment variables overriding the corresponding config fields.
const (
	EnvListenAddr  = "DEVTOOLS_LISTEN_ADDR"
	EnvViewerToken = "DEVTOOLS_VIEWER_TOKEN"
	EnvLogLevel    = "DEVTOOLS_LOG_LEVEL"
	EnvReadLimit   = "DEVTOOLS_READ_LIMIT"
)

// Default returns the default config.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:8090",
		PortPath:   "/ws/port",
		ViewerPath: "/ws/viewer",
		HealthPath: "/healthz",
		LogLevel:   "info",
		ReadLimit:  DefaultReadLimit,
	}
}

// Load reads the config file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("panel: read config failed: %w", err)
		}
		content, err = hujson.Standardize(content)
		if err != nil {
			return Config{}, fmt.Errorf("panel: parse config failed: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("panel: parse config failed: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		c.ListenAddr = v
	}
	if v, ok := lookup(EnvViewerToken); ok && v != "" {
		c.ViewerToken = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvReadLimit); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("panel: invalid %s: %w", EnvReadLimit, err)
		}
		c.ReadLimit = n
	}
	return nil
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("panel: listen_addr must not be empty")
	}
	for _, p := range [...]string{c.PortPath, c.ViewerPath, c.HealthPath} {
		if p == "" || p[0] != '/' {
			return fmt.Errorf("panel: invalid path %q", p)
		}
	}
	if c.PortPath == c.ViewerPath || c.PortPath == c.HealthPath || c.ViewerPath == c.HealthPath {
		return errors.New("panel: paths must be distinct")
	}
	if c.ReadLimit <= 0 {
		return errors.New("panel: read_limit must be positive")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.rates(); err != nil {
		return err
	}
	if _, err := resolveOptions(c.HubOptions(nil)); err != nil {
		return err
	}
	return nil
}

func (c Config) rates() (map[time.Duration]int, error) {
	if len(c.RateLimits) == 0 {
		return nil, nil
	}
	rates := make(map[time.Duration]int, len(c.RateLimits))
	for k, v := range c.RateLimits {
		d, err := time.ParseDuration(k)
		if err != nil {
			return nil, fmt.Errorf("panel: invalid rate_limits window: %w", err)
		}
		rates[d] = v
	}
	return rates, nil
}

// HubOptions returns the hub options described by the config. Invalid
// rate limits are ignored, see [Config.Validate].
func (c Config) HubOptions(logger *logging.Logger) []Option {
	opts := []Option{
		WithLogger(logger),
		WithViewerToken(c.ViewerToken),
		WithReadLimit(c.ReadLimit),
	}
	if rates, err := c.rates(); err == nil && len(rates) != 0 {
		opts = append(opts, WithRateLimit(rates))
	}
	return opts
}
