package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultWSAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ROUTER_ prefix), flags, or YAML config files.
type Config struct {
	WSAddr      string        `default:"0.0.0.0:8080" usage:"WebSocket listen address" flag:"ws-addr"`
	HTTPAddr    string        `default:"0.0.0.0:9000" usage:"Query and health listen address" flag:"http-addr"`
	AcceptDelay time.Duration `default:"2s" usage:"Delay before an initiated order is auto-accepted" flag:"accept-delay"`
	Envelope    bool          `default:"false" usage:"Wrap outbound messages as {channel, headers, payload}"`
	WS          WSConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// WSConfig controls WebSocket connections.
type WSConfig struct {
	OriginPatterns []string      `default:"*" usage:"Allowed browser origin host patterns" flag:"ws-origins"`
	ReadLimit      int64         `default:"65536" usage:"Max inbound message size in bytes" flag:"ws-read-limit"`
	SendBuffer     int           `default:"64" usage:"Outbound queue length per connection" flag:"ws-send-buffer"`
	WriteTimeout   time.Duration `default:"5s" usage:"Timeout of a single outbound write" flag:"ws-write-timeout"`
}

// RateLimitConfig controls the per-client sliding window rate limiter. It
// applies to HTTP requests per client IP and to WebSocket messages per
// connection.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests or messages per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: skipFlags,
		EnvPrefix: "ROUTER",
		Files:     []string{"config.yaml", "/etc/order-router/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps PORT, set by hosting platforms, to the WebSocket
// address unless it was configured explicitly.
func (c *Config) applyPlatformDefaults() {
	if port := os.Getenv("PORT"); port != "" && c.WSAddr == defaultWSAddr {
		c.WSAddr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.WSAddr == c.HTTPAddr:
		return errors.Errorf("ws and http listeners share address %q", c.WSAddr)
	case c.AcceptDelay < 0:
		return errors.New("accept delay must not be negative")
	case c.WS.SendBuffer <= 0:
		return errors.New("ws send buffer must be positive")
	}
	return nil
}
