package config

import (
	"os"
	"time"
)

// TokenEnv names the environment variable the access token defaults to.
const TokenEnv = "CRAWLUPLOAD_TOKEN"

// Config holds connection settings for the uploader.
//
// Fields:
//   - ServerURL: base URL of the upload server's HTTP API.
//   - Token: bearer access token.
//   - OrgID: organization the uploads belong to.
//   - RequestTimeout: upper bound on one upload request; 0 disables it.
type Config struct {
	ServerURL      string
	Token          string
	OrgID          string
	RequestTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://localhost:8080"
	c.Token = os.Getenv(TokenEnv)
	c.OrgID = ""
	c.RequestTimeout = 0
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
