// Package config assembles the process configuration from an optional YAML
// file and CLI flags, with flags winning ties; the process environment
// supplies only the auth token and database settings, per SPEC_FULL.md's
// Ambient Stack section and spec.md §6/§9 (one explicit config value, no
// singleton).
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// Config is the single explicit configuration value. main passes it by
// reference to the Proxy Engine and hands the Router and Management API
// only the values they use (the Store, the auth token).
type Config struct {
	// Data plane listen surface (spec.md §6).
	IP   string `koanf:"ip"`
	Port int    `koanf:"port"`

	// Control plane listen surface.
	APIIP   string `koanf:"api-ip"`
	APIPort int    `koanf:"api-port"`

	DefaultTarget string `koanf:"default-target"`
	ErrorTarget   string `koanf:"error-target"`
	ErrorPath     string `koanf:"error-path"`
	RedirectPort  int    `koanf:"redirect-port"` // accepted for compatibility; unimplemented

	NoPrependPath  bool `koanf:"no-prepend-path"`
	NoIncludePfx   bool `koanf:"no-include-prefix"`
	TimeoutSec     int  `koanf:"timeout"`
	ProxyTimeoutS  int  `koanf:"proxy-timeout"`
	NoXForward     bool `koanf:"no-x-forward"`
	StorageBackend string `koanf:"storage-backend"`
	LogLevel       string `koanf:"log-level"`
	PidFile        string `koanf:"pid-file"`

	CustomHeaders []string `koanf:"custom-header"` // repeated "NAME:VALUE"

	// Environment-only values (spec.md §6).
	AuthToken     string
	DatabaseURL   string
	DatabaseTable string
}

// PrependPath / IncludePrefix are the positive-sense accessors the proxy
// engine reads; the flags are negative-sense ("--no-...") to default on.
func (c *Config) PrependPath() bool  { return !c.NoPrependPath }
func (c *Config) IncludePrefix() bool { return !c.NoIncludePfx }
func (c *Config) XForward() bool      { return !c.NoXForward }

// CustomHeaderMap parses the repeated "NAME:VALUE" flags into a map.
// Malformed entries (no colon) are skipped and logged.
func (c *Config) CustomHeaderMap() map[string]string {
	out := make(map[string]string, len(c.CustomHeaders))
	for _, h := range c.CustomHeaders {
		idx := strings.Index(h, ":")
		if idx < 0 {
			log.Warn().Str("header", h).Msg("ignoring malformed --custom-header value")
			continue
		}
		name := strings.TrimSpace(h[:idx])
		value := strings.TrimSpace(h[idx+1:])
		if name == "" {
			continue
		}
		out[name] = value
	}
	return out
}

func defaultFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("dynaproxy", pflag.ContinueOnError)
	fs.String("ip", "", "public-facing IP to bind the proxy port to")
	fs.Int("port", 8000, "public-facing port for proxy traffic")
	fs.String("api-ip", "localhost", "IP to bind the management API to")
	fs.Int("api-port", 8001, "port for the management API")
	fs.String("default-target", "", "upstream to seed the root route with at startup")
	fs.String("error-target", "", "upstream to forward error sub-requests to")
	fs.String("error-path", "", "directory of local <status>.html / error.html pages")
	fs.Int("redirect-port", 0, "accepted for compatibility; unimplemented")
	fs.Bool("no-prepend-path", false, "do not prepend the target's path to the proxied request")
	fs.Bool("no-include-prefix", false, "strip the matched prefix from the proxied request path")
	fs.Int("timeout", 0, "seconds to wait for the first upstream response byte (0 = none)")
	fs.Int("proxy-timeout", 0, "idle timeout in seconds once streaming has begun (0 = none)")
	fs.Bool("no-x-forward", false, "disable X-Forwarded-* header injection")
	fs.StringSlice("custom-header", nil, "NAME:VALUE header to add to every proxied request (repeatable)")
	fs.String("storage-backend", "memory", "storage backend identifier: memory, database, redis, or externally registered")
	fs.String("log-level", "info", "debug, info, warn, or error")
	fs.String("pid-file", "", "path to write the process's pid to")
	return fs
}

// Load builds a Config from, in increasing priority: an optional YAML file
// at yamlPath (skipped silently if empty or absent) and args (os.Args[1:]
// in production, a fixed slice in tests). AuthToken, DatabaseURL and
// DatabaseTable are read from the process environment only.
func Load(yamlPath string, args []string) (*Config, error) {
	k := koanf.New(".")

	if yamlPath != "" {
		if _, err := os.Stat(yamlPath); err == nil {
			if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load yaml %s: %w", yamlPath, err)
			}
		}
	}

	fs := defaultFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("config: load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	envK := koanf.New(".")
	if err := envK.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}
	cfg.DatabaseURL = envK.String("CHP_DATABASE_URL")
	cfg.DatabaseTable = envK.String("CHP_DATABASE_TABLE")
	cfg.AuthToken = envK.String("CONFIGPROXY_AUTH_TOKEN")
	if cfg.AuthToken == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("config: generate auth token: %w", err)
		}
		cfg.AuthToken = token
		log.Warn().Str("token", token).Msg("CONFIGPROXY_AUTH_TOKEN not set; generated a token for this run")
	}

	return &cfg, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
