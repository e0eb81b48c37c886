// Package config provides YAML configuration loading with validation and
// environment variable substitution for the gateway.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tunegate/tunegate/internal/target"
)

// DefaultSecret is the built-in shared secret for the upstream metadata API.
// Deployments should override it via upstream.secret (usually through
// ${TUNEGATE_SECRET}); leaving the default produces a startup warning.
const DefaultSecret = "meting-secret-token"

// DefaultFallbackUserAgent is sent upstream when the client supplied no
// User-Agent. Audio hosts commonly reject empty user agents.
const DefaultFallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server" json:"server"`
	Metrics    MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging    LoggingConfig   `yaml:"logging" json:"logging"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Auth       AuthConfig      `yaml:"auth" json:"auth"`
	Admin      AdminConfig     `yaml:"admin" json:"admin"`
	Upstream   UpstreamConfig  `yaml:"upstream" json:"upstream"`
	AudioHosts []HostPattern   `yaml:"audio_hosts" json:"audio_hosts"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings. WriteTimeout defaults to 0
// (disabled): audio streams run for the length of a track and must not be
// cut off by a fixed write deadline.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds access log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// RateLimitConfig holds per-client-IP rate limiter settings.
// Disabled by default; the gateway is otherwise a pure pass-through.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds the optional Bearer-token gate for private deployments.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// UpstreamConfig holds the metadata API contract: base URL, shared signing
// secret, the default platform id, and the User-Agent fallback for audio
// hosts. These are immutable per process (restart to change).
type UpstreamConfig struct {
	APIBase           string `yaml:"api_base" json:"api_base"`
	Secret            string `yaml:"secret" json:"-"`
	DefaultSource     string `yaml:"default_source" json:"default_source"`
	FallbackUserAgent string `yaml:"fallback_user_agent" json:"fallback_user_agent"`
}

// HostPattern is one audio-host allow-list entry. Match is "subdomain"
// (exact host or dot-anchored suffix) or "contains" (hostname substring).
type HostPattern struct {
	Pattern   string `yaml:"pattern" json:"pattern"`
	Match     string `yaml:"match" json:"match"`
	ForceHTTP bool   `yaml:"force_http" json:"force_http"`
	Referer   string `yaml:"referer" json:"referer,omitempty"`
}

// DefaultAudioHosts is the built-in allow-list, used when the config file
// names none. The kugou family is dot-anchored and forced to plain http
// (its CDN does not reliably serve TLS); the qq family needs a referrer
// or rejects hotlinked requests.
func DefaultAudioHosts() []HostPattern {
	return []HostPattern{
		{Pattern: "kugou.com", Match: "subdomain", ForceHTTP: true},
		{Pattern: "qq.com", Match: "contains", Referer: "https://y.qq.com/"},
		{Pattern: "126.net", Match: "contains"},
		{Pattern: "kuwo.cn", Match: "contains"},
		{Pattern: "migu.cn", Match: "contains"},
	}
}

// TargetPatterns converts the configured allow-list into validator patterns.
func (c *Config) TargetPatterns() []target.Pattern {
	return ToTargetPatterns(c.AudioHosts)
}

// ToTargetPatterns converts host patterns into validator patterns.
func ToTargetPatterns(hosts []HostPattern) []target.Pattern {
	out := make([]target.Pattern, len(hosts))
	for i, h := range hosts {
		out[i] = target.Pattern{
			Kind:      target.Kind(h.Match),
			Value:     h.Pattern,
			ForceHTTP: h.ForceHTTP,
			Referer:   h.Referer,
		}
	}
	return out
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. An empty input
// yields the all-defaults configuration, so the gateway runs without a
// config file at all.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	// WriteTimeout intentionally left at 0 (disabled) unless set.
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 25
	}

	if cfg.Upstream.APIBase == "" {
		cfg.Upstream.APIBase = "https://api.injahow.cn/meting/api"
	}
	if cfg.Upstream.Secret == "" {
		cfg.Upstream.Secret = DefaultSecret
	}
	if cfg.Upstream.DefaultSource == "" {
		cfg.Upstream.DefaultSource = "netease"
	}
	if cfg.Upstream.FallbackUserAgent == "" {
		cfg.Upstream.FallbackUserAgent = DefaultFallbackUserAgent
	}

	if len(cfg.AudioHosts) == 0 {
		cfg.AudioHosts = DefaultAudioHosts()
	}
	for i := range cfg.AudioHosts {
		if cfg.AudioHosts[i].Match == "" {
			cfg.AudioHosts[i].Match = string(target.KindContains)
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout < 0 {
		return fmt.Errorf("server.write_timeout must be non-negative")
	}
	for i, cidr := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies[%d]: invalid CIDR %q: %w", i, cidr, err)
		}
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	u, err := url.Parse(cfg.Upstream.APIBase)
	if err != nil {
		return fmt.Errorf("upstream.api_base: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.api_base: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.api_base: host is required")
	}
	if cfg.Upstream.DefaultSource == "" {
		return fmt.Errorf("upstream.default_source is required")
	}

	seen := make(map[string]bool)
	for i, h := range cfg.AudioHosts {
		if h.Pattern == "" {
			return fmt.Errorf("audio_hosts[%d].pattern is required", i)
		}
		if h.Match != string(target.KindSubdomain) && h.Match != string(target.KindContains) {
			return fmt.Errorf("audio_hosts[%d].match must be %q or %q, got %q",
				i, target.KindSubdomain, target.KindContains, h.Match)
		}
		if h.Referer != "" {
			ru, err := url.Parse(h.Referer)
			if err != nil || !ru.IsAbs() {
				return fmt.Errorf("audio_hosts[%d].referer must be an absolute URL, got %q", i, h.Referer)
			}
		}
		key := h.Match + ":" + h.Pattern
		if seen[key] {
			return fmt.Errorf("duplicate audio_hosts pattern: %s", h.Pattern)
		}
		seen[key] = true
	}

	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Upstream.Secret == DefaultSecret {
		warnings = append(warnings, "upstream.secret is the built-in default; set it (e.g. via ${TUNEGATE_SECRET}) before exposing the gateway")
	}
	if containsUnresolvedEnv(cfg.Upstream.Secret) {
		warnings = append(warnings, "upstream.secret contains unresolved environment variable")
	}
	if cfg.Auth.Enabled && containsUnresolvedEnv(cfg.Auth.JWTSecret) {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	return warnings
}

func containsUnresolvedEnv(s string) bool {
	return envVarRe.MatchString(s)
}
