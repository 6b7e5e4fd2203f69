// Package config resolves the bridge's configuration from a TOML file (the
// plugin-config object, in the host's terms) overlaid with environment
// variables, the way the host's own config package layers CONFIG_PATH
// defaults under env overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultRedisURL                 = "redis://localhost:6379"
	DefaultTimeoutSeconds            = 120
	DefaultConsumerGroup             = "clawdbot-bridge"
	DefaultRateLimitGlobalPerHour    = 60
	DefaultRateLimitAgentPerHour     = 20
	DefaultRateLimitAlertCooldownSec = 300
	DefaultBreakerThreshold          = 5
	DefaultBreakerCooldownSeconds    = 15
	DefaultReconnectTimeoutSeconds   = 10

	InboundStream     = "bridge:inbound"
	OutboundStream    = "bridge:outbound"
	ResponseKeyPrefix = "bridge:response:"
	ProtocolVersion   = "1"
)

// Config is the full set of tunables the bridge reads at startup. Struct
// tags drive both TOML decoding and field-level validation.
type Config struct {
	Agents        []string `toml:"agents" validate:"omitempty,dive,required"`
	RedisURL      string   `toml:"redis_url" validate:"required"`
	TimeoutSeconds int     `toml:"timeout_seconds" validate:"required,gt=0"`

	ConsumerGroup string `toml:"consumer_group" validate:"required"`
	ConsumerName  string `toml:"consumer_name"`

	ContentPublisherURL       string `toml:"content_publisher_url"`
	ContentPublisherToken     string `toml:"content_publisher_token"`
	ContentPublisherPublicURL string `toml:"content_publisher_public_url"`

	RateLimitGlobalPerHour   int    `toml:"rate_limit_global_per_hour" validate:"required,gt=0"`
	RateLimitAgentPerHour    int    `toml:"rate_limit_agent_per_hour" validate:"required,gt=0"`
	RateLimitAlertChatID     string `toml:"rate_limit_alert_chat_id"`
	RateLimitAlertCooldownS  int    `toml:"rate_limit_alert_cooldown" validate:"required,gt=0"`

	BreakerThreshold       int `toml:"breaker_threshold" validate:"required,gt=0"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds" validate:"required,gt=0"`

	ReconnectTimeoutSeconds int `toml:"reconnect_timeout_seconds" validate:"required,gt=0"`
}

// Defaults returns a Config populated with every documented default.
func Defaults() Config {
	return Config{
		RedisURL:                DefaultRedisURL,
		TimeoutSeconds:          DefaultTimeoutSeconds,
		ConsumerGroup:           DefaultConsumerGroup,
		ConsumerName:            fmt.Sprintf("clawdbot-%d", os.Getpid()),
		RateLimitGlobalPerHour:  DefaultRateLimitGlobalPerHour,
		RateLimitAgentPerHour:   DefaultRateLimitAgentPerHour,
		RateLimitAlertCooldownS: DefaultRateLimitAlertCooldownSec,
		BreakerThreshold:        DefaultBreakerThreshold,
		BreakerCooldownSeconds:  DefaultBreakerCooldownSeconds,
		ReconnectTimeoutSeconds: DefaultReconnectTimeoutSeconds,
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	ApplyEnvOverrides(&cfg)
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides mutates cfg in place with any of the documented
// REDIS_BRIDGE_* / REDIS_URL / RATE_LIMIT_* / CONTENT_PUBLISHER_* env vars
// that are set, matching the env-overrides-plugin-config contract.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("REDIS_BRIDGE_AGENTS")); v != "" {
		cfg.Agents = splitAgents(v)
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v, ok := intEnv("BRIDGE_TIMEOUT_SECONDS"); ok {
		cfg.TimeoutSeconds = v
	}
	if v := strings.TrimSpace(os.Getenv("CONTENT_PUBLISHER_URL")); v != "" {
		cfg.ContentPublisherURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CONTENT_PUBLISHER_TOKEN")); v != "" {
		cfg.ContentPublisherToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CONTENT_PUBLISHER_PUBLIC_URL")); v != "" {
		cfg.ContentPublisherPublicURL = v
	}
	if v, ok := intEnv("RATE_LIMIT_GLOBAL_PER_HOUR"); ok {
		cfg.RateLimitGlobalPerHour = v
	}
	if v, ok := intEnv("RATE_LIMIT_AGENT_PER_HOUR"); ok {
		cfg.RateLimitAgentPerHour = v
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_ALERT_CHAT_ID")); v != "" {
		cfg.RateLimitAlertChatID = v
	}
	if v, ok := intEnv("RATE_LIMIT_ALERT_COOLDOWN"); ok {
		cfg.RateLimitAlertCooldownS = v
	}
}

// FromPluginConfig overlays Config with values from the host's
// plugin-config map (the weaker precedence source; env vars win).
func FromPluginConfig(values map[string]string) Config {
	cfg := Defaults()
	if v, ok := values["agents"]; ok && strings.TrimSpace(v) != "" {
		cfg.Agents = splitAgents(v)
	}
	if v, ok := values["redisUrl"]; ok && strings.TrimSpace(v) != "" {
		cfg.RedisURL = v
	}
	if v, ok := values["timeoutSeconds"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutSeconds = n
		}
	}
	if v, ok := values["consumerGroup"]; ok && strings.TrimSpace(v) != "" {
		cfg.ConsumerGroup = v
	}
	if v, ok := values["consumerName"]; ok && strings.TrimSpace(v) != "" {
		cfg.ConsumerName = v
	}
	ApplyEnvOverrides(&cfg)
	return cfg
}

// Active reports whether any engine agent is configured; an empty agent
// set means the plugin is inactive.
func (c Config) Active() bool {
	return len(c.Agents) > 0
}

// HasAgent reports whether id is a bridged agent.
func (c Config) HasAgent(id string) bool {
	for _, a := range c.Agents {
		if a == id {
			return true
		}
	}
	return false
}

func splitAgents(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
