// Package config loads the bridge configuration from YAML with REVA_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/reva/bridge/internal/resource"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Review  ReviewConfig  `yaml:"review"`
	Broker  BrokerConfig  `yaml:"broker"`
	Limits  LimitsConfig  `yaml:"limits"`
	Program ProgramConfig `yaml:"program"`
	Events  EventsConfig  `yaml:"events"`
	Journal JournalConfig `yaml:"journal"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type ReviewConfig struct {
	TokenHash          string   `yaml:"token_hash"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
}

type BrokerConfig struct {
	RejectOnDisconnect bool   `yaml:"reject_on_disconnect"`
	DisconnectReason   string `yaml:"disconnect_reason"`
}

type LimitsConfig struct {
	MaxCommentLength int `yaml:"max_comment_length"`
	MaxSymbolLength  int `yaml:"max_symbol_length"`
}

// ProgramConfig describes the in-memory program image served when no host
// is attached. Symbol addresses are hex strings.
type ProgramConfig struct {
	Name    string            `yaml:"name"`
	Symbols map[string]string `yaml:"symbols"`
	Blocks  []resource.Block  `yaml:"blocks"`
}

type EventsConfig struct {
	Backend string       `yaml:"backend"` // local, redis or pubsub
	Redis   RedisConfig  `yaml:"redis"`
	PubSub  PubSubConfig `yaml:"pubsub"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

type JournalConfig struct {
	Backend string `yaml:"backend"` // memory or postgres
	DSN     string `yaml:"dsn"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCAddr: ":50051",
			HTTPAddr: ":8080",
			Env:      "development",
			LogLevel: "info",
		},
		Review: ReviewConfig{
			RateLimitPerMinute: 120,
		},
		Broker: BrokerConfig{
			RejectOnDisconnect: true,
			DisconnectReason:   "caller disconnected",
		},
		Limits: LimitsConfig{
			MaxCommentLength: 4096,
			MaxSymbolLength:  256,
		},
		Program: ProgramConfig{
			Name:    "program",
			Symbols: map[string]string{},
		},
		Events: EventsConfig{
			Backend: "local",
			Redis:   RedisConfig{Addr: "localhost:6379", Channel: "reva:actions"},
			PubSub:  PubSubConfig{TopicID: "reva-actions"},
		},
		Journal: JournalConfig{
			Backend: "memory",
		},
	}
}

// LoadConfig reads path over the defaults. An empty path yields the
// defaults. Environment overrides are applied by the caller with ApplyEnv.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from REVA_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	str("REVA_GRPC_ADDR", &c.Server.GRPCAddr)
	str("REVA_HTTP_ADDR", &c.Server.HTTPAddr)
	str("REVA_ENV", &c.Server.Env)
	str("REVA_LOG_LEVEL", &c.Server.LogLevel)
	str("REVA_REVIEW_TOKEN_HASH", &c.Review.TokenHash)
	if v := getenv("REVA_ALLOWED_ORIGINS"); v != "" {
		c.Review.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Review.AllowedOrigins = append(c.Review.AllowedOrigins, o)
			}
		}
	}
	if v := getenv("REVA_REJECT_ON_DISCONNECT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REVA_REJECT_ON_DISCONNECT: %w", err)
		}
		c.Broker.RejectOnDisconnect = b
	}
	str("REVA_EVENTS_BACKEND", &c.Events.Backend)
	str("REVA_REDIS_ADDR", &c.Events.Redis.Addr)
	str("REVA_REDIS_PASSWORD", &c.Events.Redis.Password)
	str("REVA_PUBSUB_PROJECT", &c.Events.PubSub.ProjectID)
	str("REVA_PUBSUB_TOPIC", &c.Events.PubSub.TopicID)
	str("REVA_JOURNAL_BACKEND", &c.Journal.Backend)
	str("REVA_JOURNAL_DSN", &c.Journal.DSN)

	for key, dst := range map[string]*int{
		"REVA_REDIS_DB":           &c.Events.Redis.DB,
		"REVA_MAX_COMMENT_LENGTH": &c.Limits.MaxCommentLength,
		"REVA_MAX_SYMBOL_LENGTH":  &c.Limits.MaxSymbolLength,
		"REVA_REVIEW_RATE_LIMIT":  &c.Review.RateLimitPerMinute,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return c.Validate()
}

// Validate checks enumerations and the program image.
func (c *Config) Validate() error {
	switch c.Events.Backend {
	case "local", "redis", "pubsub":
	default:
		return fmt.Errorf("events.backend: unknown backend %q", c.Events.Backend)
	}
	switch c.Journal.Backend {
	case "memory":
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("journal.backend: unknown backend %q", c.Journal.Backend)
	}
	if c.Events.Backend == "pubsub" && c.Events.PubSub.ProjectID == "" {
		return fmt.Errorf("events.pubsub.project_id is required for the pubsub backend")
	}
	if c.Limits.MaxCommentLength <= 0 || c.Limits.MaxSymbolLength <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	if _, err := c.Program.SymbolTable(); err != nil {
		return err
	}
	return nil
}

// SymbolTable parses the configured symbol addresses.
func (p ProgramConfig) SymbolTable() (map[string]uint64, error) {
	names := make([]string, 0, len(p.Symbols))
	for name := range p.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]uint64, len(p.Symbols))
	for _, name := range names {
		addr, ok := resource.ParseAddress(p.Symbols[name])
		if !ok {
			return nil, fmt.Errorf("program.symbols.%s: invalid address %q", name, p.Symbols[name])
		}
		out[name] = addr
	}
	return out, nil
}

// NewProgram builds the in-memory program described by p.
func (p ProgramConfig) NewProgram() (*resource.MemoryProgram, error) {
	symbols, err := p.SymbolTable()
	if err != nil {
		return nil, err
	}
	return resource.NewMemoryProgram(p.Name, symbols, p.Blocks...), nil
}
