// Package config loads service configuration from files, environment and flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/runstore"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. LAYERINFER_LEDGER_PACKAGE_ID.
const EnvPrefix = "LAYERINFER"

// Config is the complete service configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	ModelCache ModelCacheConfig `mapstructure:"model_cache"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Store      runstore.Config  `mapstructure:"store"`
	Events     EventsConfig     `mapstructure:"events"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// LedgerConfig points at the chain, the deployed package and the signer.
type LedgerConfig struct {
	Network       string        `mapstructure:"network" validate:"oneof=mainnet testnet devnet localnet"`
	RPCURL        string        `mapstructure:"rpc_url" validate:"required,url"`
	GraphQLURL    string        `mapstructure:"graphql_url" validate:"required,url"`
	PackageID     string        `mapstructure:"package_id" validate:"required,startswith=0x,hexadecimal"`
	ModuleName    string        `mapstructure:"module_name" validate:"required"`
	GasBudget     uint64        `mapstructure:"gas_budget" validate:"gt=0"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	SignerURL     string        `mapstructure:"signer_url" validate:"omitempty,url"`
	SignerTimeout time.Duration `mapstructure:"signer_timeout"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
}

type InferenceConfig struct {
	ChainDelay  time.Duration `mapstructure:"chain_delay" validate:"gte=0"`
	DefaultMode string        `mapstructure:"default_mode" validate:"oneof=single batched optimized"`
	MaxSessions int           `mapstructure:"max_sessions" validate:"gte=0"`
}

type ModelCacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity uint64        `mapstructure:"capacity"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EventsConfig enables lifecycle event backends. Empty values disable a backend.
type EventsConfig struct {
	KafkaBrokers   []string      `mapstructure:"kafka_brokers"`
	KafkaTopic     string        `mapstructure:"kafka_topic"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	WebhookURL     string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

// RateLimitConfig throttles run submissions per client through Redis. An empty address
// disables it.
type RateLimitConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	Window        time.Duration `mapstructure:"window" validate:"gt=0"`
	RunsPerWindow int           `mapstructure:"runs_per_window" validate:"gt=0"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// networkEndpoints are the public endpoints used when only a network name is configured.
var networkEndpoints = map[string][2]string{
	"mainnet":  {"https://fullnode.mainnet.sui.io:443", "https://sui-mainnet.mystenlabs.com/graphql"},
	"testnet":  {"https://fullnode.testnet.sui.io:443", "https://sui-testnet.mystenlabs.com/graphql"},
	"devnet":   {"https://fullnode.devnet.sui.io:443", "https://sui-devnet.mystenlabs.com/graphql"},
	"localnet": {"http://127.0.0.1:9000", "http://127.0.0.1:9125/graphql"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ledger.network", "testnet")
	v.SetDefault("ledger.rpc_url", "")
	v.SetDefault("ledger.graphql_url", "")
	v.SetDefault("ledger.package_id", "")
	v.SetDefault("ledger.module_name", "model")
	v.SetDefault("ledger.gas_budget", uint64(3_000_000_000))
	v.SetDefault("ledger.poll_interval", time.Second)
	v.SetDefault("ledger.signer_url", "http://127.0.0.1:8787/sign")
	v.SetDefault("ledger.signer_timeout", 2*time.Minute)
	v.SetDefault("ledger.query_timeout", 15*time.Second)

	v.SetDefault("inference.chain_delay", 500*time.Millisecond)
	v.SetDefault("inference.default_mode", "single")
	v.SetDefault("inference.max_sessions", 1000)

	v.SetDefault("model_cache.ttl", 30*time.Second)
	v.SetDefault("model_cache.capacity", uint64(1024))

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "layerinfer.db")
	v.SetDefault("store.max_open_conns", 20)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", time.Hour)

	v.SetDefault("events.kafka_brokers", []string{})
	v.SetDefault("events.kafka_topic", "layerinfer.runs")
	v.SetDefault("events.redis_addr", "")
	v.SetDefault("events.webhook_url", "")
	v.SetDefault("events.webhook_timeout", 10*time.Second)

	v.SetDefault("rate_limit.redis_addr", "")
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.runs_per_window", 30)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "layerinfer")
}

// Loader reads configuration and can watch the config file for changes.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
	logger   *zap.Logger

	mu      sync.RWMutex
	current *Config
}

// NewLoader creates a loader with defaults and environment overrides applied.
func NewLoader(logger *zap.Logger) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v, validate: validator.New(), logger: logger}
}

// SetLogger replaces the logger used for load and reload messages, typically once the
// configured logger exists.
func (l *Loader) SetLogger(logger *zap.Logger) {
	l.logger = logger
}

// Viper exposes the underlying viper instance so command flags can be bound to keys.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// DefaultPaths are searched in order when Load is given no explicit file.
var DefaultPaths = []string{"./layerinfer.yaml", "./config/layerinfer.yaml", "/etc/layerinfer/layerinfer.yaml"}

// Load merges paths over the defaults, then validates. Without explicit paths the first
// existing entry of DefaultPaths is used, if any. An explicit path that does not exist is an error.
func (l *Loader) Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		for _, p := range DefaultPaths {
			if _, err := os.Stat(p); err == nil {
				paths = []string{p}
				break
			}
		}
	}

	for _, p := range paths {
		l.v.SetConfigFile(p)
		if err := l.v.MergeInConfig(); err != nil {
			return nil, errors.ConfigInvalid.Explain("failed to load config file %s", p).Wrap(err)
		}
		l.logger.Info("Loaded configuration file", zap.String("path", p))
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigInvalid.Explain("failed to decode configuration").Wrap(err)
	}
	applyNetwork(&cfg.Ledger)
	if err := l.validate.Struct(&cfg); err != nil {
		return nil, validationError(err)
	}
	return &cfg, nil
}

// applyNetwork fills endpoints left empty from the configured network.
func applyNetwork(c *LedgerConfig) {
	ep, ok := networkEndpoints[c.Network]
	if !ok {
		return
	}
	if c.RPCURL == "" {
		c.RPCURL = ep[0]
	}
	if c.GraphQLURL == "" {
		c.GraphQLURL = ep[1]
	}
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.ConfigInvalid.Explain("invalid configuration").Wrap(err)
	}
	e := errors.ConfigInvalid.Explain("invalid configuration: %d field(s) failed validation", len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		e = e.WithField(errors.KindConfigInvalid, field, fmt.Sprintf("failed on %q", fe.Tag()))
	}
	return e
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch reloads the configuration file when it changes and hands every valid result to
// onChange. Invalid edits are logged and ignored. It does nothing when no file was loaded.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Error("Ignoring invalid configuration change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		l.logger.Info("Configuration reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}
