// Package config loads the CLI configuration from a YAML file and LUCID_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	Production  = "production"
	Development = "development"

	EnvPrefix     = "LUCID"
	EnvConfigFile = "LUCID_CONFIG_FILE"

	defaultRelayURL       = "https://api.lucid.sh"
	defaultAppLink        = "lucid://"
	defaultRelayTimeout   = 30 * time.Second
	defaultTokenTimeout   = 10 * time.Second
	defaultKeyTimeout     = 10 * time.Second
	defaultNetworkTimeout = 30 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultPollCeiling    = 60 * time.Second
	defaultDevServerAddr  = "127.0.0.1:8787"
	defaultLogLevel       = "info"
	defaultNATSSubject    = "lucid.background"
)

type Config struct {
	Environment string `mapstructure:"environment"`

	Log         LogConfig         `mapstructure:"log"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Storage     StorageConfig     `mapstructure:"storage"`
	NATS        NATSConfig        `mapstructure:"nats"`
	RPC         RPCConfig         `mapstructure:"rpc"`
	Interceptor InterceptorConfig `mapstructure:"interceptor"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	DevServer   DevServerConfig   `mapstructure:"devserver"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type RelayConfig struct {
	URL            string        `mapstructure:"url"`
	AppLink        string        `mapstructure:"app_link"`
	Timeout        time.Duration `mapstructure:"timeout"`
	TokenTimeout   time.Duration `mapstructure:"token_timeout"`
	KeyTimeout     time.Duration `mapstructure:"key_timeout"`
	NetworkTimeout time.Duration `mapstructure:"network_timeout"`
}

type StorageConfig struct {
	Path          string `mapstructure:"path"`
	EncryptionKey string `mapstructure:"encryption_key"`
	InMemory      bool   `mapstructure:"in_memory"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	PageID  string `mapstructure:"page_id"`
}

type RPCConfig struct {
	URL string `mapstructure:"url"`
}

type InterceptorConfig struct {
	Slots        []string      `mapstructure:"slots"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollCeiling  time.Duration `mapstructure:"poll_ceiling"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type DevServerConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DefaultStoragePath is where the session store lives when none is configured
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".lucid", "store")
	}
	return filepath.Join(home, ".lucid", "store")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", Production)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.pretty", false)
	v.SetDefault("relay.url", defaultRelayURL)
	v.SetDefault("relay.app_link", defaultAppLink)
	v.SetDefault("relay.timeout", defaultRelayTimeout)
	v.SetDefault("relay.token_timeout", defaultTokenTimeout)
	v.SetDefault("relay.key_timeout", defaultKeyTimeout)
	v.SetDefault("relay.network_timeout", defaultNetworkTimeout)
	v.SetDefault("storage.path", DefaultStoragePath())
	v.SetDefault("storage.encryption_key", "")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", defaultNATSSubject)
	v.SetDefault("nats.page_id", "")
	v.SetDefault("rpc.url", "")
	v.SetDefault("interceptor.slots", []string{})
	v.SetDefault("interceptor.poll_interval", defaultPollInterval)
	v.SetDefault("interceptor.poll_ceiling", defaultPollCeiling)
	v.SetDefault("interceptor.cooldown", time.Duration(0))
	v.SetDefault("metrics.addr", "")
	v.SetDefault("devserver.addr", defaultDevServerAddr)
	v.SetDefault("devserver.jwt_secret", "")
	return v
}

// Load reads the configuration. An explicit path, or LUCID_CONFIG_FILE,
// must exist; otherwise lucid.yaml is looked up in the working directory
// and in ~/.lucid and is optional.
func Load(path string) (*Config, error) {
	v := newViper()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lucid")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lucid/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("viper read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the components would reject
func (c *Config) Validate() error {
	validEnvironments := []string{Production, Development}
	if !slices.Contains(validEnvironments, c.Environment) {
		return fmt.Errorf("invalid environment '%s'. Must be one of: %s", c.Environment, strings.Join(validEnvironments, ", "))
	}

	if err := absoluteURL("relay.url", c.Relay.URL); err != nil {
		return err
	}
	if c.RPC.URL != "" {
		if err := absoluteURL("rpc.url", c.RPC.URL); err != nil {
			return err
		}
	}

	for name, d := range map[string]time.Duration{
		"relay.timeout":             c.Relay.Timeout,
		"relay.token_timeout":       c.Relay.TokenTimeout,
		"relay.key_timeout":         c.Relay.KeyTimeout,
		"relay.network_timeout":     c.Relay.NetworkTimeout,
		"interceptor.poll_interval": c.Interceptor.PollInterval,
		"interceptor.poll_ceiling":  c.Interceptor.PollCeiling,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Interceptor.Cooldown < 0 {
		return fmt.Errorf("interceptor.cooldown must not be negative")
	}
	if c.Interceptor.PollCeiling < c.Interceptor.PollInterval {
		return fmt.Errorf("interceptor.poll_ceiling (%s) is shorter than poll_interval (%s)",
			c.Interceptor.PollCeiling, c.Interceptor.PollInterval)
	}

	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	switch len(c.Storage.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("storage.encryption_key must be 16, 24 or 32 bytes, got %d", len(c.Storage.EncryptionKey))
	}

	if c.Environment == Production && c.DevServer.JWTSecret != "" && len(c.DevServer.JWTSecret) < 32 {
		return fmt.Errorf("devserver.jwt_secret must be at least 32 bytes in production")
	}
	return nil
}

func absoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}
