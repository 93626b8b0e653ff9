package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SPACED"

	defaultHTTPAddress         = "0.0.0.0:8787"
	defaultDatabasePath        = "spaced.db"
	defaultServerDatabasePath  = "spaced-server.db"
	defaultMediaDir            = "media"
	defaultLogLevel            = "info"
	defaultLogMaxSizeMB        = 50
	defaultLogMaxBackups       = 3
	defaultLogMaxAgeDays       = 28
	defaultPushIntervalSeconds = 10
	defaultPullIntervalSeconds = 30
	defaultTokenIssuer         = "spaced-sync"
	defaultTokenAudience       = "spaced-clients"
)

// LogConfig controls level and the optional rotating file sink.
type LogConfig struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ClientConfig captures runtime configuration for the local commands.
type ClientConfig struct {
	DatabasePath        string
	MediaDir            string
	ServerURL           string
	PushIntervalSeconds int
	PullIntervalSeconds int
	Log                 LogConfig
}

// ServerConfig captures runtime configuration for the sync server.
type ServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	Log           LogConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("server.database.path", defaultServerDatabasePath)
	configViper.SetDefault("media.dir", defaultMediaDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	configViper.SetDefault("log.max_backups", defaultLogMaxBackups)
	configViper.SetDefault("log.max_age_days", defaultLogMaxAgeDays)
	configViper.SetDefault("sync.push_interval_s", defaultPushIntervalSeconds)
	configViper.SetDefault("sync.pull_interval_s", defaultPullIntervalSeconds)
	configViper.SetDefault("token.issuer", defaultTokenIssuer)
	configViper.SetDefault("token.audience", defaultTokenAudience)
}

// LoadClient parses local command configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		DatabasePath:        configViper.GetString("database.path"),
		MediaDir:            configViper.GetString("media.dir"),
		ServerURL:           configViper.GetString("sync.server_url"),
		PushIntervalSeconds: configViper.GetInt("sync.push_interval_s"),
		PullIntervalSeconds: configViper.GetInt("sync.pull_interval_s"),
		Log:                 loadLog(configViper),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

// LoadServer parses sync server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("server.database.path"),
		SigningSecret: configViper.GetString("token.signing_secret"),
		TokenIssuer:   configViper.GetString("token.issuer"),
		TokenAudience: configViper.GetString("token.audience"),
		Log:           loadLog(configViper),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

func loadLog(configViper *viper.Viper) LogConfig {
	return LogConfig{
		Level:      configViper.GetString("log.level"),
		FilePath:   configViper.GetString("log.file"),
		MaxSizeMB:  configViper.GetInt("log.max_size_mb"),
		MaxBackups: configViper.GetInt("log.max_backups"),
		MaxAgeDays: configViper.GetInt("log.max_age_days"),
	}
}

func (c ClientConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.MediaDir) == "" {
		return fmt.Errorf("media.dir is required")
	}
	if c.PushIntervalSeconds <= 0 {
		return fmt.Errorf("sync.push_interval_s must be positive")
	}
	if c.PullIntervalSeconds <= 0 {
		return fmt.Errorf("sync.pull_interval_s must be positive")
	}
	return nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("token.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("server.database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	return nil
}
