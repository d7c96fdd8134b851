package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "QUEUEPULSE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "queuepulse.db"
	defaultLogLevel     = "info"
	defaultServerURL    = "http://127.0.0.1:8080"
)

// AppConfig captures runtime configuration for the API server and the staff agent.
type AppConfig struct {
	HTTPAddress   string
	ServerURL     string
	DatabasePath  string
	LogLevel      string
	SigningSecret string

	// Socket tunables. Reconnect parameters and the notification dedupe
	// window are configuration, not constants.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	JoinSettleDelay      time.Duration

	DedupeWindow     time.Duration
	DilationDuration time.Duration

	LookupTimeout time.Duration
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
	configViper.SetDefault("server.url", defaultServerURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("socket.reconnect_base_delay", "1s")
	configViper.SetDefault("socket.reconnect_max_delay", "30s")
	configViper.SetDefault("socket.reconnect_max_attempts", 8)
	configViper.SetDefault("socket.join_settle_delay", "250ms")

	configViper.SetDefault("notify.dedupe_window", "5s")
	configViper.SetDefault("timers.dilation_duration", "10m")

	configViper.SetDefault("lookup.timeout", "5s")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		ServerURL:            configViper.GetString("server.url"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		ReconnectBaseDelay:   configViper.GetDuration("socket.reconnect_base_delay"),
		ReconnectMaxDelay:    configViper.GetDuration("socket.reconnect_max_delay"),
		ReconnectMaxAttempts: configViper.GetInt("socket.reconnect_max_attempts"),
		JoinSettleDelay:      configViper.GetDuration("socket.join_settle_delay"),
		DedupeWindow:         configViper.GetDuration("notify.dedupe_window"),
		DilationDuration:     configViper.GetDuration("timers.dilation_duration"),
		LookupTimeout:        configViper.GetDuration("lookup.timeout"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("socket reconnect delays are invalid")
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("socket.reconnect_max_attempts must be positive")
	}
	if c.DedupeWindow <= 0 {
		return fmt.Errorf("notify.dedupe_window must be positive")
	}
	return nil
}
