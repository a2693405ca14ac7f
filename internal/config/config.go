package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "GAMBUSINAS"

	defaultQueuePath        = "gambusinas-queue.db"
	defaultQueueCapacity    = 200
	defaultInitialBackoffMS = 500
	defaultMaxBackoffMS     = 30000
	defaultMaxAttempts      = 10
	defaultPollIntervalS    = 20
	defaultDebounceMS       = 750
	defaultCacheTTLS        = 30
	defaultHTTPTimeoutS     = 10
	defaultDiagAddress      = "127.0.0.1:8790"
	defaultLogLevel         = "info"
)

// AppConfig captures runtime configuration for the sync client.
type AppConfig struct {
	WebsocketURL   string
	RestURL        string
	AuthToken      string
	MozoID         string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	QueuePath      string
	QueueCapacity  int
	PollInterval   time.Duration
	DebounceWindow time.Duration
	CacheTTL       time.Duration
	HTTPTimeout    time.Duration
	DiagAddress    string
	LogLevel       string
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

	configViper.SetDefault("backoff.initial_ms", defaultInitialBackoffMS)
	configViper.SetDefault("backoff.max_ms", defaultMaxBackoffMS)
	configViper.SetDefault("backoff.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("queue.path", defaultQueuePath)
	configViper.SetDefault("queue.capacity", defaultQueueCapacity)
	configViper.SetDefault("sync.poll_interval_s", defaultPollIntervalS)
	configViper.SetDefault("sync.debounce_ms", defaultDebounceMS)
	configViper.SetDefault("sync.cache_ttl_s", defaultCacheTTLS)
	configViper.SetDefault("http.timeout_s", defaultHTTPTimeoutS)
	configViper.SetDefault("diag.address", defaultDiagAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		WebsocketURL:   configViper.GetString("server.ws_url"),
		RestURL:        configViper.GetString("server.rest_url"),
		AuthToken:      configViper.GetString("server.token"),
		MozoID:         configViper.GetString("mozo.id"),
		InitialBackoff: time.Duration(configViper.GetInt("backoff.initial_ms")) * time.Millisecond,
		MaxBackoff:     time.Duration(configViper.GetInt("backoff.max_ms")) * time.Millisecond,
		MaxAttempts:    configViper.GetInt("backoff.max_attempts"),
		QueuePath:      configViper.GetString("queue.path"),
		QueueCapacity:  configViper.GetInt("queue.capacity"),
		PollInterval:   time.Duration(configViper.GetInt("sync.poll_interval_s")) * time.Second,
		DebounceWindow: time.Duration(configViper.GetInt("sync.debounce_ms")) * time.Millisecond,
		CacheTTL:       time.Duration(configViper.GetInt("sync.cache_ttl_s")) * time.Second,
		HTTPTimeout:    time.Duration(configViper.GetInt("http.timeout_s")) * time.Second,
		DiagAddress:    configViper.GetString("diag.address"),
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.WebsocketURL) == "" {
		return fmt.Errorf("server.ws_url is required")
	}
	if strings.TrimSpace(c.RestURL) == "" {
		return fmt.Errorf("server.rest_url is required")
	}
	if strings.TrimSpace(c.QueuePath) == "" {
		return fmt.Errorf("queue.path is required")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("backoff bounds are invalid")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("backoff.max_attempts must be positive")
	}
	return nil
}
