package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Storage   StorageConfig   `mapstructure:"storage"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

type SchedulerConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	GatingDelay        time.Duration `mapstructure:"gating_delay"`
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	QueueSize          int           `mapstructure:"queue_size"`
	DispatchTimeout    time.Duration `mapstructure:"dispatch_timeout"`
	DefaultMaxRetries  int           `mapstructure:"default_max_retries"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
}

type CleanupConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig configures the optional event sink. An empty URL disables it.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from the given directory, applying defaults for
// every knob. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetDefault("app.name", "taskforge")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("scheduler.poll_interval", time.Second)
	v.SetDefault("scheduler.gating_delay", 10*time.Second)
	v.SetDefault("scheduler.max_concurrent_tasks", 4)
	v.SetDefault("scheduler.queue_size", 16)
	v.SetDefault("scheduler.dispatch_timeout", 5*time.Second)
	v.SetDefault("scheduler.default_max_retries", 3)
	v.SetDefault("scheduler.default_timeout", time.Minute)
	v.SetDefault("scheduler.retry_base_delay", time.Second)
	v.SetDefault("scheduler.retry_max_delay", 5*time.Minute)

	v.SetDefault("cleanup.interval", time.Hour)
	v.SetDefault("cleanup.retention", 7*24*time.Hour)

	v.SetDefault("storage.path", "taskforge.db")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("monitor.interval", 30*time.Second)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
