package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/mgrandl/pacer/pkg/fetch"
	"github.com/mgrandl/pacer/pkg/scheduler"
)

// Config holds typed configuration for the pacer runtime.
type Config struct {
	LogLevel     string
	MetricsAddr  string
	OTelEndpoint string

	MaxConcurrentTasks int
	MaxTaskExecution   time.Duration

	HTTPMaxConcurrent int
	HTTPPollInterval  time.Duration
	HTTPMaxRetries    int
	HTTPRetryDelay    time.Duration
	HTTPRetryOnStatus []int
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:           v.GetString("log_level"),
		MetricsAddr:        v.GetString("metrics_addr"),
		OTelEndpoint:       v.GetString("otel_endpoint"),
		MaxConcurrentTasks: v.GetInt("scheduler.max_concurrent_tasks"),
		MaxTaskExecution:   v.GetDuration("scheduler.max_task_execution"),
		HTTPMaxConcurrent:  v.GetInt("http.max_concurrent"),
		HTTPPollInterval:   v.GetDuration("http.poll_interval"),
		HTTPMaxRetries:     v.GetInt("http.max_retries"),
		HTTPRetryDelay:     v.GetDuration("http.retry_delay"),
		HTTPRetryOnStatus:  v.GetIntSlice("http.retry_on_status"),
	}
}

// SchedulerConfig maps the scheduler section onto scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxConcurrentTasks: c.MaxConcurrentTasks,
		MaxTaskExecution:   c.MaxTaskExecution,
	}
}

// FetchConfig maps the http section onto fetch.Config. Unset values keep the
// fetch defaults.
func (c Config) FetchConfig() fetch.Config {
	cfg := fetch.DefaultConfig()
	cfg.MaxConcurrent = c.HTTPMaxConcurrent
	if c.HTTPPollInterval > 0 {
		cfg.PollInterval = c.HTTPPollInterval
	}
	cfg.MaxRetries = c.HTTPMaxRetries
	cfg.RetryDelay = c.HTTPRetryDelay
	if len(c.HTTPRetryOnStatus) > 0 {
		cfg.RetryOnStatus = c.HTTPRetryOnStatus
	}
	return cfg
}
