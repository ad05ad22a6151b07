package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/mgrandl/pacer/internal/config"
)

func TestLoad_ReadsAllKeys(t *testing.T) {
	v := viper.New()
	v.Set("log_level", "debug")
	v.Set("metrics_addr", ":9999")
	v.Set("otel_endpoint", "localhost:4318")
	v.Set("scheduler.max_concurrent_tasks", 4)
	v.Set("scheduler.max_task_execution", "90s")
	v.Set("http.max_concurrent", 12)
	v.Set("http.poll_interval", "25ms")
	v.Set("http.max_retries", 5)
	v.Set("http.retry_delay", "250ms")
	v.Set("http.retry_on_status", []int{500, 503})

	cfg := config.Load(v)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
	assert.Equal(t, "localhost:4318", cfg.OTelEndpoint)
	assert.Equal(t, 4, cfg.MaxConcurrentTasks)
	assert.Equal(t, 90*time.Second, cfg.MaxTaskExecution)
	assert.Equal(t, 12, cfg.HTTPMaxConcurrent)
	assert.Equal(t, 25*time.Millisecond, cfg.HTTPPollInterval)
	assert.Equal(t, 5, cfg.HTTPMaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.HTTPRetryDelay)
	assert.Equal(t, []int{500, 503}, cfg.HTTPRetryOnStatus)
}

func TestConfig_SchedulerMapping(t *testing.T) {
	cfg := config.Config{MaxConcurrentTasks: 3, MaxTaskExecution: time.Minute}

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 3, sc.MaxConcurrentTasks)
	assert.Equal(t, time.Minute, sc.MaxTaskExecution)
}

func TestConfig_FetchMapping(t *testing.T) {
	cfg := config.Config{
		HTTPMaxConcurrent: 7,
		HTTPPollInterval:  20 * time.Millisecond,
		HTTPMaxRetries:    2,
		HTTPRetryDelay:    time.Second,
		HTTPRetryOnStatus: []int{429},
	}

	fc := cfg.FetchConfig()
	assert.Equal(t, 7, fc.MaxConcurrent)
	assert.Equal(t, 20*time.Millisecond, fc.PollInterval)
	assert.Equal(t, 2, fc.MaxRetries)
	assert.Equal(t, time.Second, fc.RetryDelay)
	assert.Equal(t, []int{429}, fc.RetryOnStatus)
}

func TestConfig_FetchDefaultsWhenUnset(t *testing.T) {
	fc := config.Config{}.FetchConfig()

	assert.Equal(t, 10*time.Millisecond, fc.PollInterval)
	assert.ElementsMatch(t, []int{429, 500, 502, 503, 504}, fc.RetryOnStatus)
	assert.Zero(t, fc.MaxConcurrent)
	assert.Zero(t, fc.MaxRetries)
}
