// Package config loads and validates the exporter configuration: the HTTP
// server, logging, scheduler tuning, global labels and the list of jobs.
// Priority: flags-specified file > defaults > environment variables.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/prometheus/common/model"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Per-job fallbacks, matching the historical exporter behavior.
const (
	DefaultInterval = 600 * time.Second
	DefaultHelp     = "Generic metric HELP"
	DefaultKind     = "gauge"
)

// Config is the root configuration.
type Config struct {
	Server       ServerConfig      `yaml:"server" mapstructure:"server"`
	Log          LogConfig         `yaml:"log" mapstructure:"log"`
	Scheduler    SchedulerConfig   `yaml:"scheduler" mapstructure:"scheduler"`
	GlobalLabels map[string]string `yaml:"global_labels" mapstructure:"global_labels"`
	Jobs         []JobConfig       `yaml:"jobs" mapstructure:"jobs" validate:"required,min=1,dive"`
}

// ServerConfig configures the exposition HTTP server.
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"HTTP_ADDR" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error"`
	Path  string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required"`
}

// SchedulerConfig tunes the dispatch loop.
type SchedulerConfig struct {
	Tick           time.Duration `yaml:"tick" mapstructure:"tick" validate:"gt=0"`
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency" validate:"gt=0"`
	// DefaultTimeout bounds command execution for jobs without their own
	// timeout. Zero disables the bound.
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout" validate:"gte=0"`
}

// JobConfig is one external command to run on its own interval.
type JobConfig struct {
	Name     string            `yaml:"name" mapstructure:"name" validate:"required"`
	Command  []string          `yaml:"command" mapstructure:"command" validate:"required,min=1,dive,required"`
	Interval int               `yaml:"interval" mapstructure:"interval" validate:"gte=0"` // seconds between runs
	Metric   string            `yaml:"metric" mapstructure:"metric" validate:"required"`
	Help     string            `yaml:"help" mapstructure:"help"`
	Type     string            `yaml:"type" mapstructure:"type" validate:"omitempty,oneof=gauge counter"`
	Labels   map[string]string `yaml:"labels" mapstructure:"labels"`
	Timeout  time.Duration     `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
}

// EffectiveInterval returns the run interval with the 600s default applied.
func (j *JobConfig) EffectiveInterval() time.Duration {
	if j.Interval <= 0 {
		return DefaultInterval
	}
	return time.Duration(j.Interval) * time.Second
}

// Load reads the configuration file at path, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigFile("configs/config.yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	setDefaults(v)

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyJobDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyJobDefaults fills per-job fallbacks the validator then checks.
func (c *Config) applyJobDefaults() {
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if j.Help == "" {
			j.Help = DefaultHelp
		}
		if j.Type == "" {
			j.Type = DefaultKind
		}
		if j.Timeout == 0 {
			j.Timeout = c.Scheduler.DefaultTimeout
		}
	}
}

// Validate checks structural constraints plus Prometheus naming rules for
// metrics and labels.
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	if _, err := net.ResolveTCPAddr("tcp", c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr invalid (expected :port or ip:port), got %q: %w", c.Server.Addr, err)
	}
	if err := validateLabelNames("global_labels", c.GlobalLabels); err != nil {
		return err
	}

	seen := make(map[string]string, len(c.Jobs))
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if !model.IsValidLegacyMetricName(j.Metric) {
			return fmt.Errorf("job %q: metric name %q is not valid", j.Name, j.Metric)
		}
		if prev, ok := seen[j.Name]; ok {
			return fmt.Errorf("job name %q used twice (metrics %q and %q)", j.Name, prev, j.Metric)
		}
		seen[j.Name] = j.Metric
		if err := validateLabelNames(fmt.Sprintf("job %q labels", j.Name), j.Labels); err != nil {
			return err
		}
	}
	return nil
}

func validateLabelNames(where string, m map[string]string) error {
	for k := range m {
		if strings.HasPrefix(k, model.ReservedLabelPrefix) {
			return fmt.Errorf("%s: label name %q uses the reserved __ prefix", where, k)
		}
		if !model.LabelName(k).IsValidLegacy() {
			return fmt.Errorf("%s: label name %q is not valid", where, k)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9115")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "./logs")
	v.SetDefault("scheduler.tick", "1s")
	v.SetDefault("scheduler.max_concurrency", 64)
	v.SetDefault("scheduler.default_timeout", "0s")
}
