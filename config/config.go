// Package config loads the jobsys configuration from a file and the environment.
package config

import (
	"strings"

	"github.com/Deepreo/jobsys/errors"
	"github.com/Deepreo/jobsys/modules/auth"
	"github.com/Deepreo/jobsys/modules/jobsystem"
	"github.com/Deepreo/jobsys/modules/logging"
	"github.com/Deepreo/jobsys/modules/scheduler"
	"github.com/Deepreo/jobsys/modules/servers"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JOBSYS_JOBSYSTEM_THREAD_COUNT.
const EnvPrefix = "JOBSYS"

type Config struct {
	JobSystem jobsystem.Params          `mapstructure:"jobsystem"`
	Frame     scheduler.Config          `mapstructure:"frame"`
	Log       logging.Config            `mapstructure:"log"`
	Debug     servers.DebugServerConfig `mapstructure:"debug"`
	Tracing   Tracing                   `mapstructure:"tracing"`
}

// Tracing wraps every job process function in an OpenTelemetry span when enabled.
type Tracing struct {
	Enabled    bool   `mapstructure:"enabled"`
	TracerName string `mapstructure:"tracer_name"`
}

func setDefaults(v *viper.Viper) {
	d := jobsystem.DefaultParams()
	v.SetDefault("jobsystem.thread_name_prefix", d.ThreadNamePrefix)
	v.SetDefault("jobsystem.thread_count", d.ThreadCount)
	v.SetDefault("jobsystem.initial_capacity", d.InitialCapacity)
	v.SetDefault("jobsystem.max_capacity", d.MaxCapacity)
	v.SetDefault("jobsystem.grow_by", d.GrowBy)
	v.SetDefault("jobsystem.queue_order", d.QueueOrder)

	v.SetDefault("frame.interval", scheduler.DefaultInterval)
	v.SetDefault("frame.budget", scheduler.DefaultBudget)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)
	v.SetDefault("log.add_source", false)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.host", servers.DefaultHost)
	v.SetDefault("debug.port", servers.DefaultPort)
	v.SetDefault("debug.read_timeout", servers.DefaultReadTimeout.String())
	v.SetDefault("debug.write_timeout", servers.DefaultWriteTimeout.String())
	v.SetDefault("debug.server_header", servers.DefaultServerHeader)
	v.SetDefault("debug.allowed_origins", servers.DefaultAllowedOrigins)
	v.SetDefault("debug.features.request_id.enabled", true)
	v.SetDefault("debug.features.health_check.enabled", true)
	v.SetDefault("debug.features.etag.enabled", false)
	v.SetDefault("debug.features.elastic_apm.enabled", false)
	v.SetDefault("debug.features.rate_limit.enabled", false)
	v.SetDefault("debug.features.rate_limit.max", 100)
	v.SetDefault("debug.features.rate_limit.expiration", "1m")
	v.SetDefault("debug.features.metrics.enabled", true)
	v.SetDefault("debug.features.metrics.path", servers.DefaultMetricsPath)
	v.SetDefault("debug.auth.enabled", false)
	v.SetDefault("debug.auth.secret_key", "")
	v.SetDefault("debug.auth.issuer", auth.DefaultIssuer)
	v.SetDefault("debug.auth.token_ttl", auth.DefaultTokenTTL)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.tracer_name", "jobsys")
}

// Load reads path, which may be empty, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.InfraError(err).WithCode("CONFIG_READ").WithMetadata("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ValidationError(err).WithCode("CONFIG_DECODE")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.JobSystem.Validate(); err != nil {
		return err
	}
	if err := c.Frame.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.Debug.Validate()
}
