package config

import (
	"errors"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and an optional config file to
// produce a Config. Flags override file settings.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			_ = cmd.Usage()
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			_ = cmd.Usage()
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		_ = cmd.Usage()
		return nil, ErrHelpRequested
	}

	cfg := &Config{}
	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := cfgViper.Unmarshal(cfg); err != nil {
			return nil, err
		}
		cfg.ConfigFile = configPath
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.TargetHost = strings.TrimSpace(cfg.TargetHost)
	cfg.Protocol = Protocol(strings.ToLower(string(cfg.Protocol)))
	cfg.Normalize()

	return cfg, nil
}

// applyFlagOverrides copies flag values into cfg. Flags that the user set
// explicitly always win; defaults only fill fields the file left empty.
func applyFlagOverrides(cfg *Config, flags *pflag.FlagSet) error {
	setString := func(name string, dst *string) {
		if flags.Changed(name) || *dst == "" {
			*dst, _ = flags.GetString(name)
		}
	}
	setInt := func(name string, dst *int) {
		if flags.Changed(name) || *dst == 0 {
			*dst, _ = flags.GetInt(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}

	setString("target", &cfg.TargetHost)
	setInt("port", &cfg.TargetPort)
	if flags.Changed("protocol") || cfg.Protocol == "" {
		proto, _ := flags.GetString("protocol")
		cfg.Protocol = Protocol(proto)
	}

	setInt("concurrency", &cfg.Concurrency)
	setInt("rate", &cfg.Rate)
	if flags.Changed("duration") || cfg.Duration == 0 {
		cfg.Duration = durationFlag(flags, "duration")
	}
	if flags.Changed("total") || cfg.MaxOperations == 0 {
		cfg.MaxOperations, _ = flags.GetInt64("total")
	}
	if flags.Changed("timeout") || cfg.Timeout == 0 {
		cfg.Timeout = durationFlag(flags, "timeout")
	}
	if flags.Changed("graceful-shutdown") || cfg.GracePeriod == 0 {
		cfg.GracePeriod = durationFlag(flags, "graceful-shutdown")
	}

	setInt("payload-size", &cfg.PayloadSize)
	setInt("buffer-count", &cfg.BufferCount)
	setInt("slow-connections", &cfg.SlowConnections)
	if flags.Changed("slow-interval") || cfg.SlowInterval == 0 {
		cfg.SlowInterval = durationFlag(flags, "slow-interval")
	}

	setBool("allow-public", &cfg.AllowPublic)
	setInt("max-concurrency", &cfg.MaxConcurrency)
	if flags.Changed("max-duration") || cfg.MaxDuration == 0 {
		cfg.MaxDuration = durationFlag(flags, "max-duration")
	}

	setBool("dashboard", &cfg.Dashboard)
	setBool("json-output", &cfg.JSONOutput)
	setString("log-level", &cfg.LogLevel)
	setString("lock-file", &cfg.LockFile)

	setBool("otel-enabled", &cfg.Tracing.Enabled)
	setString("otel-endpoint", &cfg.Tracing.Endpoint)
	setString("otel-protocol", &cfg.Tracing.Protocol)
	setBool("otel-insecure", &cfg.Tracing.Insecure)
	setString("otel-service-name", &cfg.Tracing.ServiceName)

	return nil
}
