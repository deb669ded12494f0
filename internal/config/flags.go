package config

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lanburn",
		Short:         "Concurrent traffic generator for local and private-network targets",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Target flags
	flags.String("target", "", "Target host or IP address")
	flags.IntP("port", "p", 0, "Target port (1-65535)")
	flags.String("protocol", string(ProtocolUDP), "Protocol: 'udp', 'tcp', 'http', 'slow', or 'ws'")

	// Load control flags
	flags.IntP("concurrency", "c", DefaultConcurrency, "Number of concurrent workers")
	flags.IntP("rate", "r", 0, "Operations per second limit (0 means unlimited)")
	flags.DurationP("duration", "d", DefaultDuration, "How long to run (e.g. 30s, 1m)")
	flags.Int64P("total", "t", 0, "Total operation cap (0 means unlimited)")
	flags.Duration("timeout", DefaultTimeout, "Per-attempt connect/request timeout")
	flags.Duration("graceful-shutdown", DefaultGracePeriod, "Max time to wait for workers to drain on stop")

	// Payload flags
	flags.Int("payload-size", DefaultPayloadSize, "Payload size in bytes")
	flags.Int("buffer-count", DefaultBufferCount, "Number of pre-generated payload buffers")

	// Slow-connection flags
	flags.Int("slow-connections", DefaultSlowConnections, "Held connections per worker in slow mode")
	flags.Duration("slow-interval", DefaultSlowInterval, "Keep-alive interval in slow mode")

	// Safety flags
	flags.Bool("allow-public", false, "Permit globally routable targets (authorized testing only)")
	flags.Int("max-concurrency", DefaultMaxConcurrency, "Ceiling on requested concurrency")
	flags.Duration("max-duration", DefaultMaxDuration, "Ceiling on requested duration")

	// Output flags
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.Bool("json-output", false, "Emit the final report as JSON")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, or error")
	flags.String("lock-file", "", "Path to an instance lock file (empty disables locking)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.Bool("otel-enabled", false, "Enable OpenTelemetry tracing")
	flags.String("otel-endpoint", "", "OTLP exporter endpoint")
	flags.String("otel-protocol", "grpc", "OTLP exporter protocol: 'grpc' or 'http'")
	flags.Bool("otel-insecure", false, "Disable TLS for the OTLP exporter")
	flags.String("otel-service-name", "lanburn", "Service name reported on traces")
}

// durationFlag reads a duration flag, used by the override pass.
func durationFlag(flags *pflag.FlagSet, name string) time.Duration {
	d, _ := flags.GetDuration(name)
	return d
}
