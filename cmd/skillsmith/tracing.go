package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/telemetry"
	"github.com/jingkaihe/skillsmith/pkg/version"
)

var tracer = telemetry.Tracer("skillsmith.cli")

// sensitiveFlags are never recorded as span attributes.
var sensitiveFlags = map[string]bool{"api-key": true, "token": true, "password": true}

// withTracing initialises the tracer provider around cmd and runs it in a
// span. The provider is flushed when the command returns.
func withTracing(cmd *cobra.Command) *cobra.Command {
	originalRunE := cmd.RunE

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tcfg := cfg.Tracing
		tcfg.ServiceName = telemetry.ServiceName
		tcfg.ServiceVersion = version.Get().Version
		shutdown, err := telemetry.InitTracer(ctx, tcfg)
		if err != nil {
			return errors.Wrap(err, "failed to initialise tracing")
		}
		defer func() {
			if err := shutdown(ctx); err != nil {
				logger.G(ctx).WithError(err).Warn("failed to flush traces")
			}
		}()

		attrs := []attribute.KeyValue{
			attribute.String("command.name", cmd.Name()),
			attribute.String("command.path", cmd.CommandPath()),
			attribute.Int("args.count", len(args)),
		}
		cmd.Flags().Visit(func(flag *pflag.Flag) {
			if !sensitiveFlags[flag.Name] {
				attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
			}
		})

		ctx, span := tracer.Start(ctx, "cli.command", trace.WithAttributes(attrs...))
		defer span.End()
		cmd.SetContext(ctx)

		if err := originalRunE(cmd, args); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	return cmd
}

func init() {
	rootCmd.PersistentFlags().Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	rootCmd.PersistentFlags().String("tracing-sampler", "always", "Tracing sampler type (always, never, ratio)")
	rootCmd.PersistentFlags().Float64("tracing-ratio", 1, "Sampling ratio when using ratio sampler")
}

func bindTracingFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for flag, key := range map[string]string{
		"tracing-enabled": "tracing.enabled",
		"tracing-sampler": "tracing.sampler",
		"tracing-ratio":   "tracing.ratio",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}
}
