package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillsmith/pkg/config"
	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/presenter"
)

var (
	// v holds the layered settings: flags over env over config file over defaults.
	v   *viper.Viper
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "skillsmith",
	Short: "Turn long reference documents into routable knowledge skills",
	Long: `Skillsmith ingests long reference documents, splits and classifies them,
enhances every chunk with a generation backend and assembles the result into a
skill directory. Queries are then routed to the skills that can answer them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadConfig(cmd)
	},
}

// bindings maps persistent flags to configuration keys.
var bindings = map[string]string{
	"workspace-dir": "workspace_dir",
	"skills-dir":    "skills_dir",
	"db-path":       "db_path",
	"log-level":     "log_level",
	"log-format":    "log_format",
	"provider":      "backend.provider",
	"model":         "backend.model",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("workspace-dir", "", "Directory for extraction caches, ledgers and enhanced chunks")
	flags.String("skills-dir", "", "Directory holding assembled skills")
	flags.String("db-path", "", "Path of the run registry database")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (fmt or json)")
	flags.String("provider", "", "Generation backend provider (anthropic, openai or google)")
	flags.String("model", "", "Generation backend model")
	flags.BoolP("quiet", "q", false, "Suppress informational output")

	rootCmd.AddCommand(withTracing(ingestCmd))
	rootCmd.AddCommand(withTracing(statusCmd))
	rootCmd.AddCommand(withTracing(routeCmd))
	rootCmd.AddCommand(skillCmd)
	rootCmd.AddCommand(withTracing(serveCmd))
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the configuration for the command being executed.
func loadConfig(cmd *cobra.Command) error {
	var err error
	v, err = config.New()
	if err != nil {
		return err
	}

	root := cmd.Root().PersistentFlags()
	for flag, key := range bindings {
		if f := root.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return errors.Wrapf(err, "failed to bind flag %s", flag)
			}
		}
	}
	bindTracingFlags(v, root)

	cfg, err = config.Load(v)
	if err != nil {
		return err
	}

	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	logger.SetLogFormat(cfg.LogFormat)

	if quiet, _ := root.GetBool("quiet"); quiet {
		presenter.SetQuiet(true)
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		presenter.Error(err, "command failed")
		cancel()
		os.Exit(1)
	}
}
