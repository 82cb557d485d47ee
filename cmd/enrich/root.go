package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phrazzld/enrich/internal/config"
	"github.com/phrazzld/enrich/internal/platform/logger"
	"github.com/spf13/cobra"
)

// configEnv names the config file when --config is not given.
const configEnv = config.EnvPrefix + "_CONFIG"

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "enrich",
		Short:        "Batch enrichment and durable research jobs",
		Long:         "enrich runs schema-validated batch enrichment against an AI provider and a durable queue of long-form research jobs.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to config file (default: "+configEnv+" env var; environment variables override file values)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newWorkerCmd(opts),
		newMigrateCmd(opts),
		newJobsCmd(opts),
		newBatchCmd(opts),
	)
	return cmd
}

// resolveConfigPath picks the explicit path, then the environment, then none.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(configEnv)
}

// setup loads configuration and builds the logger. Logs go to logOut so that
// command output on stdout stays machine readable.
func (o *rootOptions) setup(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(resolveConfigPath(o.configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.debug {
		cfg.Server.LogLevel = "debug"
	}
	log := logger.New(logOut, cfg.Server)
	log.Debug("configuration loaded",
		"database_driver", cfg.Database.Driver,
		"llm_provider", cfg.LLM.Provider,
		"model", cfg.LLM.ModelName,
		"broker_enabled", cfg.Broker.AMQPURL != "")
	return cfg, log, nil
}
