// Package cli is the docintel command line: the HTTP server plus one-shot
// extract, ask and ingest commands against the same configuration.
package cli

import (
	"context"
	"fmt"

	"docintel/app/bootstrap"
	"docintel/config"
	"docintel/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Builder creates the wired application from a loaded config.
type Builder func(ctx context.Context, cfg *config.Config, log *zap.Logger) (*bootstrap.App, error)

var configPath string

func NewRootCommand(build Builder) *cobra.Command {
	if build == nil {
		build = bootstrap.New
	}
	root := &cobra.Command{
		Use:           "docintel",
		Short:         "Document intelligence pipeline",
		Long:          `Extracts text from stored PDFs, indexes it for retrieval, answers questions over it and publishes documents as agent knowledge bases.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (env DOCINTEL_CONFIG)")

	root.AddCommand(
		newServeCommand(build),
		newExtractCommand(build),
		newAskCommand(build),
		newIngestCommand(build),
	)
	return root
}

func Execute(ctx context.Context) error {
	return NewRootCommand(nil).ExecuteContext(ctx)
}

// setup loads config, builds the process logger and the app.
func setup(ctx context.Context, build Builder) (*bootstrap.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return build(ctx, cfg, log)
}
