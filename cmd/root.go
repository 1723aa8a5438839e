// Package cmd defines and implements the CLI commands for the nabavki executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/config"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/logging"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/pipeline"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/server"
)

// envKeyType is the key for storing the cliEnv in the context.
type envKeyType string

const envKey envKeyType = "env"

// cliEnv is what the root command prepares for subcommands.
type cliEnv struct {
	cfg    config.Config
	logger *zap.Logger
	out    io.Writer
}

// App is the application surface commands use. It allows a fake app to be
// injected in tests.
type App interface {
	RunOnce(ctx context.Context, req pipeline.Request) (pipeline.Summary, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "nabavki",
		Short: "Ingestion pipeline for the e-nabavki public procurement portal.",
		Long: `nabavki discovers working routes on the e-nabavki portal, paginates
tender listings, keeps only changed records, extracts linked documents, and
writes chunk embeddings to the vector store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads configuration and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			ctx := context.WithValue(cmd.Context(), envKey, &cliEnv{cfg: cfg, logger: logger, out: cmd.OutOrStdout()})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(envKey).(*cliEnv); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the NABAVKI_ prefix)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newRoutesCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveEnv(ctx context.Context) (*cliEnv, error) {
	rt, ok := ctx.Value(envKey).(*cliEnv)
	if !ok || rt == nil {
		return nil, errors.New("application environment not initialized")
	}
	return rt, nil
}

// withApp builds the application, runs fn, and closes it.
func withApp(ctx context.Context, fn func(App, *cliEnv) error) error {
	rt, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.Background()); cerr != nil {
			rt.logger.Warn("failed to close application", zap.Error(cerr))
		}
	}()
	return fn(app, rt)
}
