// Package cmd defines the propsrc command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/propsrc/internal/app"
	"github.com/JakeFAU/propsrc/internal/config"
	"github.com/JakeFAU/propsrc/internal/crawler"
	"github.com/JakeFAU/propsrc/internal/logging"
)

// application is what subcommands need from the wired services. Tests swap
// in a fake through newApp.
type application interface {
	Handler() http.Handler
	Resolve(ctx context.Context, seedURL, mode string) (*crawler.Resolution, error)
	Close()
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (application, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// rootOptions carries state resolved by the root command's pre-run hook.
type rootOptions struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: zap.NewNop()}
	cmd := &cobra.Command{
		Use:   "propsrc",
		Short: "Property source link resolver and mailbox connection service",
		Long: `propsrc discovers the in-scope links of a property website through its
sitemaps or a bounded same-origin crawl, and manages OAuth mailbox
connections with push watches for Google and Outlook accounts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "path to config file (env PROPSRC_* overrides)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newResolveCmd(opts))
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}
