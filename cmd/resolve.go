package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolve a seed URL into its links and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer a.Close()

			res, err := a.Resolve(cmd.Context(), args[0], mode)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			opts.logger.Info("resolution finished",
				zap.String("seed", res.Seed),
				zap.String("source", string(res.Source)),
				zap.Int("links", len(res.Links)),
			)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "page", "resolution mode: page or sitemap")
	return cmd
}
