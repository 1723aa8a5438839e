package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Starts the HTTP API: health and metrics endpoints, tender, document and
chunk lookups, similarity search, and the run trigger used by schedulers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app App, _ *cliEnv) error {
				return app.Serve(cmd.Context())
			})
		},
	}
}
