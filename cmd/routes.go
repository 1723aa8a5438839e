package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/discovery"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
)

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect and update the route configuration",
	}
	cmd.AddCommand(newRoutesPromoteCmd())
	cmd.AddCommand(newRoutesShowCmd())
	return cmd
}

func newRoutesPromoteCmd() *cobra.Command {
	var reportPath string
	cmd := &cobra.Command{
		Use:   "promote [category...]",
		Short: "Promote a reviewed discovery report into the route file",
		Long: `Sets each named category's canonical route to the report's recommendation
and bumps the route file version. Without arguments every resolved category
in the report is promoted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if reportPath == "" {
				reportPath = rt.cfg.Discovery.ReportPath
			}
			report, err := discovery.ReadReport(reportPath)
			if err != nil {
				return err
			}
			file, err := routes.Load(rt.cfg.Portal.RoutesFile)
			if err != nil {
				return err
			}
			if err := discovery.Promote(file, report, time.Now().UTC(), args...); err != nil {
				return err
			}
			if err := file.Save(rt.cfg.Portal.RoutesFile); err != nil {
				return err
			}
			rt.logger.Info("routes promoted",
				zap.String("routes_file", rt.cfg.Portal.RoutesFile),
				zap.String("report", reportPath),
				zap.Int("version", file.Version),
			)
			_, err = fmt.Fprintf(rt.out, "routes file %s now at version %d\n", rt.cfg.Portal.RoutesFile, file.Version)
			return err
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "discovery report to promote (defaults to discovery.report_path)")
	return cmd
}

func newRoutesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective route file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			file, err := routes.Load(rt.cfg.Portal.RoutesFile)
			if err != nil {
				return err
			}
			data, err := file.Encode()
			if err != nil {
				return err
			}
			_, err = rt.out.Write(data)
			return err
		},
	}
}
