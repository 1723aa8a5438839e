package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/bloodyteeths/nabavkidata-sub002/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.DB.DSN == "" {
				return errors.New("db.dsn is required to migrate")
			}
			res, err := pgstore.Migrate(rt.cfg.DB.DSN, rt.logger)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(rt.out, "schema at version %d (applied: %t)\n", res.Version, res.Applied)
			return err
		},
	}
}
