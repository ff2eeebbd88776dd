package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tharunya07/EMEC-AMS/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the local schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		v, err := db.SchemaVersion(cmd.Context(), a.db)
		if err != nil {
			return fmt.Errorf("schema version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "local schema at version %d (%s)\n", v, a.cfg.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
