package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tharunya07/EMEC-AMS/internal/db"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load reference data fixtures into the local mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		path := seedFile
		if path == "" {
			path = a.cfg.SeedFile
		}
		if path == "" {
			return errors.New("--file is required (or set seed_file)")
		}

		f, err := db.LoadFixtures(path)
		if err != nil {
			return err
		}
		if err := db.Seed(cmd.Context(), a.writer, f); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d machines, %d credentials, %d permissions, %d settings\n",
			len(f.Machines), len(f.Credentials), len(f.Permissions), len(f.Settings))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML fixture file")
	rootCmd.AddCommand(seedCmd)
}
