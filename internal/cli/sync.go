package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/service"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one push, pull, push cycle against the remote store and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		rs, closeRemote, err := a.openRemote()
		if err != nil {
			return err
		}
		defer closeRemote()

		clk := clock.RealClock{}
		if _, err := a.local.EnsureSelf(ctx, a.self(), clk.Now().UTC()); err != nil {
			return err
		}
		engine, err := service.NewSyncEngine(a.local, rs, service.SyncConfig{
			Self:             a.self(),
			OfflineThreshold: a.cfg.OfflineThreshold,
		}, clk, a.log)
		if err != nil {
			return err
		}

		res, err := engine.Cycle(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
