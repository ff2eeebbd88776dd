package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/service"
	"github.com/Tharunya07/EMEC-AMS/internal/db"
	"github.com/Tharunya07/EMEC-AMS/internal/device"
	"github.com/Tharunya07/EMEC-AMS/internal/grpcapi"
	"github.com/Tharunya07/EMEC-AMS/internal/httpapi"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the access station",
	Long: `Run reads card scans from stdin ("<uid> [credential]" places a card,
"-" removes it), drives the session engine and keeps the local mirror in
sync with the remote store until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runStation(ctx)
	},
}

// scanInput feeds the simulated card reader.
var scanInput io.Reader = os.Stdin

func init() {
	rootCmd.AddCommand(runCmd)
}

func runStation(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log

	if cfg.SeedFile != "" {
		f, err := db.LoadFixtures(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := db.Seed(ctx, a.writer, f); err != nil {
			return err
		}
		log.Info("fixtures loaded", zap.String("file", cfg.SeedFile))
	}

	rs, closeRemote, err := a.openRemote()
	if err != nil {
		return err
	}
	defer closeRemote()

	hours, err := service.ParseOperatingHours(cfg.HoursOpen, cfg.HoursClose)
	if err != nil {
		return err
	}

	clk := clock.RealClock{}
	self := a.self()

	access, err := service.NewAccessEngine(a.local, service.AccessConfig{
		MachineID: self.MachineID,
		Hours:     hours,
	}, clk, log)
	if err != nil {
		return err
	}
	machine, err := service.NewSessionMachine(access, a.local,
		device.NewLogActuator(log), device.NewLogDisplay(log),
		service.SessionConfig{
			MachineID:     self.MachineID,
			MachineName:   self.DisplayName,
			GracePeriod:   cfg.GracePeriod,
			MissThreshold: cfg.MissThreshold,
		}, clk, log)
	if err != nil {
		return err
	}
	syncer, err := service.NewSyncEngine(a.local, rs, service.SyncConfig{
		Self:             self,
		OfflineThreshold: cfg.OfflineThreshold,
	}, clk, log)
	if err != nil {
		return err
	}
	pruner := service.NewRetentionPruner(a.local, service.PrunerConfig{
		RetentionDays: cfg.RetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, clk, log)

	station := service.NewStation(service.StationConfig{
		Self:         self,
		PollInterval: cfg.PollInterval,
		SyncInterval: cfg.SyncInterval,
	}, a.local, device.NewLineReader(scanInput), machine, syncer, pruner, clk, log)

	var httpSrv *httpapi.Server
	if cfg.HTTPAddr != "" {
		httpSrv = httpapi.NewServer(httpapi.Dependencies{
			Logger:  log,
			Addr:    cfg.HTTPAddr,
			Station: station,
		})
		go func() {
			log.Info("status api listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status api stopped", zap.Error(err))
			}
		}()
	}
	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(cfg.GRPCAddr, syncer, log)
		go func() {
			log.Info("health api listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Start(); err != nil {
				log.Error("health api stopped", zap.Error(err))
			}
		}()
	}

	err = station.Bootstrap(ctx)
	if err == nil {
		log.Info("station running",
			zap.String("machine_id", self.MachineID),
			zap.String("env", cfg.Env))
		err = station.Run(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	if grpcSrv != nil {
		grpcSrv.Shutdown(shutdownCtx)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
