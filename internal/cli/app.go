package cli

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/store/memory"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/store/remote"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/store/sqlite"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/config"
	"github.com/Tharunya07/EMEC-AMS/internal/db"
	"github.com/Tharunya07/EMEC-AMS/internal/logging"
)

// app holds what every subcommand needs: config, logger and the local store.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	db     *sql.DB
	writer *db.Worker
	local  *sqlite.Store
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	writer := db.NewWorker(sqlDB)

	return &app{
		cfg:    cfg,
		log:    log,
		db:     sqlDB,
		writer: writer,
		local:  sqlite.New(sqlDB, writer),
	}, nil
}

func (a *app) self() types.MachineRecord {
	return types.MachineRecord{
		MachineID:      a.cfg.MachineID,
		MachineType:    a.cfg.MachineType,
		DisplayName:    a.cfg.MachineName,
		Status:         types.StatusNeutral,
		BoundDeviceUID: a.cfg.DeviceID,
	}
}

// openRemote picks the remote store. Without a DSN, dev gets an empty
// in-memory remote and prod gets one that is never reachable, so the
// station keeps running on its mirror.
func (a *app) openRemote() (store.RemoteStore, func(), error) {
	if a.cfg.RemoteDSN != "" {
		r, err := remote.Open(a.cfg.RemoteDSN, a.cfg.RemoteTimeout, a.log)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	}

	m := memory.New()
	if a.cfg.Env == "prod" {
		a.log.Warn("remote.dsn not set, running offline")
		m.SetOnline(false)
	} else {
		a.log.Info("remote.dsn not set, using in-memory remote")
	}
	return m, func() {}, nil
}

func (a *app) close() {
	a.writer.Close()
	if err := a.db.Close(); err != nil {
		a.log.Warn("close db", zap.Error(err))
	}
	_ = a.log.Sync()
}
