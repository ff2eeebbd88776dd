package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/device"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

const (
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultSyncInterval  = 5 * time.Minute
	DefaultRetryInterval = 10 * time.Second
	ShutdownPushTimeout  = 5 * time.Second
)

type StationConfig struct {
	Self          types.MachineRecord
	PollInterval  time.Duration
	SyncInterval  time.Duration
	RetryInterval time.Duration // between startup pulls while the mirror is empty
}

// Station wires the reader to the session machine and runs the sync and
// retention loops beside it.
type Station struct {
	cfg     StationConfig
	local   store.LocalStore
	reader  device.Reader
	machine *SessionMachine
	sync    *SyncEngine
	pruner  *RetentionPruner
	clock   clock.WithTicker
	log     *zap.Logger
	trigger chan struct{}
}

func NewStation(
	cfg StationConfig,
	local store.LocalStore,
	reader device.Reader,
	machine *SessionMachine,
	syncer *SyncEngine,
	pruner *RetentionPruner,
	clk clock.WithTicker,
	log *zap.Logger,
) *Station {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Station{
		cfg:     cfg,
		local:   local,
		reader:  reader,
		machine: machine,
		sync:    syncer,
		pruner:  pruner,
		clock:   clk,
		log:     log.With(zap.String("component", "station")),
		trigger: make(chan struct{}, 1),
	}
}

// Bootstrap prepares the station to accept scans: the self record exists,
// crash-left sessions are closed and the reference mirror is populated.
// Only a failure to write the local store is returned.
func (s *Station) Bootstrap(ctx context.Context) error {
	self, err := s.local.EnsureSelf(ctx, s.cfg.Self, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	s.log.Info("self machine ready",
		zap.String("machine_id", self.MachineID),
		zap.String("status", string(self.Status)))

	if err := s.machine.Recover(ctx); err != nil {
		return err
	}

	empty, err := s.local.MirrorEmpty(ctx)
	if err != nil || !empty {
		return err
	}
	for {
		res, err := s.sync.Cycle(ctx)
		switch {
		case err != nil:
			s.log.Warn("initial pull failed", zap.Error(err))
		case res.Skipped:
			s.log.Info("waiting for network before first pull")
		default:
			return nil
		}

		s.machine.Notice(ctx, self.DisplayName, "Waiting for network")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.cfg.RetryInterval):
		case <-s.trigger:
		}
	}
}

// Run drives the station until ctx is cancelled, then runs the shutdown
// path: the open session is force-closed, the status is set offline and
// one final push is attempted.
func (s *Station) Run(ctx context.Context) error {
	if s.pruner != nil {
		s.pruner.Start(ctx)
		defer s.pruner.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.foreground(gctx) })
	g.Go(func() error { return s.syncLoop(gctx) })
	err := g.Wait()

	s.shutdown()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// TriggerSync requests a sync cycle. Requests made while one is already
// queued are coalesced; it reports whether this call queued one.
func (s *Station) TriggerSync() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Station) foreground(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.step(ctx)
		}
	}
}

// step performs one poll and one state machine transition.
func (s *Station) step(ctx context.Context) {
	var scan *types.Scan
	sc, ok, err := s.reader.Poll(ctx)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		s.log.Debug("reader poll failed", zap.Error(err))
	case ok:
		scan = &sc
	}

	if err := s.machine.Tick(ctx, scan); err != nil && ctx.Err() == nil {
		if errors.Is(err, errclass.InvariantViolation) {
			s.log.Error("session invariant violated", zap.Error(err))
			return
		}
		s.log.Warn("transition deferred to next tick", zap.Error(err))
	}
}

func (s *Station) syncLoop(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		case <-s.trigger:
		}
		res, err := s.sync.Cycle(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("sync cycle failed", zap.Error(err))
			}
			continue
		}
		if !res.Skipped {
			s.log.Debug("sync cycle done",
				zap.Int("pushed_sessions", res.PushedSessions),
				zap.Int("pushed_requests", res.PushedRequests))
		}
	}
}

func (s *Station) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownPushTimeout)
	defer cancel()

	if err := s.machine.Shutdown(ctx); err != nil {
		s.log.Error("shutdown close failed", zap.Error(err))
	}
	if _, err := s.local.SetStatusIf(ctx, s.cfg.Self.MachineID, types.StatusOffline, s.clock.Now().UTC()); err != nil {
		s.log.Warn("mark offline failed", zap.Error(err))
	}
	res, err := s.sync.PushPending(ctx)
	switch {
	case err != nil:
		s.log.Warn("final push failed", zap.Error(err))
	case res.Skipped:
		s.log.Info("final push skipped, remote unreachable")
	default:
		s.log.Info("final push done", zap.Int("pushed_sessions", res.PushedSessions))
	}
}

// Status assembles the local status view.
func (s *Station) Status(ctx context.Context) types.StatusResponse {
	now := s.clock.Now().UTC()
	resp := types.StatusResponse{
		MachineID:  s.cfg.Self.MachineID,
		Online:     s.sync.Online(),
		Session:    s.machine.Snapshot(),
		LastSync:   s.sync.LastResult(),
		ServerTime: now.Format(time.RFC3339Nano),
	}
	if m, ok, err := s.local.Machine(ctx, s.cfg.Self.MachineID); err == nil && ok {
		resp.MachineStatus = m.Status
	}
	return resp
}
