package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

const (
	DefaultOfflineThreshold = 120 * time.Second
	DefaultPushBatch        = 500

	// SkipOffline is the SyncResult reason when the remote is unreachable.
	SkipOffline = "offline"
)

type SyncConfig struct {
	Self             types.MachineRecord // id, type, name and device uid of this station
	OfflineThreshold time.Duration
	BatchSize        int
}

// SyncEngine reconciles the local mirror with the remote store. Calls are
// serialized; each is safe to repeat and to interleave with live sessions.
type SyncEngine struct {
	local  store.LocalStore
	remote store.RemoteStore
	clock  clock.PassiveClock
	log    *zap.Logger
	cfg    SyncConfig

	run sync.Mutex

	mu               sync.RWMutex
	online           bool
	probed           bool
	unreachableSince time.Time
	degraded         bool
	last             *types.SyncResult
	watchers         []func(online bool)
}

func NewSyncEngine(local store.LocalStore, remote store.RemoteStore, cfg SyncConfig, clk clock.PassiveClock, log *zap.Logger) (*SyncEngine, error) {
	if cfg.Self.MachineID == "" {
		return nil, ErrInvalidMachineID
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = DefaultOfflineThreshold
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPushBatch
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SyncEngine{
		local:  local,
		remote: remote,
		clock:  clk,
		log:    log.With(zap.String("component", "sync")),
		cfg:    cfg,
	}, nil
}

// OnConnectivity registers fn to be called whenever reachability flips.
func (e *SyncEngine) OnConnectivity(fn func(online bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchers = append(e.watchers, fn)
}

// Online reports the outcome of the last probe.
func (e *SyncEngine) Online() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

// LastResult returns the result of the last completed cycle, if any.
func (e *SyncEngine) LastResult() *types.SyncResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	return &r
}

// PullReference replaces the local reference mirror with the remote's.
func (e *SyncEngine) PullReference(ctx context.Context) (types.SyncResult, error) {
	e.run.Lock()
	defer e.run.Unlock()

	if !e.probe(ctx) {
		return e.skipped(), nil
	}
	res := types.SyncResult{}
	err := e.pull(ctx, &res)
	return e.finish(res), err
}

// PushPending sends locally originated rows to the remote and marks them.
func (e *SyncEngine) PushPending(ctx context.Context) (types.SyncResult, error) {
	e.run.Lock()
	defer e.run.Unlock()

	if !e.probe(ctx) {
		return e.skipped(), nil
	}
	res := types.SyncResult{}
	err := e.push(ctx, &res)
	return e.finish(res), err
}

// Cycle runs push, pull, push. The second push carries the self status and
// anything recorded while the pull ran.
func (e *SyncEngine) Cycle(ctx context.Context) (types.SyncResult, error) {
	e.run.Lock()
	defer e.run.Unlock()

	if !e.probe(ctx) {
		return e.skipped(), nil
	}
	res := types.SyncResult{}
	if err := e.push(ctx, &res); err != nil {
		return e.finish(res), err
	}
	if err := e.pull(ctx, &res); err != nil {
		return e.finish(res), err
	}
	err := e.push(ctx, &res)
	return e.finish(res), err
}

func (e *SyncEngine) skipped() types.SyncResult {
	return e.finish(types.SyncResult{Skipped: true, Reason: SkipOffline})
}

func (e *SyncEngine) finish(res types.SyncResult) types.SyncResult {
	res.FinishedAt = e.clock.Now().UTC()
	e.mu.Lock()
	e.last = &res
	e.mu.Unlock()
	return res
}

// probe checks reachability and tracks how long the remote has been gone.
// The self status degrades to offline only after OfflineThreshold of
// continuous failure, and is restored on the first success afterwards.
func (e *SyncEngine) probe(ctx context.Context) bool {
	now := e.clock.Now().UTC()
	err := e.remote.Ping(ctx)

	e.mu.Lock()
	changed := !e.probed || e.online != (err == nil)
	e.probed = true
	e.online = err == nil
	if err == nil {
		e.unreachableSince = time.Time{}
	} else if e.unreachableSince.IsZero() {
		e.unreachableSince = now
	}
	since := e.unreachableSince
	degraded := e.degraded
	watchers := append([]func(bool){}, e.watchers...)
	e.mu.Unlock()

	if changed {
		for _, fn := range watchers {
			fn(err == nil)
		}
	}

	selfID := e.cfg.Self.MachineID
	if err != nil {
		e.log.Debug("remote unreachable", zap.Error(err))
		if !degraded && now.Sub(since) >= e.cfg.OfflineThreshold {
			ok, serr := e.local.SetStatusIf(ctx, selfID, types.StatusOffline, now, types.StatusNeutral)
			if serr != nil {
				e.log.Warn("mark offline failed", zap.Error(serr))
			} else if ok {
				e.setDegraded(true)
				e.log.Warn("remote unreachable past threshold, status offline",
					zap.Duration("threshold", e.cfg.OfflineThreshold))
			}
		}
		return false
	}

	if degraded {
		if _, serr := e.local.SetStatusIf(ctx, selfID, types.StatusNeutral, now, types.StatusOffline); serr != nil {
			e.log.Warn("restore status failed", zap.Error(serr))
		} else {
			e.setDegraded(false)
			e.log.Info("remote reachable again")
		}
	}
	return true
}

func (e *SyncEngine) setDegraded(v bool) {
	e.mu.Lock()
	e.degraded = v
	e.mu.Unlock()
}

func (e *SyncEngine) pull(ctx context.Context, res *types.SyncResult) error {
	if res.Pulled == nil {
		res.Pulled = make(map[string]int)
	}
	selfID := e.cfg.Self.MachineID

	creds, err := e.remote.Credentials(ctx)
	if err != nil {
		return errclass.Transient(err)
	}
	if err := e.local.ReplaceCredentials(ctx, creds); err != nil {
		return errclass.Transient(err)
	}
	res.Pulled["credentials"] = len(creds)

	perms, err := e.remote.Permissions(ctx)
	if err != nil {
		return errclass.Transient(err)
	}
	if err := e.local.ReplacePermissions(ctx, perms); err != nil {
		return errclass.Transient(err)
	}
	res.Pulled["permissions"] = len(perms)

	machines, err := e.remote.Machines(ctx)
	if err != nil {
		return errclass.Transient(err)
	}
	if err := e.local.ReplaceMachines(ctx, machines, selfID); err != nil {
		return errclass.Transient(err)
	}
	res.Pulled["machines"] = len(machines)

	settings, err := e.remote.Settings(ctx)
	if err != nil {
		return errclass.Transient(err)
	}
	if err := e.local.ReplaceSettings(ctx, settings); err != nil {
		return errclass.Transient(err)
	}
	res.Pulled["settings"] = len(settings)

	ids, err := e.local.SyncedRequestIDs(ctx, e.cfg.BatchSize)
	if err != nil {
		return errclass.Transient(err)
	}
	if len(ids) > 0 {
		reviews, err := e.remote.RequestReviews(ctx, ids)
		if err != nil {
			return errclass.Transient(err)
		}
		n, err := e.local.ApplyReviews(ctx, reviews)
		if err != nil {
			return errclass.Transient(err)
		}
		res.Pulled["reviews"] += n
	}

	e.log.Info("reference pulled",
		zap.Int("credentials", len(creds)),
		zap.Int("permissions", len(perms)),
		zap.Int("machines", len(machines)),
		zap.Int("settings", len(settings)))
	return nil
}

func (e *SyncEngine) push(ctx context.Context, res *types.SyncResult) error {
	now := e.clock.Now().UTC()

	registered, err := e.pushSelf(ctx, now)
	if err != nil {
		return errclass.Transient(err)
	}
	res.MachineRegistered = res.MachineRegistered || registered

	bindings, err := e.local.PendingBindings(ctx)
	if err != nil {
		return errclass.Transient(err)
	}
	for _, b := range bindings {
		if err := e.remote.BindCredentialDevice(ctx, b.CredentialID, b.DeviceUID); err != nil {
			return errclass.Transient(err)
		}
		if err := e.local.ClearBindingPending(ctx, b); err != nil {
			return errclass.Transient(err)
		}
		res.PushedBindings++
	}

	reqs, err := e.local.UnsyncedPendingRequests(ctx, e.cfg.BatchSize)
	if err != nil {
		return errclass.Transient(err)
	}
	for _, r := range reqs {
		if err := e.remote.UpsertAccessRequest(ctx, r); err != nil {
			return errclass.Transient(err)
		}
		if err := e.local.MarkRequestSynced(ctx, r.RequestID, now); err != nil {
			return errclass.Transient(err)
		}
		res.PushedRequests++
	}

	sessions, err := e.local.UnsyncedClosedSessions(ctx, e.cfg.BatchSize)
	if err != nil {
		return errclass.Transient(err)
	}
	for _, s := range sessions {
		if err := e.remote.UpsertUsageSession(ctx, s); err != nil {
			return errclass.Transient(err)
		}
		if err := e.local.MarkSessionSynced(ctx, s.SessionID, now); err != nil {
			return errclass.Transient(err)
		}
		res.PushedSessions++
	}

	if n := len(bindings) + len(reqs) + len(sessions); n > 0 {
		e.log.Info("pending rows pushed",
			zap.Int("bindings", len(bindings)),
			zap.Int("requests", len(reqs)),
			zap.Int("sessions", len(sessions)))
	}
	return nil
}

// pushSelf registers the self machine when the remote lacks it and
// refreshes its live status and heartbeat. A maintenance status is never
// sent from here: it belongs to the remote.
func (e *SyncEngine) pushSelf(ctx context.Context, now time.Time) (bool, error) {
	selfID := e.cfg.Self.MachineID

	local, ok, err := e.local.Machine(ctx, selfID)
	if err != nil {
		return false, err
	}
	if !ok {
		local = e.cfg.Self
		local.Status = types.StatusNeutral
	}
	if local.BoundDeviceUID == "" {
		local.BoundDeviceUID = e.cfg.Self.BoundDeviceUID
	}

	remote, found, err := e.remote.Machine(ctx, selfID)
	if err != nil {
		return false, err
	}
	registered := false
	if !found {
		rec := local
		rec.Status = types.StatusNeutral
		rec.LastHeartbeat = &now
		if err := e.remote.RegisterMachine(ctx, rec); err != nil {
			return false, fmt.Errorf("register self: %w", err)
		}
		e.log.Info("self machine registered remotely", zap.String("machine_id", selfID))
		remote, registered = rec, true
	}

	status := local.Status
	if status == types.StatusMaintenance || !status.Valid() {
		status = remote.Status
	}
	if err := e.remote.UpdateMachineLive(ctx, selfID, status, local.BoundDeviceUID, now); err != nil {
		return registered, err
	}
	if err := e.local.TouchHeartbeat(ctx, selfID, now); err != nil {
		return registered, err
	}
	return registered, nil
}
