package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

var (
	ErrInvalidDeviceUID = errors.New("device_uid is required")
	ErrInvalidMachineID = errors.New("machine_id is required")
)

// Remote-configurable settings keys.
const (
	SettingGracePeriod = "grace_period_seconds"
	SettingHoursOpen   = "operating_hours_open"
	SettingHoursClose  = "operating_hours_close"
)

// AccessStore is the slice of the local mirror the decision engine reads
// and writes.
type AccessStore interface {
	store.CredentialStore
	store.MachineStore
	store.PermissionStore
	store.SettingsStore
	store.RequestStore
	store.AccessEventStore
}

type AccessConfig struct {
	MachineID string
	Hours     OperatingHours
	Location  *time.Location // defaults to time.Local
}

// AccessEngine decides whether a scanned card may power this machine.
type AccessEngine struct {
	store AccessStore
	cfg   AccessConfig
	clock clock.PassiveClock
	log   *zap.Logger
	newID func() string
}

func NewAccessEngine(s AccessStore, cfg AccessConfig, clk clock.PassiveClock, log *zap.Logger) (*AccessEngine, error) {
	cfg.MachineID = strings.TrimSpace(cfg.MachineID)
	if cfg.MachineID == "" {
		return nil, ErrInvalidMachineID
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &AccessEngine{
		store: s,
		cfg:   cfg,
		clock: clk,
		log:   log.With(zap.String("component", "access")),
		newID: uuid.NewString,
	}, nil
}

// Decide evaluates one scan. Store failures come back as TransientIO and
// leave no partial side effects beyond an idempotent first-seen binding.
func (e *AccessEngine) Decide(ctx context.Context, scan types.Scan) (types.Decision, error) {
	now := e.clock.Now().UTC()

	uid := strings.TrimSpace(scan.DeviceUID)
	presented := strings.TrimSpace(scan.CredentialID)
	if uid == "" {
		return types.Decision{}, ErrInvalidDeviceUID
	}

	cred, known, err := e.resolve(ctx, uid, presented)
	if err != nil {
		return types.Decision{}, errclass.Transient(err)
	}

	self, ok, err := e.store.Machine(ctx, e.cfg.MachineID)
	if err != nil {
		return types.Decision{}, errclass.Transient(err)
	}
	if ok && self.Status == types.StatusMaintenance {
		return e.finish(ctx, uid, types.Decision{
			Outcome:    types.OutcomeDeny,
			Credential: cred,
			Reason:     types.ReasonMaintenance,
			DecidedAt:  now,
		}), nil
	}

	if !known || !cred.IsActive {
		credID := cred.CredentialID
		if credID == "" {
			credID = presented
		}
		if credID == "" {
			credID = uid
		}
		reason := types.ReasonUnknownCard
		if known {
			reason = types.ReasonInactive
		}
		return e.pending(ctx, uid, credID, cred, reason, now)
	}

	permitted, err := e.store.HasPermission(ctx, cred.CredentialID, e.cfg.MachineID)
	if err != nil {
		return types.Decision{}, errclass.Transient(err)
	}
	if !permitted {
		return e.pending(ctx, uid, cred.CredentialID, cred, types.ReasonNoPermission, now)
	}

	if !cred.Unrestricted {
		hours := e.hours(ctx)
		if !hours.Contains(now, e.cfg.Location) {
			return e.finish(ctx, uid, types.Decision{
				Outcome:    types.OutcomeDeny,
				Credential: cred,
				Reason:     types.ReasonOutsideHours,
				DecidedAt:  now,
			}), nil
		}
	}

	return e.finish(ctx, uid, types.Decision{
		Outcome:    types.OutcomeAllow,
		Credential: cred,
		Reason:     types.ReasonPermitted,
		DecidedAt:  now,
	}), nil
}

// resolve looks the card up by uid, binding it on first sight when the
// presented credential id names an unbound credential.
func (e *AccessEngine) resolve(ctx context.Context, uid, presented string) (types.Credential, bool, error) {
	cred, ok, err := e.store.CredentialByDeviceUID(ctx, uid)
	if err != nil || ok || presented == "" {
		return cred, ok, err
	}

	byID, ok, err := e.store.CredentialByID(ctx, presented)
	if err != nil || !ok {
		return types.Credential{}, false, err
	}
	if byID.DeviceUID != "" {
		// Bound to another tag. Treat this one as unknown.
		e.log.Warn("credential presented by a different tag",
			zap.String("credential_id", presented),
			zap.String("device_uid", uid))
		return types.Credential{}, false, nil
	}

	bound, ok, err := e.store.BindDeviceUID(ctx, presented, uid)
	if err != nil || !ok {
		return types.Credential{}, false, err
	}
	e.log.Info("first-seen binding",
		zap.String("credential_id", presented),
		zap.String("device_uid", uid))
	return bound, true, nil
}

func (e *AccessEngine) pending(ctx context.Context, uid, credID string, cred types.Credential, reason string, now time.Time) (types.Decision, error) {
	req, created, err := e.store.EnsurePendingRequest(ctx, types.AccessRequest{
		RequestID:    e.newID(),
		CredentialID: credID,
		DeviceUID:    uid,
		MachineID:    e.cfg.MachineID,
		RequestedAt:  now,
		Status:       types.RequestPending,
	})
	if err != nil {
		return types.Decision{}, errclass.Transient(err)
	}
	if created {
		e.log.Info("access request created",
			zap.String("request_id", req.RequestID),
			zap.String("credential_id", credID),
			zap.String("reason", reason))
	}
	return e.finish(ctx, uid, types.Decision{
		Outcome:    types.OutcomePending,
		Credential: cred,
		Reason:     reason,
		RequestID:  req.RequestID,
		DecidedAt:  now,
	}), nil
}

// hours returns the remote-configured window when both settings are present
// and valid, otherwise the configured default.
func (e *AccessEngine) hours(ctx context.Context) OperatingHours {
	openAt, okOpen, err1 := e.store.Setting(ctx, SettingHoursOpen)
	closeAt, okClose, err2 := e.store.Setting(ctx, SettingHoursClose)
	if err := errors.Join(err1, err2); err != nil {
		e.log.Warn("operating hours settings unreadable", zap.Error(err))
		return e.cfg.Hours
	}
	if !okOpen && !okClose {
		return e.cfg.Hours
	}
	h, err := ParseOperatingHours(openAt, closeAt)
	if err != nil {
		e.log.Warn("operating hours setting malformed, using default",
			zap.Error(errclass.ConfigMissing.Wrap(err)),
			zap.Stringer("default", e.cfg.Hours))
		return e.cfg.Hours
	}
	return h
}

// finish appends the decision to the audit log. A failed audit write never
// changes the decision.
func (e *AccessEngine) finish(ctx context.Context, uid string, d types.Decision) types.Decision {
	ev := types.AccessEvent{
		MachineID:    e.cfg.MachineID,
		DeviceUID:    uid,
		CredentialID: d.Credential.CredentialID,
		Outcome:      d.Outcome,
		Reason:       d.Reason,
		RequestID:    d.RequestID,
		DecidedAt:    d.DecidedAt,
	}
	if err := e.store.RecordEvent(ctx, ev); err != nil {
		e.log.Debug("audit write failed", zap.Error(err))
	}
	return d
}
