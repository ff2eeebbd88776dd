package store

import (
	"context"
	"errors"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

// ErrNotFound is returned by lookups that require the row to exist.
var ErrNotFound = errors.New("not found")

// CredentialStore resolves scanned cards against the local mirror.
type CredentialStore interface {
	CredentialByDeviceUID(ctx context.Context, deviceUID string) (types.Credential, bool, error)
	CredentialByID(ctx context.Context, credentialID string) (types.Credential, bool, error)

	// BindDeviceUID binds deviceUID to an unbound credential and flags the
	// binding for push. It reports false when the credential is missing or
	// already bound.
	BindDeviceUID(ctx context.Context, credentialID, deviceUID string) (types.Credential, bool, error)
}

// MachineStore holds the MachineRecord set. Local writes never replace a
// maintenance status; only a reference pull can set or lift it.
type MachineStore interface {
	Machine(ctx context.Context, machineID string) (types.MachineRecord, bool, error)

	// EnsureSelf inserts rec if absent, otherwise refreshes its type, name
	// and bound device uid. Status becomes neutral unless it is maintenance.
	EnsureSelf(ctx context.Context, rec types.MachineRecord, now time.Time) (types.MachineRecord, error)

	// SetStatusIf moves machineID to status when its current status is one
	// of from (any non-maintenance status when from is empty). It reports
	// whether a row changed.
	SetStatusIf(ctx context.Context, machineID string, status types.MachineStatus, now time.Time, from ...types.MachineStatus) (bool, error)

	TouchHeartbeat(ctx context.Context, machineID string, now time.Time) error
}

type PermissionStore interface {
	HasPermission(ctx context.Context, credentialID, machineID string) (bool, error)
}

type SettingsStore interface {
	Setting(ctx context.Context, key string) (string, bool, error)
}

// RequestStore owns locally originated access requests.
type RequestStore interface {
	// EnsurePendingRequest returns the pending request for
	// (req.CredentialID, req.MachineID), creating req when none exists. The
	// lookup and the insert share one transaction.
	EnsurePendingRequest(ctx context.Context, req types.AccessRequest) (types.AccessRequest, bool, error)

	UnsyncedPendingRequests(ctx context.Context, limit int) ([]types.AccessRequest, error)
	MarkRequestSynced(ctx context.Context, requestID string, at time.Time) error

	// SyncedRequestIDs lists synced requests still pending locally, whose
	// review outcome should be pulled.
	SyncedRequestIDs(ctx context.Context, limit int) ([]string, error)
	ApplyReviews(ctx context.Context, reviews []types.AccessRequest) (int, error)
}

// SessionStore owns usage sessions. OpenSession and CloseSession update the
// session, the machine status and the credential's in-use flag together.
type SessionStore interface {
	// OpenSession fails with errclass.InvariantViolation when the machine
	// already has an open session.
	OpenSession(ctx context.Context, s types.UsageSession) error

	// CloseOpenSessions closes every open session on machineID at end and
	// returns them. Closing with nothing open is a no-op.
	CloseOpenSessions(ctx context.Context, machineID string, end time.Time) ([]types.UsageSession, error)

	OpenSessions(ctx context.Context, machineID string) ([]types.UsageSession, error)
	Session(ctx context.Context, sessionID string) (types.UsageSession, bool, error)

	UnsyncedClosedSessions(ctx context.Context, limit int) ([]types.UsageSession, error)
	MarkSessionSynced(ctx context.Context, sessionID string, at time.Time) error
}

// BindingStore tracks first-seen bindings awaiting push.
type BindingStore interface {
	PendingBindings(ctx context.Context) ([]types.Binding, error)
	ClearBindingPending(ctx context.Context, b types.Binding) error
}

// ReferenceStore replaces mirrored reference tables. Each call is one
// transaction.
type ReferenceStore interface {
	ReplaceCredentials(ctx context.Context, rows []types.Credential) error
	ReplacePermissions(ctx context.Context, rows []types.Permission) error
	ReplaceMachines(ctx context.Context, rows []types.MachineRecord, selfID string) error
	ReplaceSettings(ctx context.Context, settings map[string]string) error

	// MirrorEmpty reports whether no reference data has ever been pulled.
	MirrorEmpty(ctx context.Context) (bool, error)
}

// AccessEventStore is the append-only decision audit log.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, ev types.AccessEvent) error
}

// RetentionStore prunes rows the remote store already holds.
type RetentionStore interface {
	// PruneSynced deletes closed, synced sessions and resolved, synced
	// requests older than cutoff, plus audit events older than cutoff.
	PruneSynced(ctx context.Context, cutoff time.Time) (PruneStats, error)
}

type PruneStats struct {
	Sessions int64
	Requests int64
	Events   int64
}

func (p PruneStats) Total() int64 { return p.Sessions + p.Requests + p.Events }

// LocalStore is the whole local durable mirror.
type LocalStore interface {
	CredentialStore
	MachineStore
	PermissionStore
	SettingsStore
	RequestStore
	SessionStore
	BindingStore
	ReferenceStore
	AccessEventStore
	RetentionStore
}
