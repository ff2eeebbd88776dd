package store

import (
	"context"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

// RemoteStore is the authoritative cloud store. Every write is an
// idempotent upsert keyed by the row's identity.
type RemoteStore interface {
	Ping(ctx context.Context) error

	Credentials(ctx context.Context) ([]types.Credential, error)
	Permissions(ctx context.Context) ([]types.Permission, error)
	Machines(ctx context.Context) ([]types.MachineRecord, error)
	Settings(ctx context.Context) (map[string]string, error)

	// RequestReviews returns the remote view of the given requests; ids the
	// remote does not know are omitted.
	RequestReviews(ctx context.Context, requestIDs []string) ([]types.AccessRequest, error)

	Machine(ctx context.Context, machineID string) (types.MachineRecord, bool, error)

	// RegisterMachine inserts rec when absent and is a no-op otherwise.
	RegisterMachine(ctx context.Context, rec types.MachineRecord) error

	// UpdateMachineLive writes status, heartbeat and bound device uid. A
	// remote maintenance status is never overwritten; the heartbeat still is.
	UpdateMachineLive(ctx context.Context, machineID string, status types.MachineStatus, deviceUID string, heartbeat time.Time) error

	// BindCredentialDevice sets device_uid on a credential that has none.
	BindCredentialDevice(ctx context.Context, credentialID, deviceUID string) error

	// UpsertAccessRequest inserts the request or refreshes its immutable
	// fields; remote-owned review fields are never overwritten.
	UpsertAccessRequest(ctx context.Context, req types.AccessRequest) error

	UpsertUsageSession(ctx context.Context, s types.UsageSession) error
}
