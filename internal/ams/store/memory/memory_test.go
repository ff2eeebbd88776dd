package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

func TestRemote_OfflineIsTransient(t *testing.T) {
	r := New()
	r.SetOnline(false)

	err := r.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errclass.IsTransient(err))

	_, err = r.Credentials(context.Background())
	assert.True(t, errclass.IsTransient(err))

	r.SetOnline(true)
	assert.NoError(t, r.Ping(context.Background()))
}

func TestRemote_UpsertAccessRequestKeepsReview(t *testing.T) {
	r := New()
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	req := types.AccessRequest{RequestID: "r1", CredentialID: "c1", MachineID: "m1", RequestedAt: at, Status: types.RequestPending}
	require.NoError(t, r.UpsertAccessRequest(ctx, req))
	require.True(t, r.Review("r1", types.RequestGranted, "admin", at.Add(time.Hour)))

	require.NoError(t, r.UpsertAccessRequest(ctx, req))

	got, err := r.RequestReviews(ctx, []string{"r1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.RequestGranted, got[0].Status)
	assert.Equal(t, "admin", got[0].ReviewedBy)
}

func TestRemote_UpdateMachineLiveRespectsMaintenance(t *testing.T) {
	r := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.RegisterMachine(ctx, types.MachineRecord{MachineID: "m1"}))
	r.SetMachineStatus("m1", types.StatusMaintenance)

	require.NoError(t, r.UpdateMachineLive(ctx, "m1", types.StatusInUse, "pi-1", now))

	m, ok, err := r.Machine(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.StatusMaintenance, m.Status)
	assert.Equal(t, "pi-1", m.BoundDeviceUID)
	require.NotNil(t, m.LastHeartbeat)
}

func TestRemote_BindCredentialDeviceOnlyOnce(t *testing.T) {
	r := New()
	ctx := context.Background()
	r.PutCredential(types.Credential{CredentialID: "c1", IsActive: true})

	require.NoError(t, r.BindCredentialDevice(ctx, "c1", "uid-a"))
	require.NoError(t, r.BindCredentialDevice(ctx, "c1", "uid-b"))

	c, _ := r.Credential("c1")
	assert.Equal(t, "uid-a", c.DeviceUID)
}

func TestRemote_RegisterMachineIsInsertOnly(t *testing.T) {
	r := New()
	ctx := context.Background()
	r.PutMachine(types.MachineRecord{MachineID: "m1", DisplayName: "Laser", Status: types.StatusMaintenance})

	require.NoError(t, r.RegisterMachine(ctx, types.MachineRecord{MachineID: "m1", DisplayName: "other"}))

	m, _, err := r.Machine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Laser", m.DisplayName)
	assert.Equal(t, types.StatusMaintenance, m.Status)
}
