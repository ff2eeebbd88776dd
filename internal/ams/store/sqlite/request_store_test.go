package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

func newRequest(id string) types.AccessRequest {
	return types.AccessRequest{
		RequestID:    id,
		CredentialID: "c1",
		DeviceUID:    "uid-1",
		MachineID:    "m1",
		RequestedAt:  t0,
	}
}

func TestEnsurePendingRequest_Dedups(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.EnsurePendingRequest(ctx, newRequest("r1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.RequestPending, first.Status)

	second, created, err := s.EnsurePendingRequest(ctx, newRequest("r2"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "r1", second.RequestID)

	assert.Equal(t, 1, countRows(t, conn, `SELECT COUNT(*) FROM access_requests`))
}

func TestEnsurePendingRequest_NewAfterResolution(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.EnsurePendingRequest(ctx, newRequest("r1"))
	require.NoError(t, err)
	mustExec(t, conn, `UPDATE access_requests SET status = 'rejected' WHERE request_id = 'r1'`)

	r, created, err := s.EnsurePendingRequest(ctx, newRequest("r2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "r2", r.RequestID)
}

func TestRequests_SyncLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.EnsurePendingRequest(ctx, newRequest("r1"))
	require.NoError(t, err)

	unsynced, err := s.UnsyncedPendingRequests(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)

	ids, err := s.SyncedRequestIDs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.MarkRequestSynced(ctx, "r1", t0))

	unsynced, err = s.UnsyncedPendingRequests(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	ids, err = s.SyncedRequestIDs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)

	reviewed := t0.Add(time.Hour)
	n, err := s.ApplyReviews(ctx, []types.AccessRequest{
		{RequestID: "r1", Status: types.RequestGranted, ReviewedBy: "lab-admin", ReviewedAt: &reviewed},
		{RequestID: "unknown", Status: types.RequestRejected},
		{RequestID: "r1", Status: types.RequestPending},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err = s.SyncedRequestIDs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
