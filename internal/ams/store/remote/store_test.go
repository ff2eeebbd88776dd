package remote

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	s := New(gdb, time.Second)
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s, gdb
}

func TestStore_ReadsReferenceTables(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()

	uid := "uid-1"
	require.NoError(t, gdb.Create(&[]userRow{
		{CsuID: "c1", UID: &uid, Name: "Ada", IsActive: true, AccessLevel: "Unrestricted", GroupName: "staff"},
		{CsuID: "c2", Name: "Grace"},
	}).Error)
	require.NoError(t, gdb.Create(&permissionRow{CsuID: "c1", MachineID: "m1", GrantedBy: "admin"}).Error)
	require.NoError(t, gdb.Create(&settingRow{Key: "grace_period_seconds", Value: "60"}).Error)

	creds, err := s.Credentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "uid-1", creds[0].DeviceUID)
	assert.True(t, creds[0].Unrestricted)
	assert.Equal(t, "staff", creds[0].AccessGroup)
	assert.Empty(t, creds[1].DeviceUID)
	assert.False(t, creds[1].IsActive)

	perms, err := s.Permissions(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "admin", perms[0].GrantedBy)

	settings, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "60", settings["grace_period_seconds"])
}

func TestStore_RegisterAndUpdateMachine(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterMachine(ctx, types.MachineRecord{MachineID: "m1", MachineType: "laser", DisplayName: "Laser"}))
	require.NoError(t, s.RegisterMachine(ctx, types.MachineRecord{MachineID: "m1", DisplayName: "ignored"}))

	m, ok, err := s.Machine(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Laser", m.DisplayName)
	assert.Equal(t, types.StatusNeutral, m.Status)

	require.NoError(t, s.UpdateMachineLive(ctx, "m1", types.StatusInUse, "pi-1", t0))
	m, _, err = s.Machine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInUse, m.Status)
	assert.Equal(t, "pi-1", m.BoundDeviceUID)

	require.NoError(t, gdb.Model(&machineRow{}).Where("machine_id = ?", "m1").
		Update("machine_status", "maintenance").Error)
	require.NoError(t, s.UpdateMachineLive(ctx, "m1", types.StatusNeutral, "", t0.Add(time.Minute)))

	m, _, err = s.Machine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusMaintenance, m.Status)
	require.NotNil(t, m.LastHeartbeat)
	assert.True(t, m.LastHeartbeat.Equal(t0.Add(time.Minute)))

	_, ok, err = s.Machine(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_BindCredentialDevice(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()

	taken := "uid-taken"
	require.NoError(t, gdb.Create(&[]userRow{{CsuID: "c1"}, {CsuID: "c2", UID: &taken}}).Error)

	require.NoError(t, s.BindCredentialDevice(ctx, "c1", "uid-taken"))
	require.NoError(t, s.BindCredentialDevice(ctx, "c1", "uid-new"))
	require.NoError(t, s.BindCredentialDevice(ctx, "c1", "uid-other"))

	var u userRow
	require.NoError(t, gdb.First(&u, "csu_id = ?", "c1").Error)
	require.NotNil(t, u.UID)
	assert.Equal(t, "uid-new", *u.UID)
}

func TestStore_UpsertAccessRequestKeepsReview(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()

	req := types.AccessRequest{RequestID: "r1", CredentialID: "c1", DeviceUID: "uid-1", MachineID: "m1", RequestedAt: t0}
	require.NoError(t, s.UpsertAccessRequest(ctx, req))

	reviewer := "admin"
	reviewed := t0.Add(time.Hour)
	require.NoError(t, gdb.Model(&requestRow{}).Where("request_id = ?", "r1").
		Updates(map[string]any{"status": "approved", "reviewed_by": reviewer, "reviewed_at": reviewed}).Error)

	require.NoError(t, s.UpsertAccessRequest(ctx, req))

	got, err := s.RequestReviews(ctx, []string{"r1", "r-missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.RequestGranted, got[0].Status)
	assert.Equal(t, "admin", got[0].ReviewedBy)

	none, err := s.RequestReviews(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_UpsertUsageSessionIsIdempotent(t *testing.T) {
	s, gdb := newTestStore(t)
	ctx := context.Background()

	end := t0.Add(42 * time.Minute)
	us := types.UsageSession{SessionID: "s1", CredentialID: "c1", MachineID: "m1", StartTime: t0, EndTime: &end, Duration: 42}
	require.NoError(t, s.UpsertUsageSession(ctx, us))
	require.NoError(t, s.UpsertUsageSession(ctx, us))

	var n int64
	require.NoError(t, gdb.Model(&usageRow{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	var row usageRow
	require.NoError(t, gdb.First(&row, "session_id = ?", "s1").Error)
	assert.Equal(t, 42, row.Duration)
}

func TestRequestStatusVocabulary(t *testing.T) {
	assert.Equal(t, types.RequestPending, requestStatus("under_review"))
	assert.Equal(t, types.RequestGranted, requestStatus("Approved"))
	assert.Equal(t, types.RequestGranted, requestStatus("granted"))
	assert.Equal(t, types.RequestRejected, requestStatus("rejected"))
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open("  ", 0, nil)
	assert.Error(t, err)
}

func TestOpen_UnreachableServerOpensOffline(t *testing.T) {
	s, err := Open("emec:secret@tcp(127.0.0.1:1)/emec", 500*time.Millisecond, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errclass.IsTransient(err))

	_, err = s.Credentials(context.Background())
	assert.True(t, errclass.IsTransient(err))
}
