package service_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/service"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/store/memory"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/store/sqlite"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/db"
	"github.com/Tharunya07/EMEC-AMS/internal/device"
)

const selfID = "laser-01"

// t0 is a Monday, 09:00 UTC.
var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)
	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	require.NoError(t, conn.Ping())
	require.NoError(t, db.Migrate(context.Background(), conn))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestLocal(t *testing.T) (*sqlite.Store, *sql.DB) {
	t.Helper()
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	return sqlite.New(conn, w), conn
}

func countRows(t *testing.T, conn *sql.DB, q string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(q, args...).Scan(&n))
	return n
}

// fakeActuator records power state and can be told to fail.
type fakeActuator struct {
	mu             sync.Mutex
	on             bool
	energizes      int
	failEnergize   bool
	failDeenergize bool
	deenergizeErrs int // fail this many Deenergize calls, then recover
}

var errRelay = errors.New("relay fault")

func (a *fakeActuator) Energize(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failEnergize {
		return errRelay
	}
	a.on = true
	a.energizes++
	return nil
}

func (a *fakeActuator) Deenergize(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failDeenergize {
		return errRelay
	}
	if a.deenergizeErrs > 0 {
		a.deenergizeErrs--
		return errRelay
	}
	a.on = false
	return nil
}

func (a *fakeActuator) On() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

func (a *fakeActuator) setFail(energize, deenergize bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failEnergize, a.failDeenergize = energize, deenergize
}

func (a *fakeActuator) failDeenergizeTimes(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deenergizeErrs = n
}

// fakeDisplay keeps every rendered screen.
type fakeDisplay struct {
	mu      sync.Mutex
	screens [][]string
}

func (d *fakeDisplay) Render(_ context.Context, lines []string, _ device.Attrs) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screens = append(d.screens, append([]string(nil), lines...))
	return nil
}

func (d *fakeDisplay) Last() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.screens) == 0 {
		return nil
	}
	return d.screens[len(d.screens)-1]
}

// harness wires every service against a real local store and an
// in-memory remote.
type harness struct {
	local   *sqlite.Store
	conn    *sql.DB
	remote  *memory.Remote
	clk     *testingclock.FakeClock
	act     *fakeActuator
	disp    *fakeDisplay
	access  *service.AccessEngine
	machine *service.SessionMachine
	sync    *service.SyncEngine
}

type harnessOpts struct {
	grace     time.Duration
	misses    int
	hours     service.OperatingHours
	wrapStore func(*sqlite.Store) service.SessionStore
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	local, conn := newTestLocal(t)
	h := &harness{
		local:  local,
		conn:   conn,
		remote: memory.New(),
		clk:    testingclock.NewFakeClock(t0),
		act:    &fakeActuator{},
		disp:   &fakeDisplay{},
	}
	log := zap.NewNop()

	_, err := local.EnsureSelf(context.Background(), types.MachineRecord{
		MachineID: selfID, MachineType: "laser", DisplayName: "Laser Cutter",
	}, t0)
	require.NoError(t, err)

	h.access, err = service.NewAccessEngine(local, service.AccessConfig{
		MachineID: selfID,
		Hours:     opts.hours,
		Location:  time.UTC,
	}, h.clk, log)
	require.NoError(t, err)

	if opts.grace == 0 {
		opts.grace = 10 * time.Second
	}
	if opts.misses == 0 {
		opts.misses = 3
	}
	var ss service.SessionStore = local
	if opts.wrapStore != nil {
		ss = opts.wrapStore(local)
	}
	h.machine, err = service.NewSessionMachine(h.access, ss, h.act, h.disp, service.SessionConfig{
		MachineID:     selfID,
		MachineName:   "Laser Cutter",
		GracePeriod:   opts.grace,
		MissThreshold: opts.misses,
	}, h.clk, log)
	require.NoError(t, err)

	h.sync, err = service.NewSyncEngine(local, h.remote, service.SyncConfig{
		Self:             types.MachineRecord{MachineID: selfID, MachineType: "laser", DisplayName: "Laser Cutter", BoundDeviceUID: "pi-07"},
		OfflineThreshold: 2 * time.Minute,
	}, h.clk, log)
	require.NoError(t, err)
	return h
}

// provision installs reference rows directly into the local mirror.
func (h *harness) provision(t *testing.T, creds []types.Credential, perms ...types.Permission) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.local.ReplaceCredentials(ctx, creds))
	require.NoError(t, h.local.ReplacePermissions(ctx, perms))
}

func (h *harness) tick(t *testing.T, uid string) {
	t.Helper()
	var scan *types.Scan
	if uid != "" {
		scan = &types.Scan{DeviceUID: uid}
	}
	require.NoError(t, h.machine.Tick(context.Background(), scan))
}

func (h *harness) misses(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.tick(t, "")
	}
}

func (h *harness) openSessions(t *testing.T) int {
	t.Helper()
	return countRows(t, h.conn, `SELECT COUNT(*) FROM usage_sessions WHERE end_time_ms IS NULL`)
}

func (h *harness) machineStatus(t *testing.T) types.MachineStatus {
	t.Helper()
	m, ok, err := h.local.Machine(context.Background(), selfID)
	require.NoError(t, err)
	require.True(t, ok)
	return m.Status
}

func permit(credID string) types.Permission {
	return types.Permission{CredentialID: credID, MachineID: selfID, GrantedBy: "lab-admin"}
}

func activeCred(id, uid string) types.Credential {
	return types.Credential{CredentialID: id, DeviceUID: uid, DisplayName: "User " + id, IsActive: true}
}
