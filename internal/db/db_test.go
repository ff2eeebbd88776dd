package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tharunya07/EMEC-AMS/internal/db"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dbtest_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrate_IsIdempotent(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx, conn))
	require.NoError(t, db.Migrate(ctx, conn))

	v, err := db.SchemaVersion(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrate_OneOpenSessionPerMachine(t *testing.T) {
	conn := openMemory(t)
	require.NoError(t, db.Migrate(context.Background(), conn))

	_, err := conn.Exec(`INSERT INTO usage_sessions(session_id, credential_id, machine_id, start_time_ms) VALUES ('s1','c1','m1',1)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO usage_sessions(session_id, credential_id, machine_id, start_time_ms) VALUES ('s2','c2','m1',2)`)
	assert.Error(t, err, "second open session on the same machine must be rejected")

	_, err = conn.Exec(`INSERT INTO usage_sessions(session_id, credential_id, machine_id, start_time_ms) VALUES ('s3','c2','m2',2)`)
	assert.NoError(t, err)
}

func TestMigrate_OnePendingRequestPerPair(t *testing.T) {
	conn := openMemory(t)
	require.NoError(t, db.Migrate(context.Background(), conn))

	_, err := conn.Exec(`INSERT INTO access_requests(request_id, credential_id, machine_id, requested_at_ms) VALUES ('r1','c1','m1',1)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO access_requests(request_id, credential_id, machine_id, requested_at_ms) VALUES ('r2','c1','m1',2)`)
	assert.Error(t, err)

	_, err = conn.Exec(`UPDATE access_requests SET status = 'rejected' WHERE request_id = 'r1'`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO access_requests(request_id, credential_id, machine_id, requested_at_ms) VALUES ('r2','c1','m1',2)`)
	assert.NoError(t, err, "a new pending request is allowed once the old one is resolved")
}

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, conn))

	w := db.NewWorker(conn)
	defer w.Close()

	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings(key, value) VALUES ('a', '1')`); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM settings`).Scan(&n))
	assert.Zero(t, n)
}

func TestWorker_DoAfterClose(t *testing.T) {
	conn := openMemory(t)
	w := db.NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, db.ErrWorkerClosed)
}

func TestSeed_LoadsFixtures(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, conn))
	w := db.NewWorker(conn)
	defer w.Close()

	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
machines:
  - id: laser-01
    type: laser_cutter
    name: Laser Cutter
credentials:
  - id: "830123456"
    name: Ada
    group: students
  - id: "830999999"
    device_uid: "12345"
    active: false
permissions:
  - credential_id: "830123456"
    machine_id: laser-01
    granted_by: admin
settings:
  grace_period_seconds: "60"
`), 0o600))

	f, err := db.LoadFixtures(path)
	require.NoError(t, err)
	require.NoError(t, db.Seed(ctx, w, f))
	require.NoError(t, db.Seed(ctx, w, f), "seeding twice must not fail")

	var status string
	require.NoError(t, conn.QueryRow(`SELECT status FROM machines WHERE machine_id = 'laser-01'`).Scan(&status))
	assert.Equal(t, "neutral", status)

	var active int
	var uid sql.NullString
	require.NoError(t, conn.QueryRow(`SELECT is_active, device_uid FROM credentials WHERE credential_id = '830999999'`).Scan(&active, &uid))
	assert.Equal(t, 0, active)
	assert.Equal(t, "12345", uid.String)

	var grace string
	require.NoError(t, conn.QueryRow(`SELECT value FROM settings WHERE key = 'grace_period_seconds'`).Scan(&grace))
	assert.Equal(t, "60", grace)
}
