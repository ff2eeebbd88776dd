package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store/sqlite"
	"github.com/Tharunya07/EMEC-AMS/internal/db"
)

// openTestDB returns an in-memory SQLite connection with the production
// PRAGMAs and schema. Each test gets its own database; the shared-cache URI
// keeps it alive while the pool recycles connections.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
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

// newTestStore wires a Store to a fresh database and worker.
func newTestStore(t *testing.T) (*sqlite.Store, *sql.DB) {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	return sqlite.New(conn, w), conn
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func mustExec(t *testing.T, conn *sql.DB, q string, args ...any) {
	t.Helper()
	_, err := conn.Exec(q, args...)
	require.NoError(t, err)
}

func seedMachine(t *testing.T, conn *sql.DB, id, status string) {
	t.Helper()
	mustExec(t, conn, `INSERT INTO machines(machine_id, machine_type, display_name, status) VALUES (?, 'laser', ?, ?)`,
		id, strings.ToUpper(id), status)
}

func seedCredential(t *testing.T, conn *sql.DB, id, uid string) {
	t.Helper()
	var u any
	if uid != "" {
		u = uid
	}
	mustExec(t, conn, `INSERT INTO credentials(credential_id, device_uid, display_name) VALUES (?, ?, ?)`,
		id, u, "User "+id)
}

func countRows(t *testing.T, conn *sql.DB, q string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(q, args...).Scan(&n))
	return n
}
