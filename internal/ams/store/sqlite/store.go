package sqlite

import (
	"database/sql"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	dbpkg "github.com/Tharunya07/EMEC-AMS/internal/db"
)

var _ store.LocalStore = (*Store)(nil)

// Store is the SQLite LocalStore. Reads go straight to db; every write runs
// as one transaction on the shared Worker.
//
// Closures passed to writer.Do must only use their tx: the pool holds a
// single connection, so touching s.db from inside one would deadlock.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

type scanner interface {
	Scan(dest ...any) error
}

func toMs(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMs(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return toMs(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMs(v.Int64)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
