package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

const sessionColumns = `session_id, credential_id, machine_id, start_time_ms, end_time_ms, duration_min`

func scanSession(row scanner) (types.UsageSession, error) {
	var (
		u        types.UsageSession
		start    int64
		end      sql.NullInt64
		duration sql.NullInt64
	)
	if err := row.Scan(&u.SessionID, &u.CredentialID, &u.MachineID, &start, &end, &duration); err != nil {
		return u, err
	}
	u.StartTime = fromMs(start)
	u.EndTime = timePtr(end)
	u.Duration = int(duration.Int64)
	return u, nil
}

func querySessions(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any) ([]types.UsageSession, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.UsageSession
	for rows.Next() {
		u, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) OpenSession(ctx context.Context, u types.UsageSession) error {
	if u.SessionID == "" || u.MachineID == "" || u.CredentialID == "" {
		return fmt.Errorf("OpenSession: session, machine and credential ids are required")
	}
	startMs := toMs(u.StartTime)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `
SELECT session_id FROM usage_sessions
WHERE machine_id = ? AND end_time_ms IS NULL
ORDER BY start_time_ms LIMIT 1;
`, u.MachineID).Scan(&existing)
		switch {
		case err == nil:
			return errclass.InvariantViolation.WithMessagef(
				"machine %s already has open session %s", u.MachineID, existing)
		case err != sql.ErrNoRows:
			return fmt.Errorf("OpenSession check: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO usage_sessions(session_id, credential_id, machine_id, start_time_ms)
VALUES (?, ?, ?, ?);
`, u.SessionID, u.CredentialID, u.MachineID, startMs); err != nil {
			return fmt.Errorf("OpenSession insert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE machines
SET status = 'in_use', last_heartbeat_ms = ?
WHERE machine_id = ? AND status <> 'maintenance';
`, startMs, u.MachineID); err != nil {
			return fmt.Errorf("OpenSession machine status: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE credentials SET in_use = 1, last_used_ms = ? WHERE credential_id = ?;
`, startMs, u.CredentialID); err != nil {
			return fmt.Errorf("OpenSession credential: %w", err)
		}
		return nil
	})
}

func (s *Store) CloseOpenSessions(ctx context.Context, machineID string, end time.Time) ([]types.UsageSession, error) {
	var closed []types.UsageSession

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		closed = nil
		open, err := querySessions(ctx, tx, `
SELECT `+sessionColumns+` FROM usage_sessions
WHERE machine_id = ? AND end_time_ms IS NULL
ORDER BY start_time_ms;
`, machineID)
		if err != nil {
			return fmt.Errorf("CloseOpenSessions list: %w", err)
		}
		if len(open) == 0 {
			return nil
		}

		for _, u := range open {
			e := end.UTC()
			if e.Before(u.StartTime) {
				e = u.StartTime
			}
			u.EndTime = &e
			u.Duration = types.DurationMinutes(u.StartTime, e)

			if _, err := tx.ExecContext(ctx, `
UPDATE usage_sessions
SET end_time_ms = ?, duration_min = ?
WHERE session_id = ? AND end_time_ms IS NULL;
`, toMs(e), u.Duration, u.SessionID); err != nil {
				return fmt.Errorf("CloseOpenSessions close %s: %w", u.SessionID, err)
			}
			if _, err := tx.ExecContext(ctx, `
UPDATE credentials SET in_use = 0 WHERE credential_id = ?;
`, u.CredentialID); err != nil {
				return fmt.Errorf("CloseOpenSessions credential: %w", err)
			}
			closed = append(closed, u)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE machines
SET status = 'neutral', last_heartbeat_ms = ?
WHERE machine_id = ? AND status = 'in_use';
`, toMs(end), machineID); err != nil {
			return fmt.Errorf("CloseOpenSessions machine status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (s *Store) OpenSessions(ctx context.Context, machineID string) ([]types.UsageSession, error) {
	out, err := querySessions(ctx, s.db, `
SELECT `+sessionColumns+` FROM usage_sessions
WHERE machine_id = ? AND end_time_ms IS NULL
ORDER BY start_time_ms;
`, machineID)
	if err != nil {
		return nil, fmt.Errorf("OpenSessions: %w", err)
	}
	return out, nil
}

func (s *Store) Session(ctx context.Context, sessionID string) (types.UsageSession, bool, error) {
	u, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM usage_sessions WHERE session_id = ?;`, sessionID))
	if err == sql.ErrNoRows {
		return types.UsageSession{}, false, nil
	}
	if err != nil {
		return types.UsageSession{}, false, fmt.Errorf("Session: %w", err)
	}
	return u, true, nil
}

func (s *Store) UnsyncedClosedSessions(ctx context.Context, limit int) ([]types.UsageSession, error) {
	if limit <= 0 {
		limit = 500
	}
	out, err := querySessions(ctx, s.db, `
SELECT `+sessionColumns+` FROM usage_sessions u
WHERE u.end_time_ms IS NOT NULL
  AND NOT EXISTS (
    SELECT 1 FROM sync_markers m WHERE m.kind = 'session' AND m.row_id = u.session_id
  )
ORDER BY u.end_time_ms
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("UnsyncedClosedSessions: %w", err)
	}
	return out, nil
}

func (s *Store) MarkSessionSynced(ctx context.Context, sessionID string, at time.Time) error {
	return s.mark(ctx, "session", sessionID, at)
}

func (s *Store) mark(ctx context.Context, kind, id string, at time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO sync_markers(kind, row_id, synced_at_ms) VALUES (?, ?, ?);
`, kind, id, toMs(at)); err != nil {
			return fmt.Errorf("mark %s %s synced: %w", kind, id, err)
		}
		return nil
	})
}
