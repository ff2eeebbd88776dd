package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

func (s *Store) RecordEvent(ctx context.Context, ev types.AccessEvent) error {
	if ev.DecidedAt.IsZero() {
		ev.DecidedAt = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  machine_id, device_uid, credential_id, outcome, reason, request_id, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, ev.MachineID, nullString(ev.DeviceUID), nullString(ev.CredentialID), string(ev.Outcome),
			ev.Reason, nullString(ev.RequestID), toMs(ev.DecidedAt)); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

// PruneSynced never touches a row without a sync marker; open sessions and
// pending requests are never eligible.
func (s *Store) PruneSynced(ctx context.Context, cutoff time.Time) (store.PruneStats, error) {
	cutoffMs := toMs(cutoff)

	var stats store.PruneStats
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM usage_sessions
WHERE end_time_ms IS NOT NULL
  AND end_time_ms < ?
  AND session_id IN (SELECT row_id FROM sync_markers WHERE kind = 'session');
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneSynced sessions: %w", err)
		}
		stats.Sessions, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `
DELETE FROM access_requests
WHERE status <> 'pending'
  AND COALESCE(reviewed_at_ms, requested_at_ms) < ?
  AND request_id IN (SELECT row_id FROM sync_markers WHERE kind = 'request');
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneSynced requests: %w", err)
		}
		stats.Requests, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx, `
DELETE FROM sync_markers
WHERE (kind = 'session' AND row_id NOT IN (SELECT session_id FROM usage_sessions))
   OR (kind = 'request' AND row_id NOT IN (SELECT request_id FROM access_requests));
`); err != nil {
			return fmt.Errorf("PruneSynced markers: %w", err)
		}

		res, err = tx.ExecContext(ctx, `
DELETE FROM access_events WHERE decided_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneSynced events: %w", err)
		}
		stats.Events, _ = res.RowsAffected()
		return nil
	})
	return stats, err
}
