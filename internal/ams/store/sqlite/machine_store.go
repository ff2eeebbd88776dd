package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

const machineColumns = `machine_id, machine_type, display_name, status, bound_device_uid, last_heartbeat_ms`

func scanMachine(row scanner) (types.MachineRecord, error) {
	var (
		m         types.MachineRecord
		status    string
		uid       sql.NullString
		heartbeat sql.NullInt64
	)
	if err := row.Scan(&m.MachineID, &m.MachineType, &m.DisplayName, &status, &uid, &heartbeat); err != nil {
		return m, err
	}
	m.Status = types.MachineStatus(status)
	m.BoundDeviceUID = uid.String
	m.LastHeartbeat = timePtr(heartbeat)
	return m, nil
}

func (s *Store) Machine(ctx context.Context, machineID string) (types.MachineRecord, bool, error) {
	m, err := scanMachine(s.db.QueryRowContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE machine_id = ?;`, machineID))
	if err == sql.ErrNoRows {
		return types.MachineRecord{}, false, nil
	}
	if err != nil {
		return types.MachineRecord{}, false, fmt.Errorf("Machine: %w", err)
	}
	return m, true, nil
}

func (s *Store) EnsureSelf(ctx context.Context, rec types.MachineRecord, now time.Time) (types.MachineRecord, error) {
	rec.MachineID = strings.TrimSpace(rec.MachineID)
	if rec.MachineID == "" {
		return types.MachineRecord{}, fmt.Errorf("EnsureSelf: empty machine id")
	}

	var out types.MachineRecord
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO machines(machine_id, machine_type, display_name, status, bound_device_uid, last_heartbeat_ms)
VALUES (?, ?, ?, 'neutral', ?, ?)
ON CONFLICT(machine_id) DO UPDATE SET
  machine_type = CASE WHEN excluded.machine_type = '' THEN machines.machine_type ELSE excluded.machine_type END,
  display_name = CASE WHEN excluded.display_name = '' THEN machines.display_name ELSE excluded.display_name END,
  status = CASE WHEN machines.status = 'maintenance' THEN 'maintenance' ELSE 'neutral' END,
  bound_device_uid = COALESCE(excluded.bound_device_uid, machines.bound_device_uid),
  last_heartbeat_ms = excluded.last_heartbeat_ms;
`, rec.MachineID, rec.MachineType, rec.DisplayName, nullString(rec.BoundDeviceUID), toMs(now)); err != nil {
			return fmt.Errorf("EnsureSelf upsert: %w", err)
		}

		var err error
		out, err = scanMachine(tx.QueryRowContext(ctx,
			`SELECT `+machineColumns+` FROM machines WHERE machine_id = ?;`, rec.MachineID))
		if err != nil {
			return fmt.Errorf("EnsureSelf reload: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *Store) SetStatusIf(ctx context.Context, machineID string, status types.MachineStatus, now time.Time, from ...types.MachineStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("SetStatusIf: invalid status %q", status)
	}

	q := `
UPDATE machines
SET status = ?, last_heartbeat_ms = ?
WHERE machine_id = ? AND status <> 'maintenance'`
	args := []any{string(status), toMs(now), machineID}
	if len(from) > 0 {
		q += ` AND status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(from)), ",") + `)`
		for _, f := range from {
			args = append(args, string(f))
		}
	}

	var changed bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q+";", args...)
		if err != nil {
			return fmt.Errorf("SetStatusIf: %w", err)
		}
		n, _ := res.RowsAffected()
		changed = n > 0
		return nil
	})
	return changed, err
}

func (s *Store) TouchHeartbeat(ctx context.Context, machineID string, now time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE machines SET last_heartbeat_ms = ? WHERE machine_id = ?;
`, toMs(now), machineID); err != nil {
			return fmt.Errorf("TouchHeartbeat: %w", err)
		}
		return nil
	})
}
