package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

// localCredentialState is the part of a credential row that the remote
// store does not own yet.
type localCredentialState struct {
	id             string
	deviceUID      string
	inUse          bool
	lastUsedMs     sql.NullInt64
	bindingPending bool
}

// ReplaceCredentials swaps in the remote credential set. In-use flags, newer
// last-used times and unpushed first-seen bindings survive the swap; a
// binding is dropped if the remote already bound that credential or uid.
func (s *Store) ReplaceCredentials(ctx context.Context, rows []types.Credential) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		local, err := readLocalCredentialState(ctx, tx)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials;`); err != nil {
			return fmt.Errorf("ReplaceCredentials delete: %w", err)
		}

		seenUID := make(map[string]bool, len(rows))
		for _, c := range rows {
			id := strings.TrimSpace(c.CredentialID)
			if id == "" {
				continue
			}
			uid := strings.TrimSpace(c.DeviceUID)
			if uid != "" {
				if seenUID[uid] {
					uid = ""
				} else {
					seenUID[uid] = true
				}
			}
			if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO credentials(
  credential_id, device_uid, display_name, access_group, is_active, unrestricted, last_used_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, id, nullString(uid), c.DisplayName, c.AccessGroup,
				boolInt(c.IsActive), boolInt(c.Unrestricted), nullMs(c.LastUsed)); err != nil {
				return fmt.Errorf("ReplaceCredentials insert %s: %w", id, err)
			}
		}

		for _, l := range local {
			if l.inUse {
				if _, err := tx.ExecContext(ctx,
					`UPDATE credentials SET in_use = 1 WHERE credential_id = ?;`, l.id); err != nil {
					return fmt.Errorf("ReplaceCredentials restore in_use: %w", err)
				}
			}
			if l.lastUsedMs.Valid {
				if _, err := tx.ExecContext(ctx, `
UPDATE credentials SET last_used_ms = ?
WHERE credential_id = ? AND (last_used_ms IS NULL OR last_used_ms < ?);
`, l.lastUsedMs.Int64, l.id, l.lastUsedMs.Int64); err != nil {
					return fmt.Errorf("ReplaceCredentials restore last_used: %w", err)
				}
			}
			if l.bindingPending && l.deviceUID != "" && !seenUID[l.deviceUID] {
				if _, err := tx.ExecContext(ctx, `
UPDATE credentials SET device_uid = ?, binding_pending = 1
WHERE credential_id = ? AND device_uid IS NULL;
`, l.deviceUID, l.id); err != nil {
					return fmt.Errorf("ReplaceCredentials restore binding: %w", err)
				}
			}
		}
		return nil
	})
}

func readLocalCredentialState(ctx context.Context, tx *sql.Tx) ([]localCredentialState, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT credential_id, device_uid, in_use, last_used_ms, binding_pending
FROM credentials
WHERE in_use = 1 OR binding_pending = 1 OR last_used_ms IS NOT NULL;
`)
	if err != nil {
		return nil, fmt.Errorf("ReplaceCredentials read local: %w", err)
	}
	defer rows.Close()

	var out []localCredentialState
	for rows.Next() {
		var (
			l       localCredentialState
			uid     sql.NullString
			inUse   int
			pending int
		)
		if err := rows.Scan(&l.id, &uid, &inUse, &l.lastUsedMs, &pending); err != nil {
			return nil, fmt.Errorf("ReplaceCredentials scan local: %w", err)
		}
		l.deviceUID = uid.String
		l.inUse = inUse == 1
		l.bindingPending = pending == 1
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) ReplacePermissions(ctx context.Context, rows []types.Permission) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM permissions;`); err != nil {
			return fmt.Errorf("ReplacePermissions delete: %w", err)
		}
		for _, p := range rows {
			if p.CredentialID == "" || p.MachineID == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO permissions(credential_id, machine_id, granted_by, granted_at_ms)
VALUES (?, ?, ?, ?);
`, p.CredentialID, p.MachineID, p.GrantedBy, nullMs(p.GrantedAt)); err != nil {
				return fmt.Errorf("ReplacePermissions insert: %w", err)
			}
		}
		return nil
	})
}

// ReplaceMachines swaps in the remote machine set. The self record keeps its
// local live status, heartbeat and bound device uid, except that a remote
// maintenance status always wins, and a local maintenance status that the
// remote has lifted is replaced by the remote one.
func (s *Store) ReplaceMachines(ctx context.Context, rows []types.MachineRecord, selfID string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		self, hadSelf, err := func() (types.MachineRecord, bool, error) {
			m, err := scanMachine(tx.QueryRowContext(ctx,
				`SELECT `+machineColumns+` FROM machines WHERE machine_id = ?;`, selfID))
			if err == sql.ErrNoRows {
				return m, false, nil
			}
			return m, err == nil, err
		}()
		if err != nil {
			return fmt.Errorf("ReplaceMachines read self: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM machines;`); err != nil {
			return fmt.Errorf("ReplaceMachines delete: %w", err)
		}

		var remoteSelf *types.MachineRecord
		for i := range rows {
			m := rows[i]
			if m.MachineID == "" {
				continue
			}
			status := m.Status
			if !status.Valid() {
				status = types.StatusOffline
			}
			if m.MachineID == selfID {
				remoteSelf = &rows[i]
			}
			if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO machines(machine_id, machine_type, display_name, status, bound_device_uid, last_heartbeat_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, m.MachineID, m.MachineType, m.DisplayName, string(status),
				nullString(m.BoundDeviceUID), nullMs(m.LastHeartbeat)); err != nil {
				return fmt.Errorf("ReplaceMachines insert %s: %w", m.MachineID, err)
			}
		}

		if !hadSelf {
			return nil
		}

		switch {
		case remoteSelf == nil:
			// Not registered remotely yet; keep the local row for the next push.
			_, err = tx.ExecContext(ctx, `
INSERT INTO machines(machine_id, machine_type, display_name, status, bound_device_uid, last_heartbeat_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, self.MachineID, self.MachineType, self.DisplayName, string(self.Status),
				nullString(self.BoundDeviceUID), nullMs(self.LastHeartbeat))
		case remoteSelf.Status == types.StatusMaintenance:
			_, err = tx.ExecContext(ctx, `
UPDATE machines SET bound_device_uid = COALESCE(?, bound_device_uid) WHERE machine_id = ?;
`, nullString(self.BoundDeviceUID), selfID)
		case self.Status == types.StatusMaintenance:
			// Maintenance lifted remotely. The remote's live status is from
			// before maintenance, so derive it from the local session table.
			var open int
			if err = tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM usage_sessions WHERE machine_id = ? AND end_time_ms IS NULL;
`, selfID).Scan(&open); err != nil {
				break
			}
			status := types.StatusNeutral
			if open > 0 {
				status = types.StatusInUse
			}
			_, err = tx.ExecContext(ctx, `
UPDATE machines SET status = ?, bound_device_uid = COALESCE(?, bound_device_uid) WHERE machine_id = ?;
`, string(status), nullString(self.BoundDeviceUID), selfID)
		default:
			_, err = tx.ExecContext(ctx, `
UPDATE machines
SET status = ?, last_heartbeat_ms = ?, bound_device_uid = COALESCE(?, bound_device_uid)
WHERE machine_id = ?;
`, string(self.Status), nullMs(self.LastHeartbeat), nullString(self.BoundDeviceUID), selfID)
		}
		if err != nil {
			return fmt.Errorf("ReplaceMachines restore self: %w", err)
		}
		return nil
	})
}

func (s *Store) ReplaceSettings(ctx context.Context, settings map[string]string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM settings;`); err != nil {
			return fmt.Errorf("ReplaceSettings delete: %w", err)
		}
		for k, v := range settings {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO settings(key, value) VALUES (?, ?);`, k, v); err != nil {
				return fmt.Errorf("ReplaceSettings insert %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *Store) MirrorEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM credentials) + (SELECT COUNT(*) FROM permissions);
`).Scan(&n); err != nil {
		return false, fmt.Errorf("MirrorEmpty: %w", err)
	}
	return n == 0, nil
}
