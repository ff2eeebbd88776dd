package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

const credentialColumns = `credential_id, device_uid, display_name, access_group,
  is_active, unrestricted, in_use, last_used_ms`

func scanCredential(row scanner) (types.Credential, error) {
	var (
		c            types.Credential
		uid          sql.NullString
		active       int
		unrestricted int
		inUse        int
		lastUsed     sql.NullInt64
	)
	if err := row.Scan(&c.CredentialID, &uid, &c.DisplayName, &c.AccessGroup,
		&active, &unrestricted, &inUse, &lastUsed); err != nil {
		return c, err
	}
	c.DeviceUID = uid.String
	c.IsActive = active == 1
	c.Unrestricted = unrestricted == 1
	c.InUse = inUse == 1
	c.LastUsed = timePtr(lastUsed)
	return c, nil
}

func (s *Store) CredentialByDeviceUID(ctx context.Context, deviceUID string) (types.Credential, bool, error) {
	deviceUID = strings.TrimSpace(deviceUID)
	if deviceUID == "" {
		return types.Credential{}, false, nil
	}
	c, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE device_uid = ?;`, deviceUID))
	if err == sql.ErrNoRows {
		return types.Credential{}, false, nil
	}
	if err != nil {
		return types.Credential{}, false, fmt.Errorf("CredentialByDeviceUID: %w", err)
	}
	return c, true, nil
}

func (s *Store) CredentialByID(ctx context.Context, credentialID string) (types.Credential, bool, error) {
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return types.Credential{}, false, nil
	}
	c, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE credential_id = ?;`, credentialID))
	if err == sql.ErrNoRows {
		return types.Credential{}, false, nil
	}
	if err != nil {
		return types.Credential{}, false, fmt.Errorf("CredentialByID: %w", err)
	}
	return c, true, nil
}

func (s *Store) BindDeviceUID(ctx context.Context, credentialID, deviceUID string) (types.Credential, bool, error) {
	credentialID = strings.TrimSpace(credentialID)
	deviceUID = strings.TrimSpace(deviceUID)
	if credentialID == "" || deviceUID == "" {
		return types.Credential{}, false, nil
	}

	var (
		bound bool
		cred  types.Credential
	)
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// The uid may already belong to someone else.
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT credential_id FROM credentials WHERE device_uid = ?;`, deviceUID).Scan(&owner)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("BindDeviceUID owner: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
UPDATE credentials
SET device_uid = ?, binding_pending = 1
WHERE credential_id = ? AND device_uid IS NULL;
`, deviceUID, credentialID)
		if err != nil {
			return fmt.Errorf("BindDeviceUID update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		cred, err = scanCredential(tx.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE credential_id = ?;`, credentialID))
		if err != nil {
			return fmt.Errorf("BindDeviceUID reload: %w", err)
		}
		bound = true
		return nil
	})
	if err != nil {
		return types.Credential{}, false, err
	}
	return cred, bound, nil
}

func (s *Store) PendingBindings(ctx context.Context) ([]types.Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT credential_id, device_uid
FROM credentials
WHERE binding_pending = 1 AND device_uid IS NOT NULL
ORDER BY credential_id;
`)
	if err != nil {
		return nil, fmt.Errorf("PendingBindings: %w", err)
	}
	defer rows.Close()

	var out []types.Binding
	for rows.Next() {
		var b types.Binding
		if err := rows.Scan(&b.CredentialID, &b.DeviceUID); err != nil {
			return nil, fmt.Errorf("PendingBindings scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ClearBindingPending(ctx context.Context, b types.Binding) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE credentials SET binding_pending = 0
WHERE credential_id = ? AND device_uid = ?;
`, b.CredentialID, b.DeviceUID); err != nil {
			return fmt.Errorf("ClearBindingPending: %w", err)
		}
		return nil
	})
}

func (s *Store) HasPermission(ctx context.Context, credentialID, machineID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
SELECT 1 FROM permissions WHERE credential_id = ? AND machine_id = ?;
`, credentialID, machineID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("HasPermission: %w", err)
	}
	return true, nil
}

func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?;`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("Setting %s: %w", key, err)
	}
	return v, true, nil
}
