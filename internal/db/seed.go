package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixtures is a YAML snapshot of reference data used to stand up a station
// without a reachable remote store.
type Fixtures struct {
	Machines []struct {
		ID       string `yaml:"id"`
		Type     string `yaml:"type"`
		Name     string `yaml:"name"`
		Status   string `yaml:"status"`
		DeviceID string `yaml:"device_id"`
	} `yaml:"machines"`

	Credentials []struct {
		ID           string `yaml:"id"`
		DeviceUID    string `yaml:"device_uid"`
		Name         string `yaml:"name"`
		Group        string `yaml:"group"`
		Active       *bool  `yaml:"active"`
		Unrestricted bool   `yaml:"unrestricted"`
	} `yaml:"credentials"`

	Permissions []struct {
		CredentialID string `yaml:"credential_id"`
		MachineID    string `yaml:"machine_id"`
		GrantedBy    string `yaml:"granted_by"`
	} `yaml:"permissions"`

	Settings map[string]string `yaml:"settings"`
}

func LoadFixtures(path string) (Fixtures, error) {
	var f Fixtures
	b, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read fixtures: %w", err)
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return f, nil
}

// Seed upserts fixtures into the local mirror in one transaction. Live
// machine status and existing device bindings are left alone.
func Seed(ctx context.Context, w *Worker, f Fixtures) error {
	now := time.Now().UTC().UnixMilli()

	return w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, m := range f.Machines {
			if strings.TrimSpace(m.ID) == "" {
				continue
			}
			status := m.Status
			if status == "" {
				status = "neutral"
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO machines(machine_id, machine_type, display_name, status, bound_device_uid)
VALUES (?, ?, ?, ?, NULLIF(?, ''))
ON CONFLICT(machine_id) DO UPDATE SET
  machine_type = excluded.machine_type,
  display_name = excluded.display_name,
  bound_device_uid = COALESCE(excluded.bound_device_uid, machines.bound_device_uid);
`, m.ID, m.Type, m.Name, status, m.DeviceID); err != nil {
				return fmt.Errorf("seed machine %s: %w", m.ID, err)
			}
		}

		for _, c := range f.Credentials {
			if strings.TrimSpace(c.ID) == "" {
				continue
			}
			active := 1
			if c.Active != nil && !*c.Active {
				active = 0
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO credentials(credential_id, device_uid, display_name, access_group, is_active, unrestricted)
VALUES (?, NULLIF(?, ''), ?, ?, ?, ?)
ON CONFLICT(credential_id) DO UPDATE SET
  device_uid = COALESCE(credentials.device_uid, excluded.device_uid),
  display_name = excluded.display_name,
  access_group = excluded.access_group,
  is_active = excluded.is_active,
  unrestricted = excluded.unrestricted;
`, c.ID, c.DeviceUID, c.Name, c.Group, active, boolInt(c.Unrestricted)); err != nil {
				return fmt.Errorf("seed credential %s: %w", c.ID, err)
			}
		}

		for _, p := range f.Permissions {
			if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO permissions(credential_id, machine_id, granted_by, granted_at_ms)
VALUES (?, ?, ?, ?);
`, p.CredentialID, p.MachineID, p.GrantedBy, now); err != nil {
				return fmt.Errorf("seed permission %s/%s: %w", p.CredentialID, p.MachineID, err)
			}
		}

		for k, v := range f.Settings {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO settings(key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value;
`, k, v); err != nil {
				return fmt.Errorf("seed setting %s: %w", k, err)
			}
		}
		return nil
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
