package remote

import (
	"strings"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

// Row types mirror the cloud tables maintained by the admin dashboard.

type userRow struct {
	CsuID       string     `gorm:"column:csu_id;primaryKey;size:64"`
	UID         *string    `gorm:"column:uid;size:64;uniqueIndex"`
	Name        string     `gorm:"column:name;size:255"`
	Email       string     `gorm:"column:email;size:255"`
	IsActive    bool       `gorm:"column:is_active"`
	LastUsed    *time.Time `gorm:"column:last_used"`
	AccessLevel string     `gorm:"column:access_level;size:64"`
	GroupName   string     `gorm:"column:group_name;size:64"`
}

func (userRow) TableName() string { return "users" }

const accessLevelUnrestricted = "unrestricted"

func (u userRow) credential() types.Credential {
	c := types.Credential{
		CredentialID: u.CsuID,
		DisplayName:  u.Name,
		AccessGroup:  u.GroupName,
		IsActive:     u.IsActive,
		Unrestricted: strings.EqualFold(u.AccessLevel, accessLevelUnrestricted),
		LastUsed:     u.LastUsed,
	}
	if u.UID != nil {
		c.DeviceUID = strings.TrimSpace(*u.UID)
	}
	return c
}

type machineRow struct {
	MachineID     string     `gorm:"column:machine_id;primaryKey;size:64"`
	MachineName   string     `gorm:"column:machine_name;size:255"`
	MachineType   string     `gorm:"column:machine_type;size:64"`
	MachineStatus string     `gorm:"column:machine_status;size:32;default:offline"`
	DeviceID      *string    `gorm:"column:device_id;size:128"`
	LastHeartbeat *time.Time `gorm:"column:last_heartbeat"`
}

func (machineRow) TableName() string { return "machine" }

func (m machineRow) record() types.MachineRecord {
	rec := types.MachineRecord{
		MachineID:     m.MachineID,
		MachineType:   m.MachineType,
		DisplayName:   m.MachineName,
		Status:        types.MachineStatus(m.MachineStatus),
		LastHeartbeat: m.LastHeartbeat,
	}
	if m.DeviceID != nil {
		rec.BoundDeviceUID = *m.DeviceID
	}
	return rec
}

type permissionRow struct {
	ID          uint       `gorm:"column:id;primaryKey;autoIncrement"`
	CsuID       string     `gorm:"column:csu_id;size:64;index"`
	UID         *string    `gorm:"column:uid;size:64"`
	MachineID   string     `gorm:"column:machine_id;size:64;index"`
	MachineType string     `gorm:"column:machine_type;size:64"`
	Access      string     `gorm:"column:access;size:32"`
	GrantedBy   string     `gorm:"column:granted_by;size:255"`
	GrantedAt   *time.Time `gorm:"column:granted_at"`
}

func (permissionRow) TableName() string { return "machine_permissions" }

type settingRow struct {
	Key         string `gorm:"column:key;primaryKey;size:128"`
	Value       string `gorm:"column:value;size:255"`
	Description string `gorm:"column:description;size:255"`
}

func (settingRow) TableName() string { return "system_settings" }

type requestRow struct {
	RequestID   string     `gorm:"column:request_id;primaryKey;size:64"`
	UID         *string    `gorm:"column:uid;size:64"`
	CsuID       string     `gorm:"column:csu_id;size:64"`
	MachineID   string     `gorm:"column:machine_id;size:64"`
	MachineType string     `gorm:"column:machine_type;size:64"`
	RequestedOn time.Time  `gorm:"column:requested_on"`
	Status      string     `gorm:"column:status;size:32;default:under_review"`
	ReviewedBy  *string    `gorm:"column:reviewed_by;size:255"`
	ReviewedAt  *time.Time `gorm:"column:reviewed_at"`
}

func (requestRow) TableName() string { return "access_requests" }

// Dashboard status vocabulary.
const (
	remoteUnderReview = "under_review"
	remoteApproved    = "approved"
	remoteRejected    = "rejected"
)

func requestStatus(s string) types.RequestStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case remoteApproved, string(types.RequestGranted):
		return types.RequestGranted
	case remoteRejected, "denied":
		return types.RequestRejected
	default:
		return types.RequestPending
	}
}

func (r requestRow) request() types.AccessRequest {
	req := types.AccessRequest{
		RequestID:    r.RequestID,
		CredentialID: r.CsuID,
		MachineID:    r.MachineID,
		RequestedAt:  r.RequestedOn,
		Status:       requestStatus(r.Status),
		ReviewedAt:   r.ReviewedAt,
	}
	if r.UID != nil {
		req.DeviceUID = *r.UID
	}
	if r.ReviewedBy != nil {
		req.ReviewedBy = *r.ReviewedBy
	}
	return req
}

type usageRow struct {
	SessionID   string     `gorm:"column:session_id;primaryKey;size:64"`
	CsuID       string     `gorm:"column:csu_id;size:64"`
	MachineID   string     `gorm:"column:machine_id;size:64"`
	MachineType string     `gorm:"column:machine_type;size:64"`
	StartTime   time.Time  `gorm:"column:start_time"`
	EndTime     *time.Time `gorm:"column:end_time"`
	Duration    int        `gorm:"column:duration"`
}

func (usageRow) TableName() string { return "machine_usage" }

// Models lists every row type, for AutoMigrate in tests and dev databases.
func Models() []any {
	return []any{&userRow{}, &machineRow{}, &permissionRow{}, &settingRow{}, &requestRow{}, &usageRow{}}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
