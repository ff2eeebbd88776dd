package types

import "time"

type MachineStatus string

const (
	StatusNeutral     MachineStatus = "neutral"
	StatusInUse       MachineStatus = "in_use"
	StatusMaintenance MachineStatus = "maintenance"
	StatusOffline     MachineStatus = "offline"
)

func (s MachineStatus) Valid() bool {
	switch s {
	case StatusNeutral, StatusInUse, StatusMaintenance, StatusOffline:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestGranted  RequestStatus = "granted"
	RequestRejected RequestStatus = "rejected"
)

// Credential is a person's card. CredentialID is the printed id; DeviceUID is
// the tag's physical uid and stays empty until the card is first bound.
type Credential struct {
	CredentialID string
	DeviceUID    string
	DisplayName  string
	AccessGroup  string
	IsActive     bool // account enabled (remote-owned)
	Unrestricted bool // exempt from operating hours
	InUse        bool // holder currently has an open session
	LastUsed     *time.Time
}

// Name returns the display name, falling back to the credential id.
func (c Credential) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.CredentialID
}

type MachineRecord struct {
	MachineID      string
	MachineType    string
	DisplayName    string
	Status         MachineStatus
	BoundDeviceUID string
	LastHeartbeat  *time.Time
}

type Permission struct {
	CredentialID string
	MachineID    string
	GrantedBy    string
	GrantedAt    *time.Time
}

type AccessRequest struct {
	RequestID    string
	CredentialID string
	DeviceUID    string
	MachineID    string
	RequestedAt  time.Time
	Status       RequestStatus
	ReviewedBy   string
	ReviewedAt   *time.Time
}

type UsageSession struct {
	SessionID    string
	CredentialID string
	MachineID    string
	StartTime    time.Time
	EndTime      *time.Time
	Duration     int // whole minutes, set on close
}

// Open reports whether the session has not been closed yet.
func (s UsageSession) Open() bool { return s.EndTime == nil }

// DurationMinutes is floor((end - start) / 1 minute), never negative.
func DurationMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Binding is a first-seen DeviceUID binding awaiting push.
type Binding struct {
	CredentialID string
	DeviceUID    string
}
