package types

import "time"

type SessionState string

const (
	StateIdle   SessionState = "idle"
	StateActive SessionState = "active"
	StateGrace  SessionState = "grace"
)

// SessionSnapshot is a read-only view of the session state machine.
type SessionSnapshot struct {
	State           SessionState `json:"state"`
	SessionID       string       `json:"session_id,omitempty"`
	CredentialID    string       `json:"credential_id,omitempty"`
	DisplayName     string       `json:"display_name,omitempty"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	GraceRemaining  string       `json:"grace_remaining,omitempty"`
	ConsecutiveMiss int          `json:"consecutive_miss"`
}

// SyncResult summarises one pull or push.
type SyncResult struct {
	Skipped           bool           `json:"skipped"`
	Reason            string         `json:"reason,omitempty"`
	Pulled            map[string]int `json:"pulled,omitempty"`
	PushedRequests    int            `json:"pushed_requests"`
	PushedSessions    int            `json:"pushed_sessions"`
	PushedBindings    int            `json:"pushed_bindings"`
	MachineRegistered bool           `json:"machine_registered"`
	FinishedAt        time.Time      `json:"finished_at"`
}

// StatusResponse is served by the local status API.
type StatusResponse struct {
	MachineID     string          `json:"machine_id"`
	MachineStatus MachineStatus   `json:"machine_status"`
	Online        bool            `json:"online"`
	Session       SessionSnapshot `json:"session"`
	LastSync      *SyncResult     `json:"last_sync,omitempty"`
	ServerTime    string          `json:"server_time"`
}
