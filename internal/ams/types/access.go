package types

import "time"

// Scan is one reader hit: the tag's physical uid and the credential id
// decoded from its data block (may be empty if the block was unreadable).
type Scan struct {
	DeviceUID    string
	CredentialID string
}

type Outcome string

const (
	OutcomeAllow   Outcome = "allow"
	OutcomeDeny    Outcome = "deny"
	OutcomePending Outcome = "pending"
)

// Deny reasons.
const (
	ReasonOutsideHours = "outside_hours"
	ReasonMaintenance  = "maintenance"
	ReasonNoPermission = "no_permission"
	ReasonInactive     = "card_inactive"
	ReasonUnknownCard  = "unknown_card"
	ReasonPermitted    = "permitted"
)

type Decision struct {
	Outcome    Outcome
	Credential Credential // set on ALLOW
	Reason     string
	RequestID  string // set on PENDING
	DecidedAt  time.Time
}

func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// AccessEvent is one row of the local decision audit log.
type AccessEvent struct {
	MachineID    string
	DeviceUID    string
	CredentialID string
	Outcome      Outcome
	Reason       string
	RequestID    string
	DecidedAt    time.Time
}
