package memory

import (
	"sort"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

// Administrative helpers. These stand in for the admin dashboard that owns
// the remote tables in production.

func (r *Remote) PutCredential(c types.Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credentials[c.CredentialID] = c
}

func (r *Remote) PutMachine(m types.MachineRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[m.MachineID] = m
}

// SetMachineStatus overwrites a machine's status unconditionally, the way an
// administrator would place it into or out of maintenance.
func (r *Remote) SetMachineStatus(machineID string, status types.MachineStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[machineID]
	if !ok {
		m = types.MachineRecord{MachineID: machineID}
	}
	m.Status = status
	r.machines[machineID] = m
}

func (r *Remote) Grant(credentialID, machineID, grantedBy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.permissions[[2]string{credentialID, machineID}] = types.Permission{
		CredentialID: credentialID,
		MachineID:    machineID,
		GrantedBy:    grantedBy,
		GrantedAt:    &now,
	}
}

func (r *Remote) Revoke(credentialID, machineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.permissions, [2]string{credentialID, machineID})
}

func (r *Remote) PutSetting(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
}

// Review resolves a request. It reports false when the request is unknown.
func (r *Remote) Review(requestID string, status types.RequestStatus, reviewer string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok {
		return false
	}
	req.Status = status
	req.ReviewedBy = reviewer
	req.ReviewedAt = &at
	r.requests[requestID] = req
	return true
}

// Requests returns a copy of all requests ordered by request time.
func (r *Remote) Requests() []types.AccessRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AccessRequest, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// Sessions returns a copy of all sessions ordered by start time.
func (r *Remote) Sessions() []types.UsageSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.UsageSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (r *Remote) Credential(credentialID string) (types.Credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.credentials[credentialID]
	return c, ok
}
