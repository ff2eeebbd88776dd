package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

var errUnreachable = errors.New("remote unreachable")

// Remote is an in-memory RemoteStore. It is intended for tests and dev
// environments without a cloud database.
type Remote struct {
	mu          sync.RWMutex
	offline     bool
	credentials map[string]types.Credential
	permissions map[[2]string]types.Permission
	machines    map[string]types.MachineRecord
	settings    map[string]string
	requests    map[string]types.AccessRequest
	sessions    map[string]types.UsageSession
}

var _ store.RemoteStore = (*Remote)(nil)

func New() *Remote {
	return &Remote{
		credentials: make(map[string]types.Credential),
		permissions: make(map[[2]string]types.Permission),
		machines:    make(map[string]types.MachineRecord),
		settings:    make(map[string]string),
		requests:    make(map[string]types.AccessRequest),
		sessions:    make(map[string]types.UsageSession),
	}
}

// SetOnline toggles reachability. While offline every call fails with a
// TransientIO error.
func (r *Remote) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = !online
}

func (r *Remote) check() error {
	if r.offline {
		return errclass.TransientIO.Wrap(errUnreachable)
	}
	return nil
}

func (r *Remote) Ping(_ context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.check()
}

func (r *Remote) Credentials(_ context.Context) ([]types.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]types.Credential, 0, len(r.credentials))
	for _, c := range r.credentials {
		c.InUse = false
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out, nil
}

func (r *Remote) Permissions(_ context.Context) ([]types.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]types.Permission, 0, len(r.permissions))
	for _, p := range r.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CredentialID != out[j].CredentialID {
			return out[i].CredentialID < out[j].CredentialID
		}
		return out[i].MachineID < out[j].MachineID
	})
	return out, nil
}

func (r *Remote) Machines(_ context.Context) ([]types.MachineRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]types.MachineRecord, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

func (r *Remote) Settings(_ context.Context) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(r.settings))
	for k, v := range r.settings {
		out[k] = v
	}
	return out, nil
}

func (r *Remote) RequestReviews(_ context.Context, ids []string) ([]types.AccessRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	var out []types.AccessRequest
	for _, id := range ids {
		if req, ok := r.requests[id]; ok {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *Remote) Machine(_ context.Context, machineID string) (types.MachineRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(); err != nil {
		return types.MachineRecord{}, false, err
	}
	m, ok := r.machines[machineID]
	return m, ok, nil
}

func (r *Remote) RegisterMachine(_ context.Context, rec types.MachineRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	if _, ok := r.machines[rec.MachineID]; ok {
		return nil
	}
	if !rec.Status.Valid() {
		rec.Status = types.StatusNeutral
	}
	r.machines[rec.MachineID] = rec
	return nil
}

func (r *Remote) UpdateMachineLive(_ context.Context, machineID string, status types.MachineStatus, deviceUID string, heartbeat time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	m, ok := r.machines[machineID]
	if !ok {
		return nil
	}
	if m.Status != types.StatusMaintenance {
		m.Status = status
	}
	if deviceUID != "" {
		m.BoundDeviceUID = deviceUID
	}
	hb := heartbeat
	m.LastHeartbeat = &hb
	r.machines[machineID] = m
	return nil
}

func (r *Remote) BindCredentialDevice(_ context.Context, credentialID, deviceUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	c, ok := r.credentials[credentialID]
	if !ok || c.DeviceUID != "" {
		return nil
	}
	for _, other := range r.credentials {
		if other.DeviceUID == deviceUID {
			return nil
		}
	}
	c.DeviceUID = deviceUID
	r.credentials[credentialID] = c
	return nil
}

func (r *Remote) UpsertAccessRequest(_ context.Context, req types.AccessRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	if cur, ok := r.requests[req.RequestID]; ok {
		req.Status = cur.Status
		req.ReviewedBy = cur.ReviewedBy
		req.ReviewedAt = cur.ReviewedAt
	} else {
		req.Status = types.RequestPending
		req.ReviewedBy = ""
		req.ReviewedAt = nil
	}
	r.requests[req.RequestID] = req
	return nil
}

func (r *Remote) UpsertUsageSession(_ context.Context, s types.UsageSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	r.sessions[s.SessionID] = s
	return nil
}
