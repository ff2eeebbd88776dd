package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/httpapi"
)

type fakeStation struct {
	mu       sync.Mutex
	status   types.StatusResponse
	queued   bool
	triggers int
}

func (f *fakeStation) Status(context.Context) types.StatusResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeStation) TriggerSync() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	if f.queued {
		return false
	}
	f.queued = true
	return true
}

func newTestServer(t *testing.T, st *fakeStation) *httptest.Server {
	t.Helper()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  zap.NewNop(),
		Addr:    ":0",
		Station: st,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func sampleStatus() types.StatusResponse {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return types.StatusResponse{
		MachineID:     "laser-01",
		MachineStatus: types.StatusInUse,
		Online:        true,
		Session: types.SessionSnapshot{
			State:        types.StateActive,
			SessionID:    "s-1",
			CredentialID: "830000001",
			StartedAt:    &started,
		},
		ServerTime: "2026-03-02T09:05:00Z",
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeStation{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus_JSON(t *testing.T) {
	ts := newTestServer(t, &fakeStation{status: sampleStatus()})

	resp, err := http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got types.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "laser-01", got.MachineID)
	assert.Equal(t, types.StatusInUse, got.MachineStatus)
	assert.True(t, got.Online)
	assert.Equal(t, types.StateActive, got.Session.State)
	assert.Equal(t, "830000001", got.Session.CredentialID)
}

func TestStatus_Protobuf(t *testing.T) {
	ts := newTestServer(t, &fakeStation{status: sampleStatus()})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var msg structpb.Struct
	require.NoError(t, proto.Unmarshal(body, &msg))
	fields := msg.AsMap()
	assert.Equal(t, "laser-01", fields["machine_id"])
	assert.Equal(t, "in_use", fields["machine_status"])
	assert.Equal(t, true, fields["online"])

	session, ok := fields["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "active", session["state"])
}

func TestSync_CoalescesWhileQueued(t *testing.T) {
	st := &fakeStation{}
	ts := newTestServer(t, st)

	post := func() map[string]bool {
		resp, err := http.Post(ts.URL+"/v1/sync", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body
	}

	first := post()
	assert.True(t, first["accepted"])
	assert.False(t, first["coalesced"])

	second := post()
	assert.True(t, second["accepted"])
	assert.True(t, second["coalesced"])
	assert.Equal(t, 2, st.triggers)
}

func TestSync_WrongMethod(t *testing.T) {
	ts := newTestServer(t, &fakeStation{})

	resp, err := http.Get(ts.URL + "/v1/sync")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
