package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

// StationView is the part of the station the local API exposes.
type StationView interface {
	Status(ctx context.Context) types.StatusResponse
	TriggerSync() bool
}

type Dependencies struct {
	Logger  *zap.Logger
	Addr    string
	Station StationView
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	station    StationView
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger:  logger,
		mux:     mux,
		station: d.Station,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/sync", s.handleSync)

	handler := loggingMiddleware(logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := s.station.Status(r.Context())

	if wantsProtobuf(r) {
		msg, err := statusToStruct(resp)
		if err != nil {
			s.logger.Error("status encode failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type syncResponse struct {
	Accepted  bool `json:"accepted"`
	Coalesced bool `json:"coalesced"`
}

// handleSync queues a sync cycle. A request that arrives while one is
// already queued is folded into it.
func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	queued := s.station.TriggerSync()
	writeJSON(w, http.StatusAccepted, syncResponse{Accepted: true, Coalesced: !queued})
}
