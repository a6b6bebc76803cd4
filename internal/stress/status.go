package stress

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
)

// StatusServer exposes the live meters of a run over HTTP.
type StatusServer struct {
	meters metrics.Registry
	phase  func() string
	server *http.Server
}

type statusResponse struct {
	Phase  string                   `json:"phase"`
	Meters map[string]MeterSnapshot `json:"meters"`
}

// NewStatusServer serves GET /status on addr. phase reports what the run is
// currently doing.
func NewStatusServer(addr string, meters metrics.Registry, phase func() string) *StatusServer {
	s := &StatusServer{meters: meters, phase: phase}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *StatusServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Meters: Snapshot(s.meters)}
	if s.phase != nil {
		resp.Phase = s.phase()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "writing status response",
		}))
	}
}

// Start listens on the configured address and serves in the background.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on '%s'", s.server.Addr)
	}
	grip.Info(message.Fields{
		"message": "serving status",
		"addr":    ln.Addr().String(),
	})
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			grip.Error(message.WrapError(err, message.Fields{
				"message": "status server stopped",
			}))
		}
	}()
	return nil
}

func (s *StatusServer) Close(ctx context.Context) error {
	return errors.Wrap(s.server.Shutdown(ctx), "shutting down status server")
}
