package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/nta-batch/internal/logging"
	"github.com/hochfrequenz/nta-batch/internal/runstore"
)

// Store is the run history the API reads from
type Store interface {
	ListRuns(limit int) ([]*runstore.Run, error)
	GetRun(id string) (*runstore.Run, error)
	ListSamples(runID string) ([]runstore.Sample, error)
	ListEvents(runID string) ([]runstore.Event, error)
}

// Server is the HTTP API server
type Server struct {
	store    Store
	live     *Live
	addr     string
	log      *logging.Logger
	mux      *http.ServeMux
	sseHub   *SSEHub
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. store may be nil when no history is kept.
func NewServer(store Store, live *Live, addr string, log *logging.Logger) *Server {
	if live == nil {
		live = NewLive()
	}
	if log == nil {
		log = logging.NopLogger()
	}
	s := &Server{
		store:  store,
		live:   live,
		addr:   addr,
		log:    log,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
	}
	live.attach(s.sseHub)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/samples", s.samplesHandler())
	s.mux.HandleFunc("/api/abort", s.abortHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Live returns the run state the server reports on
func (s *Server) Live() *Live {
	return s.live
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.sseHub.Run(hubCtx)

	srv := &http.Server{Addr: s.addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("web api listening", "addr", s.addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Broadcast sends an event to all SSE and websocket clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sameOrigin reports whether r carries no Origin header or one naming this
// host. Browser requests from other sites must not reach the abort paths.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
