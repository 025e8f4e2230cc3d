// Package statusapi serves a read-only JSON view of the dashboard.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"adbdash/internal/connect"
	"adbdash/internal/telemetry"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultPort is used when neither the caller nor the environment picks one.
const DefaultPort = 9877

// PortEnv overrides the port.
const PortEnv = "ADBDASH_STATUS_PORT"

// StateSource is the part of the connect controller the server reads.
type StateSource interface {
	State() connect.State
}

// Server is the status HTTP server.
type Server struct {
	state    StateSource
	snapshot *telemetry.Snapshot
	log      zerolog.Logger

	router chi.Router
	server *http.Server
	port   int
	addr   net.Addr
}

// Port resolves the listen port: a positive port wins, then PortEnv, then
// DefaultPort. Zero asks for any free port only when explicitly set via
// PortEnv.
func Port(port int) int {
	if port > 0 {
		return port
	}
	if v := os.Getenv(PortEnv); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p >= 0 && p < 65536 {
			return p
		}
	}
	return DefaultPort
}

// New creates a server. See Port for how port is resolved.
func New(state StateSource, snapshot *telemetry.Snapshot, port int, log zerolog.Logger) *Server {
	s := &Server{
		state:    state,
		snapshot: snapshot,
		log:      log.With().Str("component", "statusapi").Logger(),
		port:     Port(port),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: &s.log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.getState)
		r.Get("/telemetry", s.getTelemetry)
		r.Get("/sysinfo", s.getSysInfo)
		r.Get("/packages", s.getPackages)
	})
	s.router = r
	s.server = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	s.addr = ln.Addr()
	s.log.Info().Str("addr", s.addr.String()).Msg("status server listening")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("status server")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() net.Addr { return s.addr }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

type backendDTO struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
}

type stateDTO struct {
	Backends   []backendDTO `json:"backends"`
	Selected   string       `json:"selected"`
	Connected  string       `json:"connected,omitempty"`
	Connecting bool         `json:"connecting"`
	Supported  bool         `json:"usb_supported"`
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	st := s.state.State()
	dto := stateDTO{
		Backends:   make([]backendDTO, 0, len(st.Backends)),
		Selected:   st.Selected,
		Connected:  st.Connected,
		Connecting: st.Connecting,
		Supported:  st.Supported,
	}
	for _, b := range st.Backends {
		dto.Backends = append(dto.Backends, backendDTO{Serial: b.Serial(), Name: b.Name(), Kind: string(b.Kind())})
	}
	s.writeJSON(w, dto)
}

type telemetryDTO struct {
	Updated *time.Time         `json:"updated,omitempty"`
	Samples []telemetry.Sample `json:"samples"`
}

func (s *Server) getTelemetry(w http.ResponseWriter, r *http.Request) {
	dto := telemetryDTO{Samples: s.snapshot.Samples()}
	if u := s.snapshot.Updated(); !u.IsZero() {
		dto.Updated = &u
	}
	s.writeJSON(w, dto)
}

func (s *Server) getSysInfo(w http.ResponseWriter, r *http.Request) {
	rows := s.snapshot.Rows()
	if rows == nil {
		rows = []telemetry.Row{}
	}
	s.writeJSON(w, rows)
}

func (s *Server) getPackages(w http.ResponseWriter, r *http.Request) {
	pkgs := s.snapshot.Packages()
	if pkgs == nil {
		pkgs = []telemetry.Package{}
	}
	s.writeJSON(w, pkgs)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}
