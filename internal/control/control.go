// Package control implements the minimal localhost control surface for
// querying and toggling a running daemon: health, status, toggle, and
// stats, bound to loopback only. The transport is intentionally a small
// stdlib net/http-based surface, matching the rest of this codebase's
// habit of not reaching for a router framework for small admin APIs.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Backend is implemented by the daemon to answer Control Interface
// requests. It is a narrow seam so this package never imports the daemon
// package, avoiding an import cycle.
type Backend interface {
	// Health reports the always-available health payload.
	Health() (h HealthResponse)

	// Status reports the full status payload.
	Status() (s StatusResponse)

	// Toggle flips the blocking state via the Lifecycle Manager's
	// serialized Toggle path and returns the new state.
	Toggle(ctx context.Context) (isBlocking bool, err error)

	// Stats reports the full statistics snapshot.
	Stats() (s StatsResponse)
}

// HealthResponse is the health endpoint's payload.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Pid    int    `json:"pid"`
	BootID string `json:"bootId"`
}

// StatusResponse is the status endpoint's payload.
type StatusResponse struct {
	BlockingMethod string `json:"blockingMethod"`
	IsRunning      bool   `json:"isRunning"`
	IsBlocking     bool   `json:"isBlocking"`
	DomainsInList  int    `json:"domainsInList"`
	QueriesSeen    uint64 `json:"queriesSeen"`
	QueriesBlocked uint64 `json:"queriesBlocked"`
	QueriesAllowed uint64 `json:"queriesAllowed"`
	Uptime         string `json:"uptime"`
}

// ToggleResponse is the toggle endpoint's payload.
type ToggleResponse struct {
	IsBlocking bool `json:"isBlocking"`
}

// StatsResponse is the stats endpoint's payload.
type StatsResponse struct {
	QueriesSeen    uint64 `json:"queriesSeen"`
	QueriesBlocked uint64 `json:"queriesBlocked"`
	QueriesAllowed uint64 `json:"queriesAllowed"`
	ForwardErrors  uint64 `json:"forwardErrors"`
	Uptime         string `json:"uptime"`
}

// errResponse is the JSON body returned on error.
type errResponse struct {
	Error string `json:"error"`
}

// Config configures a Server.
type Config struct {
	// Addr is the loopback address to bind to, e.g. "127.0.0.1:5370".
	Addr string

	// Backend answers requests. Must not be nil.
	Backend Backend

	// Logger receives diagnostic events. Must not be nil.
	Logger *slog.Logger
}

// Server is the loopback-bound Control Interface HTTP server.
type Server struct {
	httpSrv *http.Server
	ln      net.Listener
	conf    Config
}

// New constructs an unstarted Server for conf.
func New(conf Config) (s *Server) {
	mux := http.NewServeMux()
	srv := &Server{conf: conf}

	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/status", srv.handleStatus)
	mux.HandleFunc("/toggle", srv.handleToggle)
	mux.HandleFunc("/stats", srv.handleStats)

	srv.httpSrv = &http.Server{
		Handler:           loopbackOnly(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Start binds the loopback listener and begins serving requests in the
// background.
func (s *Server) Start(ctx context.Context) (err error) {
	ln, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return fmt.Errorf("binding control interface listener: %w", err)
	}

	s.ln = ln

	go func() {
		srvErr := s.httpSrv.Serve(ln)
		if srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			s.conf.Logger.ErrorContext(ctx, "control interface serve error", slogutil.KeyError, srvErr)
		}
	}()

	s.conf.Logger.InfoContext(ctx, "control interface listening", "addr", ln.Addr())

	return nil
}

// Stop gracefully shuts the server down, waiting up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) (err error) {
	if s.httpSrv == nil {
		return nil
	}

	return s.httpSrv.Shutdown(ctx)
}

// loopbackOnly rejects requests whose remote address is not loopback. It
// also sets conservative response headers.
func loopbackOnly(next http.Handler) (h http.Handler) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			writeError(w, http.StatusForbidden, errors.New("control interface is loopback-only"))

			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeError writes err as a JSON error response with the given status
// code.
func writeError(w http.ResponseWriter, code int, err error) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errResponse{Error: err.Error()})
}

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.conf.Backend.Health())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.conf.Backend.Status())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("toggle requires POST"))

		return
	}

	isBlocking, err := s.conf.Backend.Toggle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, ToggleResponse{IsBlocking: isBlocking})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.conf.Backend.Stats())
}
