// Package web provides an HTTP status server for the water-sim daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/water-sim/internal/logic"
	"github.com/sweeney/water-sim/internal/status"
	"github.com/sweeney/water-sim/internal/tags"
)

// maxTagBody caps the size of a tag write request.
const maxTagBody = 1024

// Operator applies operator requests to the running plant.
type Operator interface {
	// StartBackwash requests a backwash cycle.
	StartBackwash() error

	// SetTag writes raw to the tag at path, relative to the base path.
	SetTag(path, raw string) (key string, value any, err error)
}

// Server serves the status page, read-only JSON views and metrics over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	op         Operator
}

// New creates a Server that reads state from the given tracker. If op is
// nil the operator routes are not served.
func New(addr string, tracker *status.Tracker, op Operator) *Server {
	s := &Server{tracker: tracker, op: op}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/tanks.json", s.handleTanks).Methods(http.MethodGet)
	r.HandleFunc("/tanks/{id}.json", s.handleTank).Methods(http.MethodGet)
	r.HandleFunc("/diagnostics.json", s.handleDiagnostics).Methods(http.MethodGet)
	r.HandleFunc("/state.json", s.handleState).Methods(http.MethodGet)
	if op != nil {
		r.HandleFunc("/backwash", s.handleBackwash).Methods(http.MethodPost)
		r.HandleFunc("/tags/{path:.+}", s.handleSetTag).Methods(http.MethodPost)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleTanks(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, formatTanks(logic.TankSnapshots(snap.State)))
}

func (s *Server) handleTank(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap := s.tracker.Snapshot()
	for _, t := range logic.TankSnapshots(snap.State) {
		if t.ID == id {
			writeJSON(w, formatTank(t))
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, formatDiagnostics(logic.Diagnostics(snap.State)))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	data, _ := json.MarshalIndent(NewStateJSON(s.tracker.Snapshot().State), "", "  ")
	writeJSON(w, data)
}

func (s *Server) handleBackwash(w http.ResponseWriter, r *http.Request) {
	if err := s.op.StartBackwash(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleSetTag writes the request body, as text, to the tag in the path.
func (s *Server) handleSetTag(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTagBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key, v, err := s.op.SetTag(mux.Vars(r)["path"], strings.TrimSpace(string(body)))
	if err != nil {
		writeError(w, err)
		return
	}
	data, _ := json.Marshal(TagJSON{Key: key, Value: v})
	writeJSON(w, data)
}

// writeError maps store errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		nf *tags.NotFoundError
		ve *tags.ValueError
	)
	switch {
	case errors.As(err, &nf):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &ve):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
