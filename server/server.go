package server

import (
	"encoding/json"
	"net/http"

	"github.com/matgreaves/moor/spec"
)

// Server is the moord control API. It exposes the state of the single
// deployment moord manages, streams its event log, and lets operators
// stop and start individual services.
type Server struct {
	mux *http.ServeMux

	deployment *spec.Deployment
	log        *EventLog
	states     *StateTable
	orch       *Orchestrator
}

// NewServer creates a Server and registers all HTTP routes.
func NewServer(d *spec.Deployment, log *EventLog, states *StateTable, orch *Orchestrator) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		deployment: d,
		log:        log,
		states:     states,
		orch:       orch,
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /deployment", s.handleGetDeployment)
	s.mux.HandleFunc("GET /services/{name}", s.handleGetService)
	s.mux.HandleFunc("POST /services/{name}/stop", s.handleStopService)
	s.mux.HandleFunc("POST /services/{name}/start", s.handleStartService)
	s.mux.HandleFunc("GET /events", s.handleSSE)
	s.mux.HandleFunc("GET /log", s.handleGetLog)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET /health. Returns 200 with {"status":"ok"}.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetDeployment handles GET /deployment: the resolved runtime view
// of every service.
func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, spec.ResolvedDeployment{
		Name:     s.deployment.Name,
		Services: s.states.Snapshot(),
	})
}

// handleGetService handles GET /services/{name}.
func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.deployment.Services[name]; !ok {
		writeError(w, http.StatusNotFound, "unknown service: "+name)
		return
	}
	writeJSON(w, http.StatusOK, s.states.Snapshot()[name])
}

// handleStopService handles POST /services/{name}/stop. Blocks until
// the service's supervisor has finished teardown.
func (s *Server) handleStopService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.deployment.Services[name]; !ok {
		writeError(w, http.StatusNotFound, "unknown service: "+name)
		return
	}
	if err := s.orch.Stop(name); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.states.Snapshot()[name])
}

// handleStartService handles POST /services/{name}/start. Launches a
// fresh supervisor for a stopped or failed service.
func (s *Server) handleStartService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.deployment.Services[name]; !ok {
		writeError(w, http.StatusNotFound, "unknown service: "+name)
		return
	}
	if err := s.orch.Start(name); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.states.Snapshot()[name])
}

// handleGetLog handles GET /log: the full event log as a JSON array,
// including service output.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.log.Events())
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
