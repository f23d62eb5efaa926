package server

import (
	"net/http"
	"runtime"
	"time"
)

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{
		"name":    "cyflow",
		"version": "0.1.0",
		"endpoints": []string{
			"GET /api/v1/health",
			"GET /api/v1/status",
			"GET /api/v1/tasks",
			"GET /api/v1/checkpoints",
			"POST /api/v1/tasks/hold",
			"POST /api/v1/tasks/release",
			"POST /api/v1/tasks/trigger",
			"POST /api/v1/broadcast",
			"DELETE /api/v1/broadcast",
			"POST /api/v1/stop",
		},
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Workflow  string `json:"workflow"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Workflow:  s.ctrl.Status().Workflow,
	})
}

// handleStatus returns the snapshot published by the last scheduler tick.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.ctrl.Status())
}

// handleListTasks returns the pooled task instances, optionally filtered
// by ?state= and ?name=.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	state := r.URL.Query().Get("state")
	name := r.URL.Query().Get("name")

	st := s.ctrl.Status()
	tasks := st.Tasks
	if state != "" || name != "" {
		filtered := tasks[:0:0]
		for _, t := range tasks {
			if state != "" && t.State != state {
				continue
			}
			if name != "" && t.Name != name {
				continue
			}
			filtered = append(filtered, t)
		}
		tasks = filtered
	}
	respondOK(w, reqID, map[string]any{
		"workflow": st.Workflow,
		"count":    len(tasks),
		"tasks":    tasks,
	})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.store == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, "no_store", "no checkpoint store attached")
		return
	}
	infos, err := s.store.ListCheckpoints(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondOK(w, reqID, infos)
}
