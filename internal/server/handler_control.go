package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/me/cyflow/internal/scheduler"
)

// commandRequest is the body shared by the task and broadcast endpoints.
// Name is a glob over task names, Point a cycle point string or "*".
type commandRequest struct {
	Name   string            `json:"name"`
	Point  string            `json:"point"`
	Script string            `json:"script,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
}

type commandResponse struct {
	Applied bool `json:"applied"`
	Count   int  `json:"count"`
}

// command returns a handler that queues one scheduler command and waits
// for the next tick to apply it. If the tick does not come around in time
// the command is still queued and the handler answers 202.
func (s *Server) command(kind scheduler.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := RequestIDFromContext(r.Context())
		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, reqID, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
			return
		}
		if req.Name == "" {
			respondError(w, reqID, http.StatusBadRequest, "bad_request", "name is required")
			return
		}
		if req.Point == "" {
			req.Point = "*"
		}
		s.apply(w, reqID, scheduler.Command{
			Kind:   kind,
			Name:   req.Name,
			Point:  req.Point,
			Script: req.Script,
			Env:    req.Env,
		})
	}
}

func (s *Server) handleBroadcastSet(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, reqID, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	if req.Script == "" && len(req.Env) == 0 {
		respondError(w, reqID, http.StatusBadRequest, "bad_request", "a broadcast needs a script or env override")
		return
	}
	if req.Point == "" {
		req.Point = "*"
	}
	s.apply(w, reqID, scheduler.Command{
		Kind:   scheduler.CmdBroadcastSet,
		Name:   req.Name,
		Point:  req.Point,
		Script: req.Script,
		Env:    req.Env,
	})
}

func (s *Server) handleBroadcastClear(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	s.apply(w, reqID, scheduler.Command{Kind: scheduler.CmdBroadcastClear})
}

// handleReload asks the scheduler to recompile its workflow definition
// file and swap the result in at the next tick.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	s.apply(w, reqID, scheduler.Command{Kind: scheduler.CmdReload})
}

// handleStop requests a shutdown. With a task and point in the body the
// workflow instead runs on until that instance finishes.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req commandRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, reqID, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
			return
		}
	}

	cmd := scheduler.Command{Kind: scheduler.CmdShutdown}
	if req.Name != "" {
		if req.Point == "" || req.Point == "*" {
			respondError(w, reqID, http.StatusBadRequest, "bad_request", "a stop task needs an explicit cycle point")
			return
		}
		cmd = scheduler.Command{Kind: scheduler.CmdStopTask, Name: req.Name, Point: req.Point}
	}
	s.apply(w, reqID, cmd)
}

// apply queues the command and relays the scheduler's answer.
func (s *Server) apply(w http.ResponseWriter, reqID string, cmd scheduler.Command) {
	reply := make(chan scheduler.CommandResult, 1)
	cmd.Reply = reply
	if err := s.ctrl.Enqueue(cmd); err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, "queue_full", err.Error())
		return
	}

	select {
	case res := <-reply:
		if res.Err != nil {
			respondError(w, reqID, http.StatusUnprocessableEntity, "command_failed", res.Err.Error())
			return
		}
		respondOK(w, reqID, commandResponse{Applied: true, Count: res.Count})
	case <-time.After(s.replyWindow()):
		respondAccepted(w, reqID, commandResponse{Applied: false})
	}
}

func (s *Server) replyWindow() time.Duration {
	if s.config.TickInterval > 0 {
		return 4 * s.config.TickInterval
	}
	return 5 * time.Second
}
