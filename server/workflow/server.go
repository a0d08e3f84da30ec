//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package workflow serves xpert runs over HTTP. Runs and resumes stream
// their events as Server-Sent Events.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/xpert-ai/xpert-sub002/event"
	"github.com/xpert-ai/xpert-sub002/execution"
	"github.com/xpert-ai/xpert-sub002/graph"
	"github.com/xpert-ai/xpert-sub002/log"
	"github.com/xpert-ai/xpert-sub002/runner"
	"github.com/xpert-ai/xpert-sub002/scheduler"
)

// Server exposes a Runner and, optionally, a Scheduler.
type Server struct {
	runner  *runner.Runner
	tasks   *scheduler.Scheduler
	origins []string
	router  *mux.Router
}

// Option configures the Server instance.
type Option func(*Server)

// WithScheduler enables the task endpoints.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(srv *Server) { srv.tasks = s }
}

// WithAllowedOrigins restricts CORS. Any origin is allowed by default.
func WithAllowedOrigins(origins ...string) Option {
	return func(srv *Server) { srv.origins = origins }
}

// New creates the server and registers its routes.
func New(r *runner.Runner, opts ...Option) *Server {
	s := &Server{runner: r, router: mux.NewRouter()}
	for _, opt := range opts {
		opt(s)
	}
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/xperts/{xpertId}/runs", s.handleRun).Methods(http.MethodPost)
	s.router.HandleFunc("/xperts/{xpertId}/resume", s.handleResume).Methods(http.MethodPost)
	s.router.HandleFunc("/executions/{executionId}", s.handleGetExecution).Methods(http.MethodGet)
	s.router.HandleFunc("/executions/{executionId}/cancel", s.handleCancel).Methods(http.MethodPost)

	if s.tasks != nil {
		s.router.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
		s.router.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
		s.router.HandleFunc("/tasks/{taskId}", s.handleGetTask).Methods(http.MethodGet)
		s.router.HandleFunc("/tasks/{taskId}/{action:pause|resume|archive}", s.handleTaskAction).Methods(http.MethodPost)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequest is the body of a run. The xpert id comes from the path.
type runRequest struct {
	AgentKey        string         `json:"agentKey,omitempty"`
	ThreadID        string         `json:"threadId,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	InterruptBefore []string       `json:"interruptBefore,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decode(w, r, &req) {
		return
	}
	xpertID := mux.Vars(r)["xpertId"]
	h, err := s.runner.RunGraph(context.WithoutCancel(r.Context()), runner.RunRequest{
		XpertID:         xpertID,
		AgentKey:        req.AgentKey,
		ThreadID:        req.ThreadID,
		Input:           req.Input,
		InterruptBefore: req.InterruptBefore,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	log.Infof("workflow: run %s of %s started", h.ExecutionID, xpertID)
	s.stream(w, r, h)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req runner.ResumeRequest
	if !decode(w, r, &req) {
		return
	}
	req.XpertID = mux.Vars(r)["xpertId"]
	if req.ExecutionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "executionId is required"})
		return
	}
	h, err := s.runner.Resume(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Duplicate {
		res, _ := h.Wait()
		writeJSON(w, http.StatusOK, res)
		return
	}
	s.stream(w, r, h)
}

// stream forwards the events of h until the run ends or suspends. A client
// that goes away cancels the run.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, h *runner.Handle) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Cancel()
		go h.Wait()
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Execution-Id", h.ExecutionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.Events()
	for {
		select {
		case <-r.Context().Done():
			log.Infof("workflow: client left, cancelling %s", h.ExecutionID)
			h.Cancel()
			go h.Wait()
			return
		case e, ok := <-events:
			if !ok {
				// Node failures already ended the root record; this frame only
				// tells the client why the stream stopped.
				if _, err := h.Wait(); err != nil {
					writeErrorFrame(w, h.ExecutionID, err)
					flusher.Flush()
				}
				return
			}
			writeEvent(w, e)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e *event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Errorf("workflow: marshal event %s: %v", e.ID, err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeErrorFrame(w http.ResponseWriter, executionID string, err error) {
	data, _ := json.Marshal(map[string]string{"executionId": executionID, "error": err.Error()})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}

// executionBody is a record tree plus its token total.
type executionBody struct {
	*execution.Record
	TotalTokens int64 `json:"totalTokens"`
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runner.Execution(r.Context(), mux.Vars(r)["executionId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executionBody{Record: rec, TotalTokens: rec.TotalTokens()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["executionId"]
	if err := s.runner.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"executionId": id, "status": "cancelling"})
}

// taskRequest is the body creating a task. Interval is a Go duration.
type taskRequest struct {
	XpertID  string         `json:"xpertId"`
	AgentKey string         `json:"agentKey,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Interval string         `json:"interval"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decode(w, r, &req) {
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("interval: %v", err)})
		return
	}
	t, err := s.tasks.Add(scheduler.Task{
		XpertID:  req.XpertID,
		AgentKey: req.AgentKey,
		Input:    req.Input,
		Interval: interval,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var statuses []scheduler.Status
	for _, st := range r.URL.Query()["status"] {
		statuses = append(statuses, scheduler.Status(st))
	}
	writeJSON(w, http.StatusOK, s.tasks.List(statuses...))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(mux.Vars(r)["taskId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var (
		t   *scheduler.Task
		err error
	)
	switch vars["action"] {
	case "pause":
		t, err = s.tasks.Pause(vars["taskId"])
	case "resume":
		t, err = s.tasks.Resume(vars["taskId"])
	default:
		t, err = s.tasks.Archive(vars["taskId"])
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("decode body: %v", err)})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: err.Error()})
}

func statusOf(err error) int {
	var ce *graph.CompileError
	switch {
	case errors.Is(err, runner.ErrUnknownXpert),
		errors.Is(err, runner.ErrNotActive),
		errors.Is(err, execution.ErrNotFound),
		errors.Is(err, scheduler.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, execution.ErrNoPendingOperation),
		errors.Is(err, execution.ErrAlreadyResumed),
		errors.Is(err, scheduler.ErrArchived):
		return http.StatusConflict
	case errors.Is(err, runner.ErrXpertMismatch),
		errors.Is(err, runner.ErrNotRoot),
		errors.Is(err, scheduler.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("workflow: encode response: %v", err)
	}
}
