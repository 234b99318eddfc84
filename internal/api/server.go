// Package api exposes the HTTP interface of the orchestration service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/metrics"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/scheduler"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/webhook"
	"go.uber.org/zap"
)

// Orchestrator is the scheduler surface the handlers call.
type Orchestrator interface {
	TriggerRun(ctx context.Context, projectID string, trigger studio.JobTrigger, opts studio.JobOptions) (string, error)
	CancelJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (studio.ScrapeJob, error)
	UpsertSchedule(ctx context.Context, sched studio.Schedule) (studio.Schedule, error)
}

// WebhookTester posts a synthetic payload to a webhook endpoint.
type WebhookTester interface {
	Test(ctx context.Context, hook studio.Webhook) webhook.TestResult
}

// Store is the read surface the handlers need beyond the orchestrator.
type Store interface {
	studio.ProjectStore
	studio.ScheduleStore
	studio.WebhookStore
	studio.DeliveryStore
}

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router       chi.Router
	store        Store
	orchestrator Orchestrator
	tester       WebhookTester
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Store, orchestrator Orchestrator, tester WebhookTester, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:        store,
		orchestrator: orchestrator,
		tester:       tester,
		logger:       logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/projects/{project_id}", func(r chi.Router) {
			r.Post("/run", s.runProject)
			r.Get("/schedule", s.getSchedule)
			r.Put("/schedule", s.putSchedule)
		})
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/cancel", s.cancelJob)
		})
		r.Route("/webhooks/{webhook_id}", func(r chi.Router) {
			r.Post("/test", s.testWebhook)
		})
		r.Get("/deliveries/{delivery_id}", s.getDelivery)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency; a cheap read proves it answers.
	if _, err := s.store.GetProject(r.Context(), "readyz-probe"); err != nil && !errors.Is(err, studio.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type runRequest struct {
	MaxResults int `json:"max_results"`
}

func (s *Server) runProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	jobID, err := s.orchestrator.TriggerRun(r.Context(), projectID, studio.TriggerAPI, studio.JobOptions{
		MaxResults: req.MaxResults,
	})
	if err != nil {
		switch {
		case errors.Is(err, studio.ErrNotFound):
			writeError(w, http.StatusNotFound, "project not found", s.logger)
		case errors.Is(err, studio.ErrProjectBusy):
			writeError(w, http.StatusConflict, "a job is already running for this project", s.logger)
		default:
			writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID}, s.logger)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.orchestrator.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, job, s.logger)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.orchestrator.CancelJob(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancel requested"}, s.logger)
	case errors.Is(err, studio.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found", s.logger)
	case errors.Is(err, scheduler.ErrJobFinished):
		writeError(w, http.StatusConflict, "job already finished", s.logger)
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
	}
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	sched, err := s.store.GetSchedule(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, "schedule not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, sched, s.logger)
}

type scheduleRequest struct {
	Enabled     bool   `json:"enabled"`
	Kind        string `json:"kind"`
	AnchorTime  string `json:"anchor_time"`
	DayOfWeek   *int   `json:"day_of_week"`
	DayOfMonth  *int   `json:"day_of_month"`
	Timezone    string `json:"timezone"`
	MaxFailures int    `json:"max_failures"`
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, "project not found", s.logger)
		return
	}

	existing, err := s.store.GetSchedule(r.Context(), projectID)
	if err != nil && !errors.Is(err, studio.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	sched := studio.Schedule{
		ID:          existing.ID,
		ProjectID:   projectID,
		UserID:      project.UserID,
		Enabled:     req.Enabled,
		Kind:        studio.ScheduleKind(req.Kind),
		AnchorTime:  req.AnchorTime,
		DayOfWeek:   req.DayOfWeek,
		DayOfMonth:  req.DayOfMonth,
		Timezone:    req.Timezone,
		MaxFailures: req.MaxFailures,
	}
	stored, err := s.orchestrator.UpsertSchedule(r.Context(), sched)
	if err != nil {
		if studio.IsConfigError(err) {
			writeError(w, http.StatusBadRequest, err.Error(), s.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, stored, s.logger)
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhook_id")
	hook, err := s.store.GetWebhook(r.Context(), webhookID)
	if err != nil {
		writeError(w, http.StatusNotFound, "webhook not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, s.tester.Test(r.Context(), hook), s.logger)
}

func (s *Server) getDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "delivery_id")
	delivery, err := s.store.GetDelivery(r.Context(), deliveryID)
	if err != nil {
		writeError(w, http.StatusNotFound, "delivery not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, delivery, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
