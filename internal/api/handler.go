// Package api exposes the scheduling operations over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"mailflow/internal/dispatch"
	"mailflow/internal/models"
	"mailflow/internal/ratelimit"
	"mailflow/internal/recipients"
)

// Scheduler is the dispatch surface the handler drives.
type Scheduler interface {
	Schedule(ctx context.Context, req dispatch.BatchRequest) (*dispatch.BatchResult, error)
	SendNow(ctx context.Context, req dispatch.BatchRequest) (*dispatch.BatchResult, error)
}

// JobReader serves the two list queries.
type JobReader interface {
	FindScheduled(ctx context.Context, userID string) ([]models.Job, error)
	FindTerminal(ctx context.Context, userID string) ([]models.Job, error)
}

// RateReader serves the read-only quota query.
type RateReader interface {
	Status(ctx context.Context, sender string) ratelimit.Status
}

type Handler struct {
	Scheduler Scheduler
	Jobs      JobReader
	Rates     RateReader
	Log       *zap.Logger

	validate *validator.Validate
}

func NewHandler(scheduler Scheduler, jobs JobReader, rates RateReader, log *zap.Logger) *Handler {
	return &Handler{
		Scheduler: scheduler,
		Jobs:      jobs,
		Rates:     rates,
		Log:       log,
		validate:  validator.New(),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/schedule-emails", h.scheduleEmails)
		r.Post("/send-now", h.sendNow)
		r.Get("/scheduled-emails", h.scheduledEmails)
		r.Get("/sent-emails", h.sentEmails)
		r.Get("/rate-limit-status", h.rateLimitStatus)
	})

	return r
}

// batchPayload carries recipients either pre-split or as raw CSV/text
// to run through extraction. One of the two must yield at least one
// candidate.
type batchPayload struct {
	Subject            string   `json:"subject" validate:"required"`
	Body               string   `json:"body" validate:"required"`
	Recipients         []string `json:"recipients"`
	RecipientsCSV      string   `json:"recipientsCsv"`
	StartTime          string   `json:"startTime"`
	DelayBetweenEmails int      `json:"delayBetweenEmails" validate:"gte=0"`
	Sender             string   `json:"sender" validate:"required"`
	UserID             string   `json:"userId"`
}

func (p batchPayload) toRequest() dispatch.BatchRequest {
	return dispatch.BatchRequest{
		Subject:      p.Subject,
		Body:         p.Body,
		Recipients:   p.Recipients,
		DelayBetween: time.Duration(p.DelayBetweenEmails) * time.Second,
		Sender:       p.Sender,
		UserID:       p.UserID,
	}
}

func (h *Handler) scheduleEmails(w http.ResponseWriter, r *http.Request) {
	var payload batchPayload
	if !h.decode(w, r, &payload) {
		return
	}

	if payload.StartTime == "" {
		writeError(w, http.StatusBadRequest, "startTime is required")
		return
	}
	start, err := time.Parse(time.RFC3339, payload.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startTime format, want RFC 3339")
		return
	}

	req := payload.toRequest()
	req.StartTime = start

	res, err := h.Scheduler.Schedule(r.Context(), req)
	if err != nil {
		h.dispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":          "emails scheduled",
		"emailCount":       res.Accepted,
		"skippedCount":     res.Skipped,
		"firstScheduledAt": res.FirstScheduledAt,
		"lastScheduledAt":  res.LastScheduledAt,
	})
}

func (h *Handler) sendNow(w http.ResponseWriter, r *http.Request) {
	var payload batchPayload
	if !h.decode(w, r, &payload) {
		return
	}

	res, err := h.Scheduler.SendNow(r.Context(), payload.toRequest())
	if err != nil {
		h.dispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "emails queued for immediate sending",
		"emailCount": res.Accepted,
		"jobs":       res.Jobs,
	})
}

func (h *Handler) scheduledEmails(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, h.Jobs.FindScheduled)
}

func (h *Handler) sentEmails(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, h.Jobs.FindTerminal)
}

func (h *Handler) listJobs(
	w http.ResponseWriter,
	r *http.Request,
	find func(ctx context.Context, userID string) ([]models.Job, error),
) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}

	jobs, err := find(r.Context(), userID)
	if err != nil {
		h.Log.Error("job listing failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch emails")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(jobs),
		"emails": jobs,
	})
}

func (h *Handler) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	sender := r.URL.Query().Get("sender")
	if sender == "" {
		writeError(w, http.StatusBadRequest, "sender query parameter is required")
		return
	}

	writeJSON(w, http.StatusOK, h.Rates.Status(r.Context(), sender))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, payload *batchPayload) bool {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if len(payload.Recipients) == 0 && payload.RecipientsCSV != "" {
		payload.Recipients = recipients.Extract(payload.RecipientsCSV)
	}
	if len(payload.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "recipients must be a non-empty list")
		return false
	}
	return true
}

func (h *Handler) dispatchError(w http.ResponseWriter, err error) {
	if errors.Is(err, dispatch.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.Log.Error("batch dispatch failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to schedule emails")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
