// Package api exposes the run manager over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storelift/cafe24-harvester/internal/database"
	"github.com/storelift/cafe24-harvester/internal/runs"
)

// RunService is the subset of the run manager the handlers need.
type RunService interface {
	Submit(ctx context.Context, inputPath string) (*database.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*database.Run, error)
	List(ctx context.Context, limit int) ([]*database.Run, error)
}

type Handlers struct {
	service RunService
	logger  *slog.Logger
}

func NewHandlers(service RunService, logger *slog.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  logger.With("component", "api"),
	}
}

func (h *Handlers) Routes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.CreateRun)
		r.Get("/", h.ListRuns)
		r.Get("/{runID}", h.GetRun)
	})
}

type createRunRequest struct {
	InputPath string `json:"input_path"`
}

type runResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	InputPath    string          `json:"input_path"`
	OutputDir    string          `json:"output_dir"`
	ExportCSV    string          `json:"export_csv,omitempty"`
	ImageArchive string          `json:"image_archive,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InputPath == "" {
		h.writeError(w, http.StatusBadRequest, "input_path is required")
		return
	}

	run, err := h.service.Submit(r.Context(), req.InputPath)
	if err != nil {
		if errors.Is(err, runs.ErrQueueFull) {
			h.writeError(w, http.StatusServiceUnavailable, "run queue is full")
			return
		}
		h.logger.Error("failed to submit run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	h.writeJSON(w, http.StatusAccepted, toResponse(run))
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	run, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(run))
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	list, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	out := make([]runResponse, 0, len(list))
	for _, run := range list {
		out = append(out, toResponse(run))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func toResponse(run *database.Run) runResponse {
	resp := runResponse{
		ID:        run.ID.String(),
		Status:    string(run.Status),
		InputPath: run.InputPath,
		OutputDir: run.OutputDir,
		Summary:   run.Summary,
		CreatedAt: run.CreatedAt,
	}
	if run.ExportCSV.Valid {
		resp.ExportCSV = run.ExportCSV.String
	}
	if run.ImageArchive.Valid {
		resp.ImageArchive = run.ImageArchive.String
	}
	if run.ErrorMessage.Valid {
		resp.Error = run.ErrorMessage.String
	}
	if run.StartedAt.Valid {
		resp.StartedAt = &run.StartedAt.Time
	}
	if run.FinishedAt.Valid {
		resp.FinishedAt = &run.FinishedAt.Time
	}
	return resp
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
