package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelift/cafe24-harvester/internal/database"
)

type stubService struct {
	runs map[uuid.UUID]*database.Run
}

func newStubService() *stubService {
	return &stubService{runs: make(map[uuid.UUID]*database.Run)}
}

func (s *stubService) Submit(_ context.Context, inputPath string) (*database.Run, error) {
	run := &database.Run{
		ID:        uuid.New(),
		Status:    database.RunQueued,
		InputPath: inputPath,
		OutputDir: "/tmp/out/" + inputPath,
		CreatedAt: time.Now(),
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *stubService) Get(_ context.Context, id uuid.UUID) (*database.Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, database.ErrRunNotFound
	}
	return run, nil
}

func (s *stubService) List(_ context.Context, _ int) ([]*database.Run, error) {
	out := make([]*database.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out, nil
}

func newTestRouter(service RunService) http.Handler {
	h := NewHandlers(service, slog.Default())
	r := chi.NewRouter()
	r.Route("/api", h.Routes)
	return r
}

func TestCreateRun(t *testing.T) {
	router := newTestRouter(newStubService())

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"input_path": "inputs.csv"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "inputs.csv", resp.InputPath)
	assert.NotEmpty(t, resp.ID)
}

func TestCreateRunRequiresInputPath(t *testing.T) {
	router := newTestRouter(newStubService())

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	service := newStubService()
	run, err := service.Submit(context.Background(), "inputs.csv")
	require.NoError(t, err)
	run.Status = database.RunSucceeded
	run.ExportCSV = sql.NullString{String: "out/products.csv", Valid: true}

	router := newTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "succeeded", resp.Status)
	assert.Equal(t, "out/products.csv", resp.ExportCSV)
}

func TestGetRunNotFound(t *testing.T) {
	router := newTestRouter(newStubService())

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	service := newStubService()
	_, err := service.Submit(context.Background(), "a.csv")
	require.NoError(t, err)
	_, err = service.Submit(context.Background(), "b.csv")
	require.NoError(t, err)

	router := newTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp, 2)
}
