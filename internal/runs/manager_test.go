package runs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelift/cafe24-harvester/internal/database"
	"github.com/storelift/cafe24-harvester/internal/report"
)

type memoryStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*database.Run
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: make(map[uuid.UUID]*database.Run)}
}

func (s *memoryStore) Create(_ context.Context, run *database.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Status = database.RunQueued
	run.CreatedAt = time.Now()
	s.runs[run.ID] = run
	return nil
}

func (s *memoryStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	return s.setStatus(id, database.RunRunning)
}

func (s *memoryStore) MarkSucceeded(_ context.Context, id uuid.UUID, exportCSV, imageArchive string, summary json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return database.ErrRunNotFound
	}
	run.Status = database.RunSucceeded
	run.ExportCSV.String = exportCSV
	run.ExportCSV.Valid = true
	run.Summary = summary
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, id uuid.UUID, cause error) error {
	if err := s.setStatus(id, database.RunFailed); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id].ErrorMessage.String = cause.Error()
	s.runs[id].ErrorMessage.Valid = true
	return nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (*database.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, database.ErrRunNotFound
	}
	return run, nil
}

func (s *memoryStore) List(_ context.Context, _ int) ([]*database.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*database.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out, nil
}

func (s *memoryStore) setStatus(id uuid.UUID, status database.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return database.ErrRunNotFound
	}
	run.Status = status
	return nil
}

type stubExecutor struct {
	err  error
	runs []string
	mu   sync.Mutex
}

func (e *stubExecutor) Execute(_ context.Context, runID, _, _ string) (*report.Report, error) {
	e.mu.Lock()
	e.runs = append(e.runs, runID)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return &report.Report{RunID: runID, ExportCSV: "out/products.csv"}, nil
}

func waitForStatus(t *testing.T, store *memoryStore, id uuid.UUID, want database.RunStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("run %s never reached status %s", id, want)
		case <-time.After(10 * time.Millisecond):
			run, err := store.Get(context.Background(), id)
			require.NoError(t, err)
			if run.Status == want {
				return
			}
		}
	}
}

func TestManagerExecutesSubmittedRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemoryStore()
	exec := &stubExecutor{}
	mgr := NewManager(store, exec, t.TempDir(), slog.Default())
	mgr.Start(ctx)
	defer mgr.Close()

	run, err := mgr.Submit(ctx, "inputs.csv")
	require.NoError(t, err)
	assert.Equal(t, database.RunQueued, run.Status)
	assert.Contains(t, run.OutputDir, run.ID.String())

	waitForStatus(t, store, run.ID, database.RunSucceeded)

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "out/products.csv", got.ExportCSV.String)
}

func TestManagerRecordsRunFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemoryStore()
	exec := &stubExecutor{err: errors.New("template verification failed")}
	mgr := NewManager(store, exec, t.TempDir(), slog.Default())
	mgr.Start(ctx)
	defer mgr.Close()

	run, err := mgr.Submit(ctx, "inputs.csv")
	require.NoError(t, err)

	waitForStatus(t, store, run.ID, database.RunFailed)

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage.String, "template verification failed")
}
