// Package runs executes harvest runs in the background and tracks their
// lifecycle in the database.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/storelift/cafe24-harvester/internal/database"
	"github.com/storelift/cafe24-harvester/internal/pipeline"
	"github.com/storelift/cafe24-harvester/internal/report"
)

var ErrQueueFull = errors.New("run queue is full")

// Executor runs one harvest end to end. Implemented by pipeline.Pipeline.
type Executor interface {
	Execute(ctx context.Context, runID, inputPath, outputDir string) (*report.Report, error)
}

// RunStore persists run lifecycle state. Implemented by
// database.RunRepository.
type RunStore interface {
	Create(ctx context.Context, run *database.Run) error
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID, exportCSV, imageArchive string, summary json.RawMessage) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	Get(ctx context.Context, id uuid.UUID) (*database.Run, error)
	List(ctx context.Context, limit int) ([]*database.Run, error)
}

type job struct {
	id        uuid.UUID
	inputPath string
	outputDir string
}

// Manager serializes run execution: one harvest at a time so concurrent runs
// never compete for the same identity pool and rate budget.
type Manager struct {
	repo       RunStore
	exec       Executor
	outputRoot string
	logger     *slog.Logger

	jobs chan job
	wg   sync.WaitGroup
}

func NewManager(repo RunStore, exec Executor, outputRoot string, logger *slog.Logger) *Manager {
	return &Manager{
		repo:       repo,
		exec:       exec,
		outputRoot: outputRoot,
		logger:     logger.With("component", "run_manager"),
		jobs:       make(chan job, 16),
	}
}

// Start launches the background worker. It drains until Close is called or
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-m.jobs:
				if !ok {
					return
				}
				m.run(ctx, j)
			}
		}
	}()
}

// Close stops accepting runs and waits for the in-flight one.
func (m *Manager) Close() {
	close(m.jobs)
	m.wg.Wait()
}

// Submit persists a queued run and schedules it for execution.
func (m *Manager) Submit(ctx context.Context, inputPath string) (*database.Run, error) {
	run := &database.Run{
		ID:        uuid.New(),
		InputPath: inputPath,
	}
	run.OutputDir = filepath.Join(m.outputRoot, run.ID.String())

	if err := m.repo.Create(ctx, run); err != nil {
		return nil, err
	}

	select {
	case m.jobs <- job{id: run.ID, inputPath: run.InputPath, outputDir: run.OutputDir}:
	default:
		if err := m.repo.MarkFailed(ctx, run.ID, ErrQueueFull); err != nil {
			m.logger.Error("failed to mark run failed", "run_id", run.ID, "error", err)
		}
		return nil, ErrQueueFull
	}

	m.logger.Info("run queued", "run_id", run.ID, "input", inputPath)
	return run, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*database.Run, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, limit int) ([]*database.Run, error) {
	return m.repo.List(ctx, limit)
}

func (m *Manager) run(ctx context.Context, j job) {
	if err := m.repo.MarkRunning(ctx, j.id); err != nil {
		m.logger.Error("failed to mark run running", "run_id", j.id, "error", err)
		return
	}

	m.logger.Info("run started", "run_id", j.id)

	rep, err := m.exec.Execute(ctx, j.id.String(), j.inputPath, j.outputDir)
	if err != nil {
		m.logger.Error("run failed", "run_id", j.id, "error", err)
		if markErr := m.repo.MarkFailed(ctx, j.id, err); markErr != nil {
			m.logger.Error("failed to record run failure", "run_id", j.id, "error", markErr)
		}
		return
	}

	summary, err := pipeline.SummaryJSON(rep)
	if err != nil {
		summary = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
	}

	if err := m.repo.MarkSucceeded(ctx, j.id, rep.ExportCSV, rep.ImageArchive, summary); err != nil {
		m.logger.Error("failed to record run success", "run_id", j.id, "error", err)
	}
}
