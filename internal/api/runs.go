package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/trendyol-metrics-scraper/internal/queue"
	"github.com/maltedev/trendyol-metrics-scraper/internal/runner"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

var ErrRunNotFound = errors.New("run not found")

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
)

// Run is a submitted batch and, once finished, its summary.
type Run struct {
	ID          string          `json:"run_id"`
	Source      string          `json:"source"`
	Status      RunStatus       `json:"status"`
	TargetCount int             `json:"target_count"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Summary     *runner.Summary `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type Executor interface {
	Run(ctx context.Context, targets []scraper.Target) (runner.Summary, error)
}

type RunObserver interface {
	ObserveRun(s runner.Summary)
}

const maxKeptRuns = 200

// RunManager queues submitted runs and executes them one at a time, since
// all runs share one browser and one rate limit.
type RunManager struct {
	queue    queue.Queue
	exec     Executor
	observer RunObserver
	logger   *slog.Logger

	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

func NewRunManager(q queue.Queue, exec Executor, observer RunObserver, logger *slog.Logger) *RunManager {
	return &RunManager{
		queue:    q,
		exec:     exec,
		observer: observer,
		logger:   logger.With("component", "run_manager"),
		runs:     make(map[string]*Run),
	}
}

func (m *RunManager) Submit(ctx context.Context, source string, targets []scraper.Target) (Run, error) {
	if len(targets) == 0 {
		return Run{}, fmt.Errorf("run has no targets")
	}

	run := &Run{
		ID:          uuid.New().String(),
		Source:      source,
		Status:      RunStatusQueued,
		TargetCount: len(targets),
		CreatedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	m.trim()
	m.mu.Unlock()

	if err := m.queue.Push(&queue.Task{ID: run.ID, Targets: targets, Source: source, CreatedAt: run.CreatedAt}); err != nil {
		m.mu.Lock()
		m.forget(run.ID)
		m.mu.Unlock()
		return Run{}, fmt.Errorf("failed to queue run: %w", err)
	}

	m.logger.Info("run queued", "run_id", run.ID, "source", source, "targets", len(targets))
	return *run, nil
}

func (m *RunManager) Get(id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return *run, nil
}

// Start consumes the queue until ctx is done or the queue is closed.
func (m *RunManager) Start(ctx context.Context) error {
	m.logger.Info("run worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("run worker stopping")
				return nil
			}
			return fmt.Errorf("failed to pop run: %w", err)
		}
		m.execute(ctx, task)
	}
}

func (m *RunManager) execute(ctx context.Context, task *queue.Task) {
	started := time.Now().UTC()
	m.update(task.ID, func(r *Run) {
		r.Status = RunStatusRunning
		r.StartedAt = &started
	})

	summary, err := m.exec.Run(ctx, task.Targets)
	if m.observer != nil {
		m.observer.ObserveRun(summary)
	}

	finished := time.Now().UTC()
	m.update(task.ID, func(r *Run) {
		r.Status = RunStatusCompleted
		r.FinishedAt = &finished
		r.Summary = &summary
		if err != nil {
			r.Status = RunStatusAborted
			r.Error = err.Error()
		}
	})

	if err != nil {
		m.logger.Error("run aborted", "run_id", task.ID, "error", err)
		return
	}
	m.logger.Info("run completed", "run_id", task.ID, "persisted", summary.Persisted(), "failed", summary.Failed())
}

func (m *RunManager) update(id string, fn func(*Run)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[id]; ok {
		fn(run)
	}
}

// forget drops a run from the index. Callers hold mu.
func (m *RunManager) forget(id string) {
	delete(m.runs, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// trim forgets the oldest finished runs. Callers hold mu.
func (m *RunManager) trim() {
	for len(m.order) > maxKeptRuns {
		dropped := false
		for _, id := range m.order {
			run := m.runs[id]
			if run.Status == RunStatusQueued || run.Status == RunStatusRunning {
				continue
			}
			m.forget(id)
			dropped = true
			break
		}
		if !dropped {
			return
		}
	}
}
