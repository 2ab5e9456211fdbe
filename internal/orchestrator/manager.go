package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/store"
)

// Manager errors.
var (
	ErrInvalidTask  = eris.New("orchestrator: invalid task")
	ErrInvalidState = eris.New("orchestrator: invalid task state")
)

// ETA texts.
const (
	ETAAlmostDone  = "almost done"
	ETACalculating = "calculating..."
)

// TaskRunner executes one task to completion. *Runner satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, task *model.Task) error
}

// NewTask is the input for creating a task.
type NewTask struct {
	ProductDescription string `json:"product_description"`
	NumPersonas        int    `json:"num_personas"`
	NumSimulations     int    `json:"num_simulations"`
	Email              string `json:"email,omitempty"`
}

// StatusView is the externally visible state of a task.
type StatusView struct {
	ID                      string           `json:"id"`
	Status                  model.TaskStatus `json:"status"`
	Progress                model.Progress   `json:"progress"`
	EstimatedCompletionTime *string          `json:"estimated_completion_time"`
	Stats                   *model.Stats     `json:"stats"`
	Error                   string           `json:"error,omitempty"`
	ReportPath              string           `json:"-"`
}

// Manager creates tasks and runs them in the background.
type Manager struct {
	store  store.Store
	runner TaskRunner
	flags  *StopFlags
	base   context.Context
	wg     sync.WaitGroup
	now    func() time.Time
	newID  func() string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewManager creates a Manager. Each background run gets its own context
// derived from base, so it outlives the request that started it and can be
// cancelled by Stop.
func NewManager(base context.Context, st store.Store, runner TaskRunner, flags *StopFlags) *Manager {
	return &Manager{
		store:   st,
		runner:  runner,
		flags:   flags,
		base:    base,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		running: make(map[string]context.CancelFunc),
	}
}

// Create stores a pending task.
func (m *Manager) Create(ctx context.Context, in NewTask) (*model.Task, error) {
	desc := strings.TrimSpace(in.ProductDescription)
	if desc == "" {
		return nil, eris.Wrap(ErrInvalidTask, "missing product description")
	}
	if in.NumPersonas <= 0 || in.NumSimulations <= 0 {
		return nil, eris.Wrap(ErrInvalidTask, "num_personas and num_simulations must be positive")
	}
	task := &model.Task{
		ID:                 m.newID(),
		ProductDescription: desc,
		NumPersonas:        in.NumPersonas,
		NumSimulations:     in.NumSimulations,
		Email:              in.Email,
		Status:             model.TaskStatusPending,
		CreatedAt:          m.now().UTC(),
	}
	if err := m.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Start launches a pending task.
func (m *Manager) Start(ctx context.Context, id string) error {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != model.TaskStatusPending {
		return eris.Wrapf(ErrInvalidState, "only pending tasks can be started (status %s)", task.Status)
	}
	return m.launch(task)
}

// Stop requests a running task to stop, marks it stopped and cancels its
// in-flight calls.
func (m *Manager) Stop(ctx context.Context, id string) error {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return eris.Wrapf(ErrInvalidState, "task already finished (status %s)", task.Status)
	}
	m.flags.Set(id)
	task.Status = model.TaskStatusStopped
	task.Progress = model.Progress{CurrentStep: StepStopped, Total: 100}
	if err := m.store.SaveTask(ctx, task); err != nil {
		return err
	}

	m.mu.Lock()
	cancel := m.running[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Restart resets a failed or stopped task and runs it again.
func (m *Manager) Restart(ctx context.Context, id string) error {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !task.Status.Restartable() {
		return eris.Wrapf(ErrInvalidState, "only failed or stopped tasks can be restarted (status %s)", task.Status)
	}
	if m.isRunning(id) {
		return eris.Wrap(ErrInvalidState, "previous run has not exited yet")
	}
	task.Status = model.TaskStatusPending
	task.Progress = model.Progress{}
	task.Error = ""
	if err := m.store.SaveTask(ctx, task); err != nil {
		return err
	}
	return m.launch(task)
}

// Status returns the task state with a remaining-time estimate.
func (m *Manager) Status(ctx context.Context, id string) (*StatusView, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:                      task.ID,
		Status:                  task.Status,
		Progress:                task.Progress,
		EstimatedCompletionTime: EstimateRemaining(task, m.now()),
		Stats:                   task.Stats,
		Error:                   task.Error,
		ReportPath:              task.ReportPath,
	}, nil
}

// List returns stored tasks, newest first.
func (m *Manager) List(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	return m.store.ListTasks(ctx, filter)
}

// Wait blocks until all background runs have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) isRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

func (m *Manager) launch(task *model.Task) error {
	m.mu.Lock()
	if _, ok := m.running[task.ID]; ok {
		m.mu.Unlock()
		return eris.Wrap(ErrInvalidState, "task is already running")
	}
	ctx, cancel := context.WithCancel(m.base)
	m.running[task.ID] = cancel
	m.mu.Unlock()

	m.flags.Clear(task.ID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, task.ID)
			m.mu.Unlock()
			cancel()
		}()
		defer m.recoverRun(ctx, task)
		if err := m.runner.Run(ctx, task); err != nil {
			zap.L().Debug("orchestrator: background run ended", zap.String("task_id", task.ID), zap.Error(err))
		}
	}()
	return nil
}

// recoverRun marks a task failed when its run panics.
func (m *Manager) recoverRun(ctx context.Context, task *model.Task) {
	rec := recover()
	if rec == nil {
		return
	}
	zap.L().Error("orchestrator: task run panicked",
		zap.String("task_id", task.ID), zap.Any("panic", rec), zap.Stack("stack"))
	finished := m.now()
	task.Status = model.TaskStatusFailed
	task.Error = fmt.Sprintf("task panicked: %v", rec)
	task.FinishedAt = &finished
	if err := m.store.SaveTask(context.WithoutCancel(ctx), task); err != nil {
		zap.L().Error("orchestrator: failed to record panicked task", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// EstimateRemaining extrapolates the remaining time from elapsed time and
// progress while personas or simulations are running. It returns nil when
// no estimate applies.
func EstimateRemaining(task *model.Task, now time.Time) *string {
	if task.StartedAt == nil {
		return nil
	}
	if task.Status != model.TaskStatusGeneratingPersonas && task.Status != model.TaskStatusSimulatingReactions {
		return nil
	}
	pct := task.Progress.Percentage
	var eta string
	switch {
	case pct > 5:
		elapsed := now.Sub(*task.StartedAt).Seconds()
		remaining := elapsed/pct*100 - elapsed
		eta = formatRemaining(remaining)
	case pct > 0:
		eta = ETACalculating
	default:
		return nil
	}
	return &eta
}

func formatRemaining(secs float64) string {
	if secs <= 5 {
		return ETAAlmostDone
	}
	minutes, seconds := int(secs)/60, int(secs)%60
	switch {
	case minutes > 60:
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
