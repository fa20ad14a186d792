package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Ошибки менеджера задач
var (
	ErrClosed        = errors.New("task manager is shut down")
	ErrTooManyTasks  = errors.New("превышено максимальное количество активных задач")
	ErrDuplicateTask = errors.New("task with the same key is already running")
	ErrTaskNotFound  = errors.New("task not found")
)

var activeTasksGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "storyboard_active_tasks",
		Help: "Number of background generation tasks currently running.",
	},
	[]string{"kind"},
)

// Kind - тип фоновой операции.
type Kind string

const (
	KindDescribe Kind = "describe"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
)

// Key однозначно определяет операцию: прогон, сцена (0 для уровня прогона) и тип.
type Key struct {
	RunID   uuid.UUID
	SceneID int
	Kind    Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s", k.RunID, k.SceneID, k.Kind)
}

// TaskStatus - статус задачи
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Active возвращает true для running.
func (s TaskStatus) Active() bool {
	return s == TaskStatusRunning
}

// Task - снимок состояния задачи.
type Task struct {
	ID        uuid.UUID
	Key       Key
	Status    TaskStatus
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskFunc - тело задачи. ctx отменяется при CancelRun/CancelOthers/Shutdown.
type TaskFunc func(ctx context.Context) error

type entry struct {
	task   Task
	cancel context.CancelFunc
}

// Config - настройки TaskManager.
type Config struct {
	// MaxTasks ограничивает число одновременно активных задач, 0 = без ограничения.
	MaxTasks int
}

// TaskManager запускает фоновые операции и отслеживает их по ключу.
type TaskManager struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*entry
	byKey    map[Key]uuid.UUID
	maxTasks int
	closed   bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New создает TaskManager.
func New(cfg Config, logger *zap.Logger) *TaskManager {
	return &TaskManager{
		tasks:    make(map[uuid.UUID]*entry),
		byKey:    make(map[Key]uuid.UUID),
		maxTasks: cfg.MaxTasks,
		logger:   logger.Named("TaskManager"),
	}
}

// SubmitTask запускает fn в отдельной горутине. Контекст задачи не наследует отмену ctx
// вызывающего (HTTP-запрос завершится раньше задачи), но наследует его значения.
func (tm *TaskManager) SubmitTask(ctx context.Context, key Key, fn TaskFunc) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return uuid.Nil, ErrClosed
	}
	if id, ok := tm.byKey[key]; ok && tm.tasks[id].task.Status.Active() {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrDuplicateTask, key)
	}
	if tm.maxTasks > 0 && tm.activeLocked() >= tm.maxTasks {
		return uuid.Nil, ErrTooManyTasks
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := time.Now()
	e := &entry{
		task: Task{
			ID:        uuid.New(),
			Key:       key,
			Status:    TaskStatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
	}
	tm.tasks[e.task.ID] = e
	tm.byKey[key] = e.task.ID
	activeTasksGauge.WithLabelValues(string(key.Kind)).Inc()

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()
		tm.runTask(taskCtx, e, fn)
	}()

	return e.task.ID, nil
}

func (tm *TaskManager) runTask(ctx context.Context, e *entry, fn TaskFunc) {
	log := tm.logger.With(
		zap.Stringer("task_id", e.task.ID),
		zap.Stringer("run_id", e.task.Key.RunID),
		zap.Int("scene_id", e.task.Key.SceneID),
		zap.String("kind", string(e.task.Key.Kind)),
	)
	log.Debug("Task started")

	err := fn(ctx)

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		log.Info("Task cancelled")
		tm.finish(e, TaskStatusCancelled, "Задача отменена")
	case err != nil:
		log.Warn("Task failed", zap.Error(err))
		tm.finish(e, TaskStatusFailed, err.Error())
	default:
		log.Debug("Task completed")
		tm.finish(e, TaskStatusCompleted, "")
	}
}

func (tm *TaskManager) finish(e *entry, status TaskStatus, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if e.task.Status.Active() {
		activeTasksGauge.WithLabelValues(string(e.task.Key.Kind)).Dec()
	}
	e.task.Status = status
	e.task.Message = message
	e.task.UpdatedAt = time.Now()
}

// GetTask возвращает снимок задачи по ID.
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	e, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return e.task, nil
}

// IsActive сообщает, выполняется ли сейчас задача с этим ключом.
func (tm *TaskManager) IsActive(key Key) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	id, ok := tm.byKey[key]
	return ok && tm.tasks[id].task.Status.Active()
}

// CancelTask отменяет одну задачу. Статус станет cancelled, когда тело задачи вернется.
func (tm *TaskManager) CancelTask(taskID uuid.UUID) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	e, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !e.task.Status.Active() {
		return fmt.Errorf("невозможно отменить задачу в статусе %s", e.task.Status)
	}
	e.cancel()
	return nil
}

// CancelOthers отменяет все активные задачи, не принадлежащие runID. Возвращает число отмененных.
func (tm *TaskManager) CancelOthers(runID uuid.UUID) int {
	return tm.cancelWhere(func(k Key) bool { return k.RunID != runID })
}

// CancelRun отменяет все активные задачи прогона.
func (tm *TaskManager) CancelRun(runID uuid.UUID) int {
	return tm.cancelWhere(func(k Key) bool { return k.RunID == runID })
}

func (tm *TaskManager) cancelWhere(match func(Key) bool) int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	n := 0
	for _, e := range tm.tasks {
		if e.task.Status.Active() && match(e.task.Key) {
			e.cancel()
			n++
		}
	}
	return n
}

// ActiveCount - число выполняющихся задач.
func (tm *TaskManager) ActiveCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeLocked()
}

func (tm *TaskManager) activeLocked() int {
	n := 0
	for _, e := range tm.tasks {
		if e.task.Status.Active() {
			n++
		}
	}
	return n
}

// CleanupTasks удаляет завершенные задачи старше age. Возвращает число удаленных.
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, e := range tm.tasks {
		if !e.task.Status.Active() && now.Sub(e.task.UpdatedAt) > age {
			delete(tm.tasks, id)
			if tm.byKey[e.task.Key] == id {
				delete(tm.byKey, e.task.Key)
			}
			removed++
		}
	}
	return removed
}

// Shutdown запрещает новые задачи, отменяет активные и ждет их завершения до дедлайна ctx.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closed = true
	for _, e := range tm.tasks {
		if e.task.Status.Active() {
			e.cancel()
		}
	}
	tm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения задач")
	}
}
