package artifact

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job - периодическая задача очистки. Возвращает число удаленных элементов.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// PurgeJob оборачивает Store.Purge с фиксированным сроком хранения.
func PurgeJob(store Store, ttl time.Duration) Job {
	return Job{
		Name: "artifact_purge",
		Run: func(ctx context.Context) (int, error) {
			return store.Purge(ctx, ttl)
		},
	}
}

// Janitor запускает задачи очистки по cron-расписанию.
type Janitor struct {
	cron    *cron.Cron
	jobs    []Job
	timeout time.Duration
	logger  *zap.Logger
}

// NewJanitor регистрирует задачи на расписании schedule (формат robfig/cron, например "@every 1h").
func NewJanitor(schedule string, logger *zap.Logger, jobs ...Job) (*Janitor, error) {
	j := &Janitor{
		cron:    cron.New(),
		jobs:    jobs,
		timeout: time.Minute,
		logger:  logger.Named("ArtifactJanitor"),
	}
	if _, err := j.cron.AddFunc(schedule, j.RunOnce); err != nil {
		return nil, err
	}
	return j, nil
}

// Start запускает планировщик в фоне.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("Janitor started", zap.Int("jobs", len(j.jobs)))
}

// Stop останавливает планировщик и ждет текущий прогон задач.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("Janitor stopped")
}

// RunOnce выполняет все задачи последовательно. Ошибка одной не мешает остальным.
func (j *Janitor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	for _, job := range j.jobs {
		n, err := job.Run(ctx)
		if err != nil {
			j.logger.Error("Cleanup job failed", zap.String("job", job.Name), zap.Error(err))
			continue
		}
		if n > 0 {
			j.logger.Info("Cleanup job finished", zap.String("job", job.Name), zap.Int("removed", n))
		}
	}
}
