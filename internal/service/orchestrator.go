package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyboard-server/internal/artifact"
	"storyboard-server/internal/export"
	"storyboard-server/internal/model"
	"storyboard-server/internal/store"
	"storyboard-server/pkg/taskmanager"
)

// Orchestrator управляет прогоном: раскадровка, параллельная генерация кадров,
// видео по запросу. Все изменения состояния идут через SceneStore.
type Orchestrator struct {
	gen       Generator
	store     *store.SceneStore
	tasks     *taskmanager.TaskManager
	artifacts artifact.Store
	exporter  *export.Exporter
	logger    *zap.Logger

	// startMu сериализует смену прогона: BeginRun, отмена задач и постановка describe
	startMu sync.Mutex

	// Референс нужен для повторов генерации кадров текущего прогона
	refMu sync.RWMutex
	ref   map[uuid.UUID]model.Media
}

// NewOrchestrator создает оркестратор.
func NewOrchestrator(
	gen Generator,
	sceneStore *store.SceneStore,
	tasks *taskmanager.TaskManager,
	artifacts artifact.Store,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		gen:       gen,
		store:     sceneStore,
		tasks:     tasks,
		artifacts: artifacts,
		exporter:  export.NewExporter(artifacts, logger),
		logger:    logger.Named("Orchestrator"),
		ref:       make(map[uuid.UUID]model.Media),
	}
}

// StartRun проверяет параметры и запускает новый прогон в фоне. Предыдущий прогон
// выбрасывается: его задачи отменяются, поздние результаты отклоняются стором.
func (o *Orchestrator) StartRun(ctx context.Context, params model.RunParams) (model.Run, error) {
	if err := params.Validate(); err != nil {
		return model.Run{}, err
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	prev, _ := o.store.CurrentRun()
	runID := uuid.New()
	run := o.store.BeginRun(runID, params)
	if n := o.tasks.CancelOthers(runID); n > 0 {
		o.logger.Info("Cancelled tasks of previous run", zap.Stringer("prev_run_id", prev.ID), zap.Int("tasks", n))
	}

	o.refMu.Lock()
	o.ref = map[uuid.UUID]model.Media{runID: params.ReferenceImage}
	o.refMu.Unlock()

	log := o.logger.With(zap.Stringer("run_id", runID))
	log.Info("Run started", zap.Int("scenes", params.SceneCount), zap.String("aspect_ratio", string(params.AspectRatio)))

	_, err := o.tasks.SubmitTask(ctx, taskmanager.Key{RunID: runID, Kind: taskmanager.KindDescribe}, func(taskCtx context.Context) error {
		if prev.ID != uuid.Nil {
			if _, err := o.artifacts.DeleteRun(taskCtx, prev.ID); err != nil {
				log.Warn("Failed to delete previous run artifacts", zap.Stringer("prev_run_id", prev.ID), zap.Error(err))
			}
		}
		return o.describe(taskCtx, runID, params)
	})
	if err != nil {
		log.Error("Failed to submit describe task", zap.Error(err))
		_ = o.store.FailRun(runID, model.RunErrorDescribeFailed)
		return model.Run{}, fmt.Errorf("failed to start run: %w", err)
	}
	return run, nil
}

func (o *Orchestrator) describe(ctx context.Context, runID uuid.UUID, params model.RunParams) error {
	log := o.logger.With(zap.Stringer("run_id", runID))

	descs, err := o.gen.DescribeScenes(ctx, params.ReferenceImage, params.Story, params.SceneCount)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Error("Scene description failed", zap.Error(err))
		runsTotal.WithLabelValues("failed").Inc()
		if ferr := o.store.FailRun(runID, model.RunErrorDescribeFailed); ferr != nil && !store.IsStale(ferr) {
			log.Error("Failed to record run failure", zap.Error(ferr))
		}
		return err
	}

	scenes, err := o.store.PopulateScenes(runID, descs)
	if err != nil {
		if store.IsStale(err) {
			log.Info("Run was superseded before scenes were ready")
			return nil
		}
		return err
	}
	runsTotal.WithLabelValues("described").Inc()
	log.Info("Scenes populated", zap.Int("count", len(scenes)))

	for _, sc := range scenes {
		if err := o.submitImage(ctx, runID, sc, params.AspectRatio, params.ReferenceImage); err != nil {
			log.Error("Failed to submit image task", zap.Int("scene_id", sc.ID), zap.Error(err))
			o.failImage(runID, sc.ID)
		}
	}
	return nil
}

// submitImage ставит задачу генерации кадра. Состояние сцены при отказе меняет вызывающий.
func (o *Orchestrator) submitImage(ctx context.Context, runID uuid.UUID, sc model.Scene, ratio model.AspectRatio, ref model.Media) error {
	key := taskmanager.Key{RunID: runID, SceneID: sc.ID, Kind: taskmanager.KindImage}
	_, err := o.tasks.SubmitTask(ctx, key, func(taskCtx context.Context) error {
		return o.generateImage(taskCtx, runID, sc, ratio, ref)
	})
	return err
}

func (o *Orchestrator) generateImage(ctx context.Context, runID uuid.UUID, sc model.Scene, ratio model.AspectRatio, ref model.Media) error {
	log := o.logger.With(zap.Stringer("run_id", runID), zap.Int("scene_id", sc.ID))

	media, err := o.gen.GenerateImage(ctx, sc.ImagePrompt, ratio, ref)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		o.failImage(runID, sc.ID)
		log.Warn("Image generation failed", zap.Error(err))
		return err
	}

	if !o.isCurrent(runID) {
		log.Debug("Late image result discarded")
		return nil
	}
	key := artifact.NewKey(runID, sc.ID, artifact.KindImage, media.Extension("png"))
	if err := o.artifacts.Put(ctx, key, media); err != nil {
		log.Error("Failed to store image", zap.Error(err))
		o.failImage(runID, sc.ID)
		return err
	}

	_, err = o.store.Set(runID, sc.ID, model.ScenePatch{
		ImageStatus: model.Ptr(model.ImageStatusReady),
		ImageKey:    model.Ptr(key),
		ImageURL:    model.Ptr(artifact.URLPath(key)),
	})
	if store.IsStale(err) {
		log.Debug("Late image result discarded")
		o.dropArtifact(ctx, key)
		return nil
	}
	if err != nil {
		return err
	}
	sceneImagesTotal.WithLabelValues("ready").Inc()
	log.Info("Scene image ready", zap.String("key", key))
	return nil
}

func (o *Orchestrator) failImage(runID uuid.UUID, sceneID int) {
	sceneImagesTotal.WithLabelValues("failed").Inc()
	_, err := o.store.Set(runID, sceneID, model.ScenePatch{
		ImageStatus: model.Ptr(model.ImageStatusFailed),
		Error:       model.Ptr(model.SceneErrorImageFailed),
	})
	if err != nil && !store.IsStale(err) {
		o.logger.Error("Failed to record image failure", zap.Stringer("run_id", runID), zap.Int("scene_id", sceneID), zap.Error(err))
	}
}

// RetryImage повторяет генерацию кадра сцены, у которой трек изображения завершился ошибкой.
func (o *Orchestrator) RetryImage(ctx context.Context, sceneID int) error {
	run, err := o.store.CurrentRun()
	if err != nil {
		return err
	}
	o.refMu.RLock()
	ref, ok := o.ref[run.ID]
	o.refMu.RUnlock()
	if !ok {
		return model.ErrNoActiveRun
	}

	var before model.Scene
	sc, err := o.store.Apply(run.ID, sceneID, func(cur model.Scene) (model.ScenePatch, error) {
		if cur.ImageStatus != model.ImageStatusFailed {
			return model.ScenePatch{}, model.ErrImageNotFailed
		}
		before = cur
		return model.ScenePatch{
			ImageStatus: model.Ptr(model.ImageStatusGenerating),
			Error:       model.Ptr(""),
		}, nil
	})
	if err != nil {
		return err
	}
	o.logger.Info("Retrying scene image", zap.Stringer("run_id", run.ID), zap.Int("scene_id", sceneID))
	if err := o.submitImage(ctx, run.ID, sc, run.AspectRatio, ref); err != nil {
		// Задача не поставлена: сцена возвращается в состояние до запроса
		o.rollback(run.ID, sceneID, func(cur model.Scene) bool {
			return cur.ImageStatus == model.ImageStatusGenerating
		}, model.ScenePatch{
			ImageStatus: model.Ptr(before.ImageStatus),
			Error:       model.Ptr(before.Error),
		})
		return fmt.Errorf("failed to start image retry: %w", err)
	}
	return nil
}

// GenerateVideo запускает генерацию видео по готовому кадру сцены. Предусловие проверяется
// и состояние generating ставится одной мутацией, поэтому второй запрос получит ErrVideoInProgress.
func (o *Orchestrator) GenerateVideo(ctx context.Context, sceneID int) error {
	run, err := o.store.CurrentRun()
	if err != nil {
		return err
	}
	var before model.Scene
	sc, err := o.store.Apply(run.ID, sceneID, func(cur model.Scene) (model.ScenePatch, error) {
		if !cur.HasImage() {
			return model.ScenePatch{}, model.ErrNoImage
		}
		if cur.VideoStatus == model.VideoStatusGenerating {
			return model.ScenePatch{}, model.ErrVideoInProgress
		}
		before = cur
		return model.ScenePatch{
			VideoStatus:   model.Ptr(model.VideoStatusGenerating),
			VideoProgress: model.Ptr(model.VideoProgressQueued),
		}, nil
	})
	if err != nil {
		return err
	}

	key := taskmanager.Key{RunID: run.ID, SceneID: sceneID, Kind: taskmanager.KindVideo}
	_, err = o.tasks.SubmitTask(ctx, key, func(taskCtx context.Context) error {
		return o.generateVideo(taskCtx, run.ID, sc, run.AspectRatio)
	})
	if err != nil {
		o.rollback(run.ID, sceneID, func(cur model.Scene) bool {
			return cur.VideoStatus == model.VideoStatusGenerating && cur.VideoProgress == model.VideoProgressQueued
		}, model.ScenePatch{
			VideoStatus:   model.Ptr(before.VideoStatus),
			VideoProgress: model.Ptr(before.VideoProgress),
		})
		return fmt.Errorf("failed to start video generation: %w", err)
	}
	return nil
}

func (o *Orchestrator) generateVideo(ctx context.Context, runID uuid.UUID, sc model.Scene, ratio model.AspectRatio) error {
	log := o.logger.With(zap.Stringer("run_id", runID), zap.Int("scene_id", sc.ID))

	source, err := o.artifacts.Get(ctx, sc.ImageKey)
	if err != nil {
		log.Error("Source image is not available", zap.Error(err))
		o.failVideo(runID, sc.ID)
		return err
	}

	progress := func(label string) {
		if _, err := o.store.Set(runID, sc.ID, model.ScenePatch{VideoProgress: model.Ptr(label)}); err != nil && !store.IsStale(err) {
			log.Warn("Failed to record video progress", zap.Error(err))
		}
	}

	video, err := o.gen.GenerateVideo(ctx, sc.ImagePrompt, source, ratio, progress)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Warn("Video generation failed", zap.Error(err))
		o.failVideo(runID, sc.ID)
		return err
	}

	if !o.isCurrent(runID) {
		return nil
	}
	key := artifact.NewKey(runID, sc.ID, artifact.KindVideo, video.Extension("mp4"))
	if err := o.artifacts.Put(ctx, key, video); err != nil {
		log.Error("Failed to store video", zap.Error(err))
		o.failVideo(runID, sc.ID)
		return err
	}

	_, err = o.store.Set(runID, sc.ID, model.ScenePatch{
		VideoStatus:   model.Ptr(model.VideoStatusReady),
		VideoKey:      model.Ptr(key),
		VideoURL:      model.Ptr(artifact.URLPath(key)),
		VideoProgress: model.Ptr(model.VideoProgressDone),
	})
	if store.IsStale(err) {
		o.dropArtifact(ctx, key)
		return nil
	}
	if err != nil {
		return err
	}
	sceneVideosTotal.WithLabelValues("ready").Inc()
	log.Info("Scene video ready", zap.String("key", key))
	return nil
}

func (o *Orchestrator) failVideo(runID uuid.UUID, sceneID int) {
	sceneVideosTotal.WithLabelValues("failed").Inc()
	_, err := o.store.Set(runID, sceneID, model.ScenePatch{
		VideoStatus: model.Ptr(model.VideoStatusFailed),
		Error:       model.Ptr(model.SceneErrorVideoFailed),
	})
	if err != nil && !store.IsStale(err) {
		o.logger.Error("Failed to record video failure", zap.Stringer("run_id", runID), zap.Int("scene_id", sceneID), zap.Error(err))
	}
}

// rollback возвращает поля сцены, если она все еще в состоянии, выставленном запросом.
func (o *Orchestrator) rollback(runID uuid.UUID, sceneID int, stillPending func(model.Scene) bool, patch model.ScenePatch) {
	_, err := o.store.Apply(runID, sceneID, func(cur model.Scene) (model.ScenePatch, error) {
		if !stillPending(cur) {
			return model.ScenePatch{}, nil
		}
		return patch, nil
	})
	if err != nil && !store.IsStale(err) {
		o.logger.Error("Failed to roll back scene state", zap.Stringer("run_id", runID), zap.Int("scene_id", sceneID), zap.Error(err))
	}
}

// isCurrent сообщает, что runID все еще текущий прогон.
func (o *Orchestrator) isCurrent(runID uuid.UUID) bool {
	run, err := o.store.CurrentRun()
	return err == nil && run.ID == runID
}

// dropArtifact удаляет артефакт, который стор отклонил как устаревший.
func (o *Orchestrator) dropArtifact(ctx context.Context, key string) {
	if err := o.artifacts.Delete(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, model.ErrArtifactMissing) {
		o.logger.Warn("Failed to delete stale artifact", zap.String("key", key), zap.Error(err))
	}
}

// Snapshot возвращает текущее состояние.
func (o *Orchestrator) Snapshot() store.Snapshot {
	return o.store.Snapshot()
}

// Subscribe подписывает на события стора.
func (o *Orchestrator) Subscribe(buffer int) (<-chan store.Event, func()) {
	return o.store.Subscribe(buffer)
}

// Artifact отдает сохраненный артефакт по ключу.
func (o *Orchestrator) Artifact(ctx context.Context, key string) (model.Media, error) {
	return o.artifacts.Get(ctx, key)
}

// SceneImage возвращает сцену и ее кадр. ErrNoImage, если кадр еще не готов.
func (o *Orchestrator) SceneImage(ctx context.Context, sceneID int) (model.Scene, model.Media, error) {
	sc, err := o.store.Scene(sceneID)
	if err != nil {
		return model.Scene{}, model.Media{}, err
	}
	if !sc.HasImage() {
		return sc, model.Media{}, model.ErrNoImage
	}
	media, err := o.artifacts.Get(ctx, sc.ImageKey)
	return sc, media, err
}

// Export выгружает кадры текущего прогона в sink.
func (o *Orchestrator) Export(ctx context.Context, sink export.Sink, opts export.Options) (export.Result, error) {
	snap := o.store.Snapshot()
	if snap.Run.ID == uuid.Nil {
		return export.Result{}, model.ErrNoActiveRun
	}
	return o.exporter.ExportAll(ctx, snap.Scenes, sink, opts)
}

// Wait блокируется, пока прогон runID не станет терминальным.
func (o *Orchestrator) Wait(ctx context.Context, runID uuid.UUID) (store.Snapshot, error) {
	return o.waitFor(ctx, runID, func(s store.Snapshot) bool { return s.Run.Status.Terminal() })
}

// WaitVideos ждет завершения прогона и всех запущенных видео.
func (o *Orchestrator) WaitVideos(ctx context.Context, runID uuid.UUID) (store.Snapshot, error) {
	return o.waitFor(ctx, runID, func(s store.Snapshot) bool {
		if !s.Run.Status.Terminal() {
			return false
		}
		for _, sc := range s.Scenes {
			if sc.VideoStatus == model.VideoStatusGenerating {
				return false
			}
		}
		return true
	})
}

// Подписка неблокирующая и может потерять последнее событие, поэтому waitFor
// перечитывает снимок раз в waitRecheckInterval.
const waitRecheckInterval = time.Second

var waitBuffer = 64

func (o *Orchestrator) waitFor(ctx context.Context, runID uuid.UUID, done func(store.Snapshot) bool) (store.Snapshot, error) {
	events, unsubscribe := o.store.Subscribe(waitBuffer)
	defer unsubscribe()
	ticker := time.NewTicker(waitRecheckInterval)
	defer ticker.Stop()

	check := func(s store.Snapshot) (bool, error) {
		if s.Run.ID != runID {
			return false, model.ErrStaleRun
		}
		return done(s), nil
	}

	snap := o.store.Snapshot()
	for {
		ok, err := check(snap)
		if err != nil {
			return snap, err
		}
		if ok {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case _, open := <-events:
			if !open {
				return snap, errors.New("event stream closed")
			}
			snap = o.store.Snapshot()
		case <-ticker.C:
			snap = o.store.Snapshot()
		}
	}
}

// Shutdown отменяет все фоновые задачи и ждет их завершения.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.tasks.Shutdown(ctx)
}
