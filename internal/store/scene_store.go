package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

// Mutation вычисляет патч от текущего состояния сцены. Вызывается под блокировкой стора,
// поэтому проверка предусловия и применение атомарны. Ошибка отменяет обновление.
type Mutation func(current model.Scene) (model.ScenePatch, error)

// Snapshot - согласованный срез состояния: прогон и копии сцен по возрастанию id.
type Snapshot struct {
	Run    model.Run     `json:"run"`
	Scenes []model.Scene `json:"scenes"`
}

// ExportAvailable - есть хотя бы одна сцена с готовым изображением.
func (s Snapshot) ExportAvailable() bool {
	for _, sc := range s.Scenes {
		if sc.HasImage() {
			return true
		}
	}
	return false
}

// EventKind - тип события стора.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventRunUpdated   EventKind = "run_updated"
	EventSceneUpdated EventKind = "scene_updated"
)

// Event несет полный снимок, поэтому пропустивший события подписчик сходится на следующем.
type Event struct {
	Kind     EventKind `json:"kind"`
	SceneID  int       `json:"sceneId,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
}

// SceneStore - единственное разделяемое изменяемое состояние. Хранит один текущий прогон.
type SceneStore struct {
	mu     sync.Mutex
	run    model.Run
	scenes map[int]model.Scene

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int

	now    func() time.Time
	logger *zap.Logger
}

// NewSceneStore создает пустой стор в состоянии idle.
func NewSceneStore(logger *zap.Logger) *SceneStore {
	return &SceneStore{
		run:         model.Run{Status: model.RunStatusIdle},
		scenes:      make(map[int]model.Scene),
		subscribers: make(map[int]chan Event),
		now:         time.Now,
		logger:      logger.Named("SceneStore"),
	}
}

// BeginRun делает runID текущим прогоном. Предыдущая коллекция выбрасывается целиком,
// все обновления со старым id после этого отклоняются.
func (s *SceneStore) BeginRun(runID uuid.UUID, params model.RunParams) model.Run {
	s.mu.Lock()
	prev := s.run.ID
	now := s.now()
	s.run = model.Run{
		ID:          runID,
		Status:      model.RunStatusDescribing,
		Story:       params.Story,
		SceneCount:  params.SceneCount,
		AspectRatio: params.AspectRatio,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	s.scenes = make(map[int]model.Scene)
	run := s.run
	s.publish(Event{Kind: EventRunStarted, Snapshot: s.snapshotLocked()})
	s.mu.Unlock()

	if prev != uuid.Nil {
		s.logger.Info("Previous run discarded", zap.Stringer("prev_run_id", prev), zap.Stringer("run_id", runID))
	}
	return run
}

// PopulateScenes материализует сцены 1..N, трек изображения каждой в состоянии generating.
func (s *SceneStore) PopulateScenes(runID uuid.UUID, descs []model.SceneDescription) ([]model.Scene, error) {
	s.mu.Lock()
	if err := s.checkRunLocked(runID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(s.scenes) > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("run %s already has scenes", runID)
	}
	out := make([]model.Scene, 0, len(descs))
	for i, d := range descs {
		sc := model.NewScene(i+1, d)
		s.scenes[sc.ID] = sc
		out = append(out, sc)
	}
	s.run.Status = model.RunStatusGeneratingImages
	s.completeIfDoneLocked()
	s.run.UpdatedAt = s.now()
	s.publish(Event{Kind: EventRunUpdated, Snapshot: s.snapshotLocked()})
	s.mu.Unlock()

	return out, nil
}

// FailRun переводит прогон в failed: сцен нет, текст ошибки виден в баннере.
func (s *SceneStore) FailRun(runID uuid.UUID, message string) error {
	s.mu.Lock()
	if err := s.checkRunLocked(runID); err != nil {
		s.mu.Unlock()
		return err
	}
	s.scenes = make(map[int]model.Scene)
	s.run.Status = model.RunStatusFailed
	s.run.Error = message
	s.run.UpdatedAt = s.now()
	s.publish(Event{Kind: EventRunUpdated, Snapshot: s.snapshotLocked()})
	s.mu.Unlock()

	return nil
}

// Apply - единственная точка обновления сцены. Возвращает сцену после применения.
// Обновление для устаревшего прогона возвращает ErrStaleRun и ничего не меняет.
func (s *SceneStore) Apply(runID uuid.UUID, sceneID int, mutate Mutation) (model.Scene, error) {
	s.mu.Lock()
	if err := s.checkRunLocked(runID); err != nil {
		s.mu.Unlock()
		return model.Scene{}, err
	}
	current, ok := s.scenes[sceneID]
	if !ok {
		s.mu.Unlock()
		return model.Scene{}, fmt.Errorf("%w: %d", model.ErrSceneNotFound, sceneID)
	}
	patch, err := mutate(current)
	if err != nil {
		s.mu.Unlock()
		return current, err
	}
	if patch.Empty() {
		s.mu.Unlock()
		return current, nil
	}
	updated := patch.ApplyTo(current)
	s.scenes[sceneID] = updated
	// Повтор генерации изображения возвращает завершенный прогон в generating_images
	if updated.ImageStatus == model.ImageStatusGenerating && s.run.Status == model.RunStatusCompleted {
		s.run.Status = model.RunStatusGeneratingImages
	}
	s.completeIfDoneLocked()
	s.run.UpdatedAt = s.now()
	s.publish(Event{Kind: EventSceneUpdated, SceneID: sceneID, Snapshot: s.snapshotLocked()})
	s.mu.Unlock()

	return updated, nil
}

// Set - Apply с безусловным патчем.
func (s *SceneStore) Set(runID uuid.UUID, sceneID int, patch model.ScenePatch) (model.Scene, error) {
	return s.Apply(runID, sceneID, func(model.Scene) (model.ScenePatch, error) { return patch, nil })
}

// Snapshot возвращает копию текущего состояния.
func (s *SceneStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Scene возвращает копию сцены текущего прогона.
func (s *SceneStore) Scene(sceneID int) (model.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.ID == uuid.Nil {
		return model.Scene{}, model.ErrNoActiveRun
	}
	sc, ok := s.scenes[sceneID]
	if !ok {
		return model.Scene{}, fmt.Errorf("%w: %d", model.ErrSceneNotFound, sceneID)
	}
	return sc, nil
}

// CurrentRun возвращает метаданные текущего прогона.
func (s *SceneStore) CurrentRun() (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.ID == uuid.Nil {
		return model.Run{}, model.ErrNoActiveRun
	}
	return s.run, nil
}

// Subscribe возвращает канал событий и функцию отписки.
// Отправка неблокирующая: медленный подписчик теряет промежуточные события.
func (s *SceneStore) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// publish вызывается под s.mu, чтобы подписчики видели снимки в порядке изменений.
func (s *SceneStore) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("Subscriber is slow, event dropped", zap.Int("subscriber", id), zap.String("kind", string(ev.Kind)))
		}
	}
}

func (s *SceneStore) checkRunLocked(runID uuid.UUID) error {
	if s.run.ID == uuid.Nil {
		return model.ErrNoActiveRun
	}
	if runID != s.run.ID {
		return model.ErrStaleRun
	}
	return nil
}

// completeIfDoneLocked завершает прогон, когда у всех сцен трек изображения терминален.
// Видео на статус прогона не влияет.
func (s *SceneStore) completeIfDoneLocked() {
	if s.run.Status != model.RunStatusGeneratingImages {
		return
	}
	for _, sc := range s.scenes {
		if !sc.ImageStatus.Terminal() {
			return
		}
	}
	s.run.Status = model.RunStatusCompleted
}

func (s *SceneStore) snapshotLocked() Snapshot {
	snap := Snapshot{Run: s.run, Scenes: make([]model.Scene, 0, len(s.scenes))}
	for _, sc := range s.scenes {
		snap.Scenes = append(snap.Scenes, sc)
	}
	sort.Slice(snap.Scenes, func(i, j int) bool { return snap.Scenes[i].ID < snap.Scenes[j].ID })
	return snap
}

// IsStale - помощник для фоновых задач: ошибка означает, что результат надо молча выбросить.
func IsStale(err error) bool {
	return errors.Is(err, model.ErrStaleRun) || errors.Is(err, model.ErrNoActiveRun)
}
