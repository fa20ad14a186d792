package messaging

import (
	"time"

	"github.com/google/uuid"

	"storyboard-server/internal/model"
	"storyboard-server/internal/store"
)

// SceneEvent - сообщение для внешних потребителей об изменении прогона или сцены.
// Несет только изменившуюся сцену, а не весь снимок.
type SceneEvent struct {
	EventID    string          `json:"eventId"`
	Kind       store.EventKind `json:"kind"`
	RunID      uuid.UUID       `json:"runId"`
	RunStatus  model.RunStatus `json:"runStatus"`
	RunError   string          `json:"runError,omitempty"`
	Scene      *model.Scene    `json:"scene,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewSceneEvent строит сообщение из события стора.
func NewSceneEvent(ev store.Event) SceneEvent {
	out := SceneEvent{
		EventID:    uuid.NewString(),
		Kind:       ev.Kind,
		RunID:      ev.Snapshot.Run.ID,
		RunStatus:  ev.Snapshot.Run.Status,
		RunError:   ev.Snapshot.Run.Error,
		OccurredAt: ev.Snapshot.Run.UpdatedAt,
	}
	if ev.SceneID > 0 {
		for i := range ev.Snapshot.Scenes {
			if ev.Snapshot.Scenes[i].ID == ev.SceneID {
				sc := ev.Snapshot.Scenes[i]
				out.Scene = &sc
				break
			}
		}
	}
	return out
}
