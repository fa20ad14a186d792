package artifact

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"storyboard-server/internal/model"
)

// Store хранит сгенерированные изображения и видео. Сцена держит только ключ.
type Store interface {
	Put(ctx context.Context, key string, media model.Media) error
	// Get возвращает model.ErrArtifactMissing, если ключа нет или он истек.
	Get(ctx context.Context, key string) (model.Media, error)
	Delete(ctx context.Context, key string) error
	// DeleteRun удаляет все артефакты прогона.
	DeleteRun(ctx context.Context, runID uuid.UUID) (int, error)
	// Purge удаляет артефакты старше olderThan.
	Purge(ctx context.Context, olderThan time.Duration) (int, error)
}

// Kind - вид артефакта в ключе.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var keyPattern = regexp.MustCompile(`^[0-9a-f-]{36}_scene_[0-9]+_(image|video)\.[a-z0-9]+$`)

// NewKey строит ключ артефакта: <run>_scene_<id>_<kind>.<ext>. Ключ безопасен как имя файла и сегмент URL.
func NewKey(runID uuid.UUID, sceneID int, kind Kind, ext string) string {
	return fmt.Sprintf("%s_scene_%d_%s.%s", runID, sceneID, kind, ext)
}

// ValidKey проверяет ключ, пришедший снаружи.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

func runPrefix(runID uuid.UUID) string {
	return runID.String() + "_"
}

// URLPath - путь, по которому HTTP-слой отдает артефакт.
func URLPath(key string) string {
	return "/api/artifacts/" + key
}
