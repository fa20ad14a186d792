package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Границы количества сцен в прогоне.
const (
	MinScenes     = 5
	MaxScenes     = 20
	DefaultScenes = 10
)

// AspectRatio - соотношение сторон генерируемых кадров.
type AspectRatio string

const (
	AspectRatioPortrait  AspectRatio = "9:16"
	AspectRatioLandscape AspectRatio = "16:9"
)

// Valid проверяет, что значение входит в поддерживаемый набор.
func (a AspectRatio) Valid() bool {
	return a == AspectRatioPortrait || a == AspectRatioLandscape
}

// RunParams - параметры одного прогона. Не сохраняются.
type RunParams struct {
	ReferenceImage Media
	Story          string
	SceneCount     int
	AspectRatio    AspectRatio
}

// Validate проверяет входные данные прогона и возвращает *ValidationError.
func (p RunParams) Validate() error {
	if p.ReferenceImage.Empty() || strings.TrimSpace(p.Story) == "" {
		return &ValidationError{Field: "image,story", Message: "Please provide a reference image and a story description."}
	}
	if !strings.HasPrefix(p.ReferenceImage.MIMEType, "image/") {
		return &ValidationError{Field: "image", Message: "reference image must be an image/* payload"}
	}
	if p.SceneCount < MinScenes || p.SceneCount > MaxScenes {
		return &ValidationError{Field: "scenes", Message: "scene count must be between 5 and 20"}
	}
	if !p.AspectRatio.Valid() {
		return &ValidationError{Field: "aspectRatio", Message: "aspect ratio must be 9:16 or 16:9"}
	}
	return nil
}

// RunStatus - состояние прогона целиком.
type RunStatus string

const (
	RunStatusIdle             RunStatus = "idle"
	RunStatusDescribing       RunStatus = "describing"
	RunStatusGeneratingImages RunStatus = "generating_images"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
)

// Terminal возвращает true для completed и failed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunErrorDescribeFailed - текст баннера при неудаче шага describe.
const RunErrorDescribeFailed = "Failed to generate scene descriptions. Please check your API key and try again."

// Run - метаданные текущего прогона (без байтов референса).
type Run struct {
	ID          uuid.UUID   `json:"id"`
	Status      RunStatus   `json:"status"`
	Error       string      `json:"error,omitempty"`
	Story       string      `json:"story"`
	SceneCount  int         `json:"sceneCount"`
	AspectRatio AspectRatio `json:"aspectRatio"`
	StartedAt   time.Time   `json:"startedAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
