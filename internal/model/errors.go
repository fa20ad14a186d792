package model

import (
	"errors"
	"fmt"
)

// Стандартные ошибки оркестрации
var (
	ErrNoActiveRun     = errors.New("no active run")
	ErrStaleRun        = errors.New("update belongs to a stale run")
	ErrSceneNotFound   = errors.New("scene not found")
	ErrNoImage         = errors.New("scene has no generated image yet")
	ErrVideoInProgress = errors.New("video generation is already in progress for this scene")
	ErrImageNotFailed  = errors.New("image generation can only be retried after a failure")
	ErrArtifactMissing = errors.New("artifact not found")
)

// ValidationError - не хватает или неверны входные данные прогона. Прогон не запускается.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Field, e.Message)
}

// Стадии генерации для GenerationError.
const (
	StageDescribe = "describe"
	StageImage    = "image"
	StageVideo    = "video"
)

// GenerationError - ошибка удаленного вызова или некорректный ответ сервиса генерации.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError оборачивает err в GenerationError, если он уже не такой.
func NewGenerationError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return &GenerationError{Stage: stage, Err: err}
}

// IsValidation - помощник для errors.As с ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
