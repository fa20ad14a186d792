package generation

import (
	"context"

	"storyboard-server/internal/model"
)

// TextModel - текстовый бэкенд: описание изображения и структурированная раскадровка.
type TextModel interface {
	DescribeImage(ctx context.Context, image model.Media, instruction string) (string, error)
	// BreakdownScenes возвращает сцены в порядке модели. count передается как подсказка для схемы.
	BreakdownScenes(ctx context.Context, prompt string, count int) ([]model.SceneDescription, error)
}

// ImageModel генерирует изображения по референсам и текстовой инструкции.
type ImageModel interface {
	GenerateImages(ctx context.Context, images []model.Media, prompt string, ratio model.AspectRatio) ([]model.Media, error)
}

// VideoJob - дескриптор долгой операции генерации видео.
type VideoJob struct {
	Name string
}

// VideoJobStatus - результат одного опроса задачи.
type VideoJobStatus struct {
	Done     bool
	VideoURI string
	// Failure заполнен, если задача завершилась ошибкой.
	Failure string
}

// VideoModel - асинхронный видео-бэкенд: отправить задачу, опрашивать, скачать результат.
type VideoModel interface {
	SubmitVideo(ctx context.Context, image model.Media, prompt string, ratio model.AspectRatio) (VideoJob, error)
	PollVideo(ctx context.Context, job VideoJob) (VideoJobStatus, error)
	FetchVideo(ctx context.Context, uri string) (model.Media, error)
}
