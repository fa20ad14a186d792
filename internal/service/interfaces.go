package service

import (
	"context"

	"storyboard-server/internal/generation"
	"storyboard-server/internal/model"
)

// Generator - операции генерации, которые нужны оркестратору. Реализуется generation.Client.
type Generator interface {
	DescribeScenes(ctx context.Context, ref model.Media, story string, count int) ([]model.SceneDescription, error)
	GenerateImage(ctx context.Context, prompt string, ratio model.AspectRatio, ref model.Media) (model.Media, error)
	GenerateVideo(ctx context.Context, prompt string, source model.Media, ratio model.AspectRatio, onProgress generation.ProgressFunc) (model.Media, error)
}

var _ Generator = (*generation.Client)(nil)
