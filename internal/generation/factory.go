package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storyboard-server/internal/config"
)

// NewFromConfig собирает Client по конфигурации. Изображения и видео всегда идут через Gemini,
// текстовый бэкенд выбирается TEXT_BACKEND.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Client, error) {
	prompts, err := LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	gemini, err := NewGeminiClient(ctx, GeminiConfig{
		BaseURL:    cfg.GeminiBaseURL,
		APIKey:     cfg.GeminiAPIKey,
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
		VideoModel: cfg.GeminiVideoModel,
		Timeout:    cfg.RequestTimeout,
	}, nil, logger)
	if err != nil {
		return nil, err
	}

	var text TextModel
	switch strings.ToLower(cfg.TextBackend) {
	case "gemini":
		text = gemini
	case "openai":
		text = NewOpenAIText(OpenAIConfig{
			BaseURL:        cfg.OpenAIBaseURL,
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			Timeout:        cfg.RequestTimeout,
			EstimateTokens: cfg.EstimateTokens,
		}, prompts.JSONSystem, logger)
	case "ollama":
		text, err = NewOllamaText(OllamaConfig{
			BaseURL:        cfg.OllamaURL,
			Model:          cfg.OllamaModel,
			Timeout:        cfg.RequestTimeout,
			EstimateTokens: cfg.EstimateTokens,
		}, prompts.JSONSystem, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("неизвестный текстовый бэкенд: '%s'", cfg.TextBackend)
	}
	logger.Info("Generation client configured", zap.String("text_backend", cfg.TextBackend))

	return NewClient(text, gemini, gemini, ClientOptions{
		Prompts:              prompts,
		CountPolicy:          cfg.SceneCountPolicy,
		VideoPollInterval:    cfg.VideoPollInterval,
		VideoMaxPollAttempts: cfg.VideoMaxPollAttempts,
		VideoPollTimeout:     cfg.VideoPollTimeout,
	}, logger)
}
