package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

const backendOllama = "ollama"

// OllamaConfig - настройки локального бэкенда Ollama.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	Timeout        time.Duration
	// EstimateTokens включает оценку токенов через tiktoken, если Ollama не вернула счетчики.
	EstimateTokens bool
}

// OllamaText - TextModel поверх нативного API Ollama. Модель должна быть мультимодальной (llava и т.п.).
type OllamaText struct {
	client     *api.Client
	model      string
	timeout    time.Duration
	jsonSystem string
	estimate   bool
	logger     *zap.Logger
}

var _ TextModel = (*OllamaText)(nil)

// NewOllamaText создает клиент. Суффикс /v1 в адресе отбрасывается.
func NewOllamaText(cfg OllamaConfig, jsonSystem string, logger *zap.Logger) (*OllamaText, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama URL '%s': %w", base, err)
	}
	return &OllamaText{
		client:     api.NewClient(parsed, &http.Client{Timeout: cfg.Timeout}),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		jsonSystem: jsonSystem,
		estimate:   cfg.EstimateTokens,
		logger:     logger.Named("OllamaText"),
	}, nil
}

// DescribeImage передает байты изображения в поле images сообщения.
func (c *OllamaText) DescribeImage(ctx context.Context, image model.Media, instruction string) (string, error) {
	start := time.Now()
	text, err := c.chat(ctx, []api.Message{{
		Role:    "user",
		Content: instruction,
		Images:  []api.ImageData{image.Data},
	}}, nil)
	observe(backendOllama, "describe_image", start, err)
	return text, err
}

// BreakdownScenes передает JSON Schema конверта в поле format.
func (c *OllamaText) BreakdownScenes(ctx context.Context, prompt string, count int) ([]model.SceneDescription, error) {
	start := time.Now()
	format, err := json.Marshal(sceneEnvelopeSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scene schema: %w", err)
	}

	var messages []api.Message
	if c.jsonSystem != "" {
		messages = append(messages, api.Message{Role: "system", Content: c.jsonSystem})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt})

	text, err := c.chat(ctx, messages, format)
	var scenes []model.SceneDescription
	if err == nil {
		scenes, err = parseScenes(text)
	}
	observe(backendOllama, "breakdown_scenes", start, err)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Scene breakdown received", zap.Int("requested", count), zap.Int("received", len(scenes)))
	return scenes, nil
}

func (c *OllamaText) chat(ctx context.Context, messages []api.Message, format json.RawMessage) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Format:   format,
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var sb strings.Builder
	var promptTokens, completionTokens int
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		sb.WriteString(r.Message.Content)
		if r.Done {
			promptTokens, completionTokens = r.PromptEvalCount, r.EvalCount
		}
		return nil
	})
	if err != nil {
		c.logger.Error("Ollama chat failed", zap.String("model", c.model), zap.Error(err))
		return "", err
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}

	if promptTokens == 0 && completionTokens == 0 && c.estimate {
		contents := make([]string, 0, len(messages))
		for _, m := range messages {
			contents = append(contents, m.Content)
		}
		promptTokens = estimateTokens(c.model, contents...)
		completionTokens = estimateTokens(c.model, text)
	}
	recordTokens(backendOllama, promptTokens, completionTokens)
	return text, nil
}
