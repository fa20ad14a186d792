package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

const backendOpenAI = "openai"

// OpenAIConfig - настройки OpenAI-совместимого текстового бэкенда.
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	// EstimateTokens включает оценку токенов через tiktoken, если сервер не вернул usage.
	EstimateTokens bool
}

// OpenAIText - TextModel поверх go-openai (OpenAI, OpenRouter и совместимые).
type OpenAIText struct {
	client     *openaigo.Client
	model      string
	jsonSystem string
	estimate   bool
	logger     *zap.Logger
}

var _ TextModel = (*OpenAIText)(nil)

// NewOpenAIText создает клиент. jsonSystem - системная инструкция для структурированных ответов.
func NewOpenAIText(cfg OpenAIConfig, jsonSystem string, logger *zap.Logger) *OpenAIText {
	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIText{
		client:     openaigo.NewClientWithConfig(openaiConfig),
		model:      cfg.Model,
		jsonSystem: jsonSystem,
		estimate:   cfg.EstimateTokens,
		logger:     logger.Named("OpenAIText"),
	}
}

// DescribeImage передает изображение как data URL в multi-content сообщении.
func (c *OpenAIText) DescribeImage(ctx context.Context, image model.Media, instruction string) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaigo.ChatCompletionMessage{{
			Role: openaigo.ChatMessageRoleUser,
			MultiContent: []openaigo.ChatMessagePart{
				{
					Type:     openaigo.ChatMessagePartTypeImageURL,
					ImageURL: &openaigo.ChatMessageImageURL{URL: image.DataURL(), Detail: openaigo.ImageURLDetailHigh},
				},
				{Type: openaigo.ChatMessagePartTypeText, Text: instruction},
			},
		}},
	})
	text, err := firstChoice(resp, err)
	observe(backendOpenAI, "describe_image", start, err)
	if err == nil {
		c.recordUsage(resp.Usage, text, instruction)
	}
	return text, err
}

// BreakdownScenes запрашивает объект {"scenes": [...]} по строгой JSON Schema.
func (c *OpenAIText) BreakdownScenes(ctx context.Context, prompt string, count int) ([]model.SceneDescription, error) {
	start := time.Now()
	messages := []openaigo.ChatCompletionMessage{}
	if c.jsonSystem != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleSystem, Content: c.jsonSystem})
	}
	messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: &openaigo.ChatCompletionResponseFormat{
			Type: openaigo.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openaigo.ChatCompletionResponseFormatJSONSchema{
				Name:        "scene_breakdown",
				Description: fmt.Sprintf("A list of exactly %d cinematic scenes", count),
				Schema:      sceneEnvelopeSchema,
				Strict:      true,
			},
		},
	})
	text, err := firstChoice(resp, err)
	var scenes []model.SceneDescription
	if err == nil {
		scenes, err = parseScenes(text)
	}
	observe(backendOpenAI, "breakdown_scenes", start, err)
	if err != nil {
		return nil, err
	}
	c.recordUsage(resp.Usage, text, c.jsonSystem, prompt)
	return scenes, nil
}

// recordUsage пишет usage из ответа или, если его нет, оценку по тексту.
func (c *OpenAIText) recordUsage(usage openaigo.Usage, completion string, prompt ...string) {
	promptTokens, completionTokens := usage.PromptTokens, usage.CompletionTokens
	if usage.TotalTokens == 0 && c.estimate {
		promptTokens = estimateTokens(c.model, prompt...)
		completionTokens = estimateTokens(c.model, completion)
	}
	recordTokens(backendOpenAI, promptTokens, completionTokens)
	c.logger.Debug("OpenAI usage",
		zap.Int("prompt_tokens", promptTokens),
		zap.Int("completion_tokens", completionTokens),
	)
}

func firstChoice(resp openaigo.ChatCompletionResponse, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
