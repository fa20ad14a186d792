package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"storyboard-server/internal/model"
	"storyboard-server/shared/utils"
)

const backendGemini = "gemini"

// maxErrorBody - сколько символов текста ошибки API попадает в лог.
const maxErrorBody = 2048

// geminiAPIVersion - версия Generative Language API, в которой доступны image и Veo модели.
const geminiAPIVersion = "v1beta"

// GeminiConfig - настройки клиента Gemini/Veo.
type GeminiConfig struct {
	BaseURL    string
	APIKey     string
	TextModel  string
	ImageModel string
	VideoModel string
	Timeout    time.Duration
}

// GeminiClient ходит в Generative Language API через genai. Реализует TextModel, ImageModel и VideoModel.
type GeminiClient struct {
	cfg    GeminiConfig
	client *genai.Client
	logger *zap.Logger
}

var (
	_ TextModel  = (*GeminiClient)(nil)
	_ ImageModel = (*GeminiClient)(nil)
	_ VideoModel = (*GeminiClient)(nil)
)

// NewGeminiClient создает клиент. httpClient может быть nil.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, httpClient *http.Client, logger *zap.Logger) (*GeminiClient, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := genai.HTTPOptions{APIVersion: geminiAPIVersion}
	if cfg.BaseURL != "" {
		opts.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		cfg:    cfg,
		client: client,
		logger: logger.Named("GeminiClient"),
	}, nil
}

func mediaPart(m model.Media) *genai.Part {
	return genai.NewPartFromBytes(m.Data, m.MIMEType)
}

// --- TextModel ---

// DescribeImage отправляет изображение и инструкцию, возвращает текст ответа.
func (c *GeminiClient) DescribeImage(ctx context.Context, image model.Media, instruction string) (string, error) {
	start := time.Now()
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		mediaPart(image),
		genai.NewPartFromText(instruction),
	}, genai.RoleUser)}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.TextModel, contents, nil)
	text, err := c.responseText(resp, err)
	observe(backendGemini, "describe_image", start, err)
	return text, err
}

// BreakdownScenes запрашивает структурированный массив сцен по responseSchema.
func (c *GeminiClient) BreakdownScenes(ctx context.Context, prompt string, count int) ([]model.SceneDescription, error) {
	start := time.Now()
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   sceneArrayGeminiSchema(),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.TextModel, contents, config)
	text, err := c.responseText(resp, err)
	var scenes []model.SceneDescription
	if err == nil {
		scenes, err = parseScenes(text)
	}
	observe(backendGemini, "breakdown_scenes", start, err)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Scene breakdown received", zap.Int("requested", count), zap.Int("received", len(scenes)))
	return scenes, nil
}

// --- ImageModel ---

// GenerateImages отправляет референсы и промт, возвращает все inline-изображения ответа.
func (c *GeminiClient) GenerateImages(ctx context.Context, images []model.Media, prompt string, ratio model.AspectRatio) ([]model.Media, error) {
	start := time.Now()
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, mediaPart(img))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	if ratio != "" {
		config.ImageConfig = &genai.ImageConfig{AspectRatio: string(ratio)}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.ImageModel, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	var out []model.Media
	if err != nil {
		err = c.apiError("generateContent", err)
	} else {
		out = responseImages(resp)
	}
	observe(backendGemini, "generate_images", start, err)
	return out, err
}

// --- VideoModel ---

// SubmitVideo запускает долгую операцию генерации видео по кадру.
func (c *GeminiClient) SubmitVideo(ctx context.Context, image model.Media, prompt string, ratio model.AspectRatio) (VideoJob, error) {
	start := time.Now()
	op, err := c.client.Models.GenerateVideos(ctx, c.cfg.VideoModel, prompt,
		&genai.Image{ImageBytes: image.Data, MIMEType: image.MIMEType},
		&genai.GenerateVideosConfig{NumberOfVideos: 1, AspectRatio: string(ratio)},
	)
	if err != nil {
		err = c.apiError("generateVideos", err)
	} else if op == nil || op.Name == "" {
		err = fmt.Errorf("%w: operation name is missing", ErrEmptyResponse)
	}
	observe(backendGemini, "submit_video", start, err)
	if err != nil {
		return VideoJob{}, err
	}
	c.logger.Info("Video job submitted", zap.String("operation", op.Name))
	return VideoJob{Name: op.Name}, nil
}

// PollVideo читает состояние операции.
func (c *GeminiClient) PollVideo(ctx context.Context, job VideoJob) (VideoJobStatus, error) {
	start := time.Now()
	op, err := c.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: job.Name}, nil)
	if err != nil {
		err = c.apiError("getVideosOperation", err)
	}
	observe(backendGemini, "poll_video", start, err)
	if err != nil {
		return VideoJobStatus{}, err
	}

	status := VideoJobStatus{Done: op.Done}
	if len(op.Error) > 0 {
		status.Done = true
		status.Failure = operationFailure(op.Error)
		return status, nil
	}
	if op.Response != nil {
		for _, v := range op.Response.GeneratedVideos {
			if v != nil && v.Video != nil && v.Video.URI != "" {
				status.VideoURI = v.Video.URI
				break
			}
		}
	}
	return status, nil
}

// FetchVideo скачивает готовое видео по URI из ответа операции.
func (c *GeminiClient) FetchVideo(ctx context.Context, uri string) (model.Media, error) {
	start := time.Now()
	video := &genai.GeneratedVideo{Video: &genai.Video{URI: uri}}
	data, err := c.client.Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(video), nil)
	if err != nil {
		err = c.apiError("download", err)
	} else if len(data) == 0 {
		err = fmt.Errorf("%w: video body is empty", ErrEmptyResponse)
	}
	observe(backendGemini, "fetch_video", start, err)
	if err != nil {
		return model.Media{}, err
	}
	return model.Media{Data: data, MIMEType: "video/mp4"}, nil
}

// --- ответы ---

func (c *GeminiClient) apiError(call string, err error) error {
	c.logger.Error("Gemini API call failed",
		zap.String("call", call),
		zap.String("error", utils.Truncate(err.Error(), maxErrorBody)),
	)
	return fmt.Errorf("gemini %s: %w", call, err)
}

// responseText склеивает текстовые части первого кандидата, пропуская мысли модели.
func (c *GeminiClient) responseText(resp *genai.GenerateContentResponse, err error) (string, error) {
	if err != nil {
		return "", c.apiError("generateContent", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}
	var sb strings.Builder
	if content := resp.Candidates[0].Content; content != nil {
		for _, p := range content.Parts {
			if p != nil && !p.Thought {
				sb.WriteString(p.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// responseImages достает inline-изображения первого кандидата.
func responseImages(resp *genai.GenerateContentResponse) []model.Media {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []model.Media
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
			continue
		}
		out = append(out, model.Media{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
	}
	return out
}

// operationFailure формирует текст ошибки долгой операции.
func operationFailure(opErr map[string]any) string {
	if msg, ok := opErr["message"].(string); ok && msg != "" {
		return msg
	}
	if code, ok := opErr["code"]; ok {
		return fmt.Sprintf("code %v", code)
	}
	return "video operation failed"
}
