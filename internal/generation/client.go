package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

// Политики сверки количества сцен.
const (
	CountPolicyStrict   = "strict"
	CountPolicyTruncate = "truncate"
)

// subjectPrefix - начало imagePrompt, если модель не вставила описание персонажа сама.
const subjectPrefix = "A photo of "

// ClientOptions - параметры Client.
type ClientOptions struct {
	Prompts     *Prompts
	CountPolicy string

	VideoPollInterval    time.Duration
	VideoMaxPollAttempts int
	VideoPollTimeout     time.Duration
}

// Client - фасад над бэкендами генерации. Повторов не делает: любая ошибка возвращается вызывающему.
type Client struct {
	text  TextModel
	image ImageModel
	video VideoModel
	opts  ClientOptions

	logger *zap.Logger
	// sleep заменяется в тестах
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient собирает Client. Незаданные опции берутся по умолчанию.
func NewClient(text TextModel, image ImageModel, video VideoModel, opts ClientOptions, logger *zap.Logger) (*Client, error) {
	if text == nil || image == nil || video == nil {
		return nil, errors.New("generation client requires text, image and video models")
	}
	if opts.Prompts == nil {
		p, err := DefaultPrompts()
		if err != nil {
			return nil, err
		}
		opts.Prompts = p
	}
	if opts.CountPolicy == "" {
		opts.CountPolicy = CountPolicyStrict
	}
	if opts.CountPolicy != CountPolicyStrict && opts.CountPolicy != CountPolicyTruncate {
		return nil, fmt.Errorf("неизвестная политика количества сцен: %q", opts.CountPolicy)
	}
	if opts.VideoPollInterval <= 0 {
		opts.VideoPollInterval = 10 * time.Second
	}
	if opts.VideoMaxPollAttempts <= 0 {
		opts.VideoMaxPollAttempts = 60
	}
	return &Client{
		text:   text,
		image:  image,
		video:  video,
		opts:   opts,
		logger: logger.Named("GenerationClient"),
		sleep:  sleepCtx,
	}, nil
}

// DescribeScenes описывает персонажа на референсе и раскладывает историю на count сцен.
// Все ошибки возвращаются как *model.GenerationError со стадией describe.
func (c *Client) DescribeScenes(ctx context.Context, ref model.Media, story string, count int) ([]model.SceneDescription, error) {
	log := c.logger.With(zap.Int("count", count))

	subject, err := c.text.DescribeImage(ctx, ref, c.opts.Prompts.CharacterDescription)
	if err != nil {
		log.Error("Subject description failed", zap.Error(err))
		return nil, model.NewGenerationError(model.StageDescribe, err)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, model.NewGenerationError(model.StageDescribe, fmt.Errorf("%w: subject description", ErrEmptyResponse))
	}
	log.Debug("Subject described", zap.Int("subject_len", len(subject)))

	prompt, err := c.opts.Prompts.RenderBreakdown(BreakdownData{Story: story, Subject: subject, Count: count})
	if err != nil {
		return nil, model.NewGenerationError(model.StageDescribe, err)
	}

	scenes, err := c.text.BreakdownScenes(ctx, prompt, count)
	if err != nil {
		log.Error("Scene breakdown failed", zap.Error(err))
		return nil, model.NewGenerationError(model.StageDescribe, err)
	}

	scenes, err = c.reconcileCount(scenes, count)
	if err != nil {
		log.Warn("Scene breakdown rejected", zap.Int("received", len(scenes)), zap.Error(err))
		return nil, model.NewGenerationError(model.StageDescribe, err)
	}

	for i := range scenes {
		if err := validateScene(scenes[i]); err != nil {
			return nil, model.NewGenerationError(model.StageDescribe, fmt.Errorf("scene %d: %w", i+1, err))
		}
		scenes[i].ImagePrompt = ensureSubject(scenes[i].ImagePrompt, subject)
	}
	log.Info("Scenes described", zap.Int("received", len(scenes)))
	return scenes, nil
}

func (c *Client) reconcileCount(scenes []model.SceneDescription, count int) ([]model.SceneDescription, error) {
	switch {
	case len(scenes) == count:
		return scenes, nil
	case len(scenes) > count && c.opts.CountPolicy == CountPolicyTruncate:
		return scenes[:count], nil
	default:
		return scenes, fmt.Errorf("%w: requested %d, received %d", ErrSceneCount, count, len(scenes))
	}
}

func validateScene(s model.SceneDescription) error {
	fields := map[string]string{
		"shotType":    s.ShotType,
		"description": s.Description,
		"location":    s.Location,
		"mood":        s.Mood,
		"imagePrompt": s.ImagePrompt,
	}
	for _, name := range []string{"shotType", "description", "location", "mood", "imagePrompt"} {
		if strings.TrimSpace(fields[name]) == "" {
			return fmt.Errorf("%w: %s", ErrIncompleteScene, name)
		}
	}
	return nil
}

// ensureSubject гарантирует, что промт содержит описание персонажа дословно.
func ensureSubject(prompt, subject string) string {
	if strings.Contains(prompt, subject) {
		return prompt
	}
	return subjectPrefix + subject + ", " + strings.TrimSpace(prompt)
}

// GenerateImage генерирует кадр сцены по промту и референсу. Возвращает первое изображение ответа.
func (c *Client) GenerateImage(ctx context.Context, prompt string, ratio model.AspectRatio, ref model.Media) (model.Media, error) {
	images, err := c.image.GenerateImages(ctx, []model.Media{ref}, prompt, ratio)
	if err != nil {
		return model.Media{}, model.NewGenerationError(model.StageImage, err)
	}
	for _, img := range images {
		if !img.Empty() {
			if img.MIMEType == "" {
				img.MIMEType = "image/png"
			}
			return img, nil
		}
	}
	return model.Media{}, model.NewGenerationError(model.StageImage, ErrNoImageReturned)
}

// ProgressFunc получает метку прогресса генерации видео.
type ProgressFunc func(label string)

// GenerateVideo анимирует кадр сцены. Опрос идет с фиксированным интервалом
// и ограничен числом попыток и общим таймаутом.
func (c *Client) GenerateVideo(ctx context.Context, prompt string, source model.Media, ratio model.AspectRatio, onProgress ProgressFunc) (model.Media, error) {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	if c.opts.VideoPollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.VideoPollTimeout)
		defer cancel()
	}
	fail := func(err error) (model.Media, error) {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrVideoPollTimeout, err)
		}
		return model.Media{}, model.NewGenerationError(model.StageVideo, err)
	}

	onProgress(model.VideoProgressStarting)
	job, err := c.video.SubmitVideo(ctx, source, prompt, ratio)
	if err != nil {
		return fail(err)
	}
	log := c.logger.With(zap.String("operation", job.Name))

	onProgress(model.VideoProgressProcessing)
	var status VideoJobStatus
	for attempt := 1; ; attempt++ {
		if attempt > c.opts.VideoMaxPollAttempts {
			log.Warn("Video poll attempts exhausted", zap.Int("attempts", c.opts.VideoMaxPollAttempts))
			return fail(fmt.Errorf("%w: %d attempts", ErrVideoPollTimeout, c.opts.VideoMaxPollAttempts))
		}
		if err := c.sleep(ctx, c.opts.VideoPollInterval); err != nil {
			return fail(err)
		}
		onProgress(model.VideoProgressChecking)
		videoPollsTotal.Inc()
		status, err = c.video.PollVideo(ctx, job)
		if err != nil {
			return fail(err)
		}
		if status.Done {
			break
		}
	}

	if status.Failure != "" {
		log.Warn("Video job failed", zap.String("failure", status.Failure))
		return fail(fmt.Errorf("%w: %s", ErrVideoJobFailed, status.Failure))
	}
	if status.VideoURI == "" {
		return fail(ErrVideoNoURI)
	}

	onProgress(model.VideoProgressFetching)
	video, err := c.video.FetchVideo(ctx, status.VideoURI)
	if err != nil {
		return fail(err)
	}
	log.Info("Video fetched", zap.Int("bytes", len(video.Data)))
	return video, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
