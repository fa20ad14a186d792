package generation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-server/internal/generation"
	"storyboard-server/internal/mocks"
	"storyboard-server/internal/model"
)

const subject = "a woman with short red hair, green eyes, freckles"

var refImage = model.Media{Data: []byte("ref"), MIMEType: "image/jpeg"}

func scenes(n int, withSubject bool) []model.SceneDescription {
	out := make([]model.SceneDescription, n)
	for i := range out {
		prompt := "walking through rain"
		if withSubject {
			prompt = "A photo of " + subject + ", walking through rain"
		}
		out[i] = model.SceneDescription{
			ShotType:    "Medium Shot",
			Description: "She walks.",
			Location:    "Street",
			Mood:        "calm, wet",
			ImagePrompt: prompt,
		}
	}
	return out
}

type fixture struct {
	text   *mocks.MockTextModel
	image  *mocks.MockImageModel
	video  *mocks.MockVideoModel
	client *generation.Client
}

func newFixture(t *testing.T, opts generation.ClientOptions) *fixture {
	t.Helper()
	f := &fixture{
		text:  mocks.NewMockTextModel(t),
		image: mocks.NewMockImageModel(t),
		video: mocks.NewMockVideoModel(t),
	}
	c, err := generation.NewClient(f.text, f.image, f.video, opts, zap.NewNop())
	require.NoError(t, err)
	c.SetSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
	f.client = c
	return f
}

func TestClient_DescribeScenes(t *testing.T) {
	ctx := context.Background()
	story := "A rainy day in the city"

	t.Run("Успех: промт раскадровки содержит историю и описание", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		f.text.On("DescribeImage", ctx, refImage, mock.MatchedBy(func(s string) bool {
			return strings.HasPrefix(s, "Describe the person in this image")
		})).Return(subject, nil).Once()
		f.text.On("BreakdownScenes", ctx, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, story) && strings.Contains(p, subject) && strings.Contains(p, "exactly 5 scene objects")
		}), 5).Return(scenes(5, true), nil).Once()

		got, err := f.client.DescribeScenes(ctx, refImage, story, 5)
		require.NoError(t, err)
		require.Len(t, got, 5)
		for _, s := range got {
			assert.Contains(t, s.ImagePrompt, subject)
		}
	})

	t.Run("Описание персонажа добавляется к промту, если модель его потеряла", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		f.text.On("DescribeImage", ctx, refImage, mock.Anything).Return("  "+subject+"\n", nil).Once()
		f.text.On("BreakdownScenes", ctx, mock.Anything, 5).Return(scenes(5, false), nil).Once()

		got, err := f.client.DescribeScenes(ctx, refImage, story, 5)
		require.NoError(t, err)
		assert.Equal(t, "A photo of "+subject+", walking through rain", got[0].ImagePrompt)
	})

	t.Run("strict: лишние сцены отклоняются", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{CountPolicy: generation.CountPolicyStrict})
		f.text.On("DescribeImage", ctx, refImage, mock.Anything).Return(subject, nil).Once()
		f.text.On("BreakdownScenes", ctx, mock.Anything, 5).Return(scenes(6, true), nil).Once()

		_, err := f.client.DescribeScenes(ctx, refImage, story, 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, generation.ErrSceneCount))
		var ge *model.GenerationError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, model.StageDescribe, ge.Stage)
	})

	t.Run("truncate: лишние сцены обрезаются", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{CountPolicy: generation.CountPolicyTruncate})
		f.text.On("DescribeImage", ctx, refImage, mock.Anything).Return(subject, nil).Once()
		f.text.On("BreakdownScenes", ctx, mock.Anything, 5).Return(scenes(7, true), nil).Once()

		got, err := f.client.DescribeScenes(ctx, refImage, story, 5)
		require.NoError(t, err)
		assert.Len(t, got, 5)
	})

	t.Run("truncate: недостающие сцены отклоняются", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{CountPolicy: generation.CountPolicyTruncate})
		f.text.On("DescribeImage", ctx, refImage, mock.Anything).Return(subject, nil).Once()
		f.text.On("BreakdownScenes", ctx, mock.Anything, 5).Return(scenes(3, true), nil).Once()

		_, err := f.client.DescribeScenes(ctx, refImage, story, 5)
		assert.True(t, errors.Is(err, generation.ErrSceneCount))
	})

	t.Run("Пустое поле сцены", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		bad := scenes(5, true)
		bad[2].Mood = " "
		f.text.On("DescribeImage", ctx, refImage, mock.Anything).Return(subject, nil).Once()
		f.text.On("BreakdownScenes", ctx, mock.Anything, 5).Return(bad, nil).Once()

		_, err := f.client.DescribeScenes(ctx, refImage, story, 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, generation.ErrIncompleteScene))
		assert.Contains(t, err.Error(), "scene 3")
	})

	t.Run("Ошибка описания персонажа: раскадровка не вызывается", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		apiErr := errors.New("401 unauthorized")
		f.text.On("DescribeImage", ctx, refImage, mock.Anything).Return("", apiErr).Once()

		_, err := f.client.DescribeScenes(ctx, refImage, story, 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apiErr))
		f.text.AssertNotCalled(t, "BreakdownScenes", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestClient_GenerateImage(t *testing.T) {
	ctx := context.Background()

	t.Run("Возвращает первое изображение", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		img := model.Media{Data: []byte("png"), MIMEType: "image/png"}
		f.image.On("GenerateImages", ctx, []model.Media{refImage}, "prompt", model.AspectRatioPortrait).
			Return([]model.Media{img, {Data: []byte("second"), MIMEType: "image/png"}}, nil).Once()

		got, err := f.client.GenerateImage(ctx, "prompt", model.AspectRatioPortrait, refImage)
		require.NoError(t, err)
		assert.Equal(t, img, got)
	})

	t.Run("Нет изображения в ответе", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		f.image.On("GenerateImages", ctx, mock.Anything, "prompt", model.AspectRatioLandscape).Return(nil, nil).Once()

		_, err := f.client.GenerateImage(ctx, "prompt", model.AspectRatioLandscape, refImage)
		require.Error(t, err)
		assert.True(t, errors.Is(err, generation.ErrNoImageReturned))
		var ge *model.GenerationError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, model.StageImage, ge.Stage)
	})
}

func TestClient_GenerateVideo(t *testing.T) {
	ctx := context.Background()
	source := model.Media{Data: []byte("frame"), MIMEType: "image/png"}
	job := generation.VideoJob{Name: "operations/abc"}

	t.Run("Успех: метки прогресса идут по порядку", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{VideoPollInterval: time.Millisecond})
		f.video.On("SubmitVideo", mock.Anything, source, "prompt", model.AspectRatioPortrait).Return(job, nil).Once()
		f.video.On("PollVideo", mock.Anything, job).Return(generation.VideoJobStatus{}, nil).Once()
		f.video.On("PollVideo", mock.Anything, job).Return(generation.VideoJobStatus{Done: true, VideoURI: "https://v/1"}, nil).Once()
		f.video.On("FetchVideo", mock.Anything, "https://v/1").Return(model.Media{Data: []byte("mp4"), MIMEType: "video/mp4"}, nil).Once()

		var labels []string
		got, err := f.client.GenerateVideo(ctx, "prompt", source, model.AspectRatioPortrait, func(l string) { labels = append(labels, l) })
		require.NoError(t, err)
		assert.Equal(t, "video/mp4", got.MIMEType)
		assert.Equal(t, []string{
			model.VideoProgressStarting,
			model.VideoProgressProcessing,
			model.VideoProgressChecking,
			model.VideoProgressChecking,
			model.VideoProgressFetching,
		}, labels)
	})

	t.Run("Задача завершилась ошибкой", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		f.video.On("SubmitVideo", mock.Anything, source, "prompt", model.AspectRatioPortrait).Return(job, nil).Once()
		f.video.On("PollVideo", mock.Anything, job).Return(generation.VideoJobStatus{Done: true, Failure: "quota"}, nil).Once()

		_, err := f.client.GenerateVideo(ctx, "prompt", source, model.AspectRatioPortrait, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, generation.ErrVideoJobFailed))
		assert.Contains(t, err.Error(), "quota")
	})

	t.Run("Готово, но без ссылки", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		f.video.On("SubmitVideo", mock.Anything, source, "prompt", model.AspectRatioPortrait).Return(job, nil).Once()
		f.video.On("PollVideo", mock.Anything, job).Return(generation.VideoJobStatus{Done: true}, nil).Once()

		_, err := f.client.GenerateVideo(ctx, "prompt", source, model.AspectRatioPortrait, nil)
		assert.True(t, errors.Is(err, generation.ErrVideoNoURI))
	})

	t.Run("Попытки опроса исчерпаны", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{VideoMaxPollAttempts: 3})
		f.video.On("SubmitVideo", mock.Anything, source, "prompt", model.AspectRatioPortrait).Return(job, nil).Once()
		f.video.On("PollVideo", mock.Anything, job).Return(generation.VideoJobStatus{}, nil).Times(3)

		_, err := f.client.GenerateVideo(ctx, "prompt", source, model.AspectRatioPortrait, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, generation.ErrVideoPollTimeout))
		var ge *model.GenerationError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, model.StageVideo, ge.Stage)
	})

	t.Run("Отмена контекста прерывает опрос", func(t *testing.T) {
		f := newFixture(t, generation.ClientOptions{})
		cctx, cancel := context.WithCancel(ctx)
		f.video.On("SubmitVideo", mock.Anything, source, "prompt", model.AspectRatioPortrait).
			Run(func(mock.Arguments) { cancel() }).Return(job, nil).Once()

		_, err := f.client.GenerateVideo(cctx, "prompt", source, model.AspectRatioPortrait, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		f.video.AssertNotCalled(t, "PollVideo", mock.Anything, mock.Anything)
	})
}

func TestNewClient(t *testing.T) {
	_, err := generation.NewClient(mocks.NewMockTextModel(t), mocks.NewMockImageModel(t), mocks.NewMockVideoModel(t),
		generation.ClientOptions{CountPolicy: "loose"}, zap.NewNop())
	assert.Error(t, err)

	_, err = generation.NewClient(nil, mocks.NewMockImageModel(t), mocks.NewMockVideoModel(t), generation.ClientOptions{}, zap.NewNop())
	assert.Error(t, err)
}
