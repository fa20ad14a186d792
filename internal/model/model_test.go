package model_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-server/internal/model"
)

func validParams() model.RunParams {
	return model.RunParams{
		ReferenceImage: model.Media{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"},
		Story:          "A fox explores the city",
		SceneCount:     model.DefaultScenes,
		AspectRatio:    model.AspectRatioPortrait,
	}
}

func TestRunParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.RunParams)
		field  string
	}{
		{"valid", func(*model.RunParams) {}, ""},
		{"no image", func(p *model.RunParams) { p.ReferenceImage = model.Media{} }, "image,story"},
		{"blank story", func(p *model.RunParams) { p.Story = "   " }, "image,story"},
		{"not an image", func(p *model.RunParams) { p.ReferenceImage.MIMEType = "application/pdf" }, "image"},
		{"too few scenes", func(p *model.RunParams) { p.SceneCount = model.MinScenes - 1 }, "scenes"},
		{"too many scenes", func(p *model.RunParams) { p.SceneCount = model.MaxScenes + 1 }, "scenes"},
		{"bounds inclusive", func(p *model.RunParams) { p.SceneCount = model.MaxScenes }, ""},
		{"bad ratio", func(p *model.RunParams) { p.AspectRatio = "4:3" }, "aspectRatio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, model.IsValidation(err))
		})
	}
}

func TestScenePatch_ApplyTo(t *testing.T) {
	sc := model.NewScene(1, model.SceneDescription{ShotType: "Wide", Description: "d", Location: "l", Mood: "calm", ImagePrompt: "p"})
	assert.True(t, sc.IsGeneratingImage)
	assert.False(t, sc.HasImage())
	assert.True(t, model.ScenePatch{}.Empty())

	ready := model.ScenePatch{
		ImageStatus: model.Ptr(model.ImageStatusReady),
		ImageKey:    model.Ptr("k.png"),
		ImageURL:    model.Ptr("/api/artifacts/k.png"),
	}.ApplyTo(sc)
	assert.False(t, ready.IsGeneratingImage)
	assert.True(t, ready.HasImage())
	assert.Equal(t, sc.SceneDescription, ready.SceneDescription)

	video := model.ScenePatch{VideoStatus: model.Ptr(model.VideoStatusGenerating)}.ApplyTo(ready)
	assert.True(t, video.IsGeneratingVideo)
	assert.True(t, video.HasImage())
}

func TestMedia(t *testing.T) {
	m := model.Media{Data: []byte("hi"), MIMEType: "image/jpeg"}
	assert.Equal(t, "jpg", m.Extension("png"))
	assert.True(t, strings.HasPrefix(m.DataURL(), "data:image/jpeg;base64,"))
	assert.Equal(t, "png", model.Media{MIMEType: ""}.Extension("png"))
	assert.True(t, model.Media{}.Empty())
}

func TestGenerationError(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := model.NewGenerationError(model.StageImage, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "image generation failed")

	assert.Same(t, err, model.NewGenerationError(model.StageVideo, err), "already wrapped error is kept")
	assert.NoError(t, model.NewGenerationError(model.StageImage, nil))
}
