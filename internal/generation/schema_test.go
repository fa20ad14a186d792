package generation_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"storyboard-server/internal/generation"
)

func TestParseScenes(t *testing.T) {
	const item = `{"shotType":"Wide","description":"d","location":"l","mood":"m","imagePrompt":"p"}`

	t.Run("Массив", func(t *testing.T) {
		got, err := generation.ParseScenes("[" + item + "," + item + "]")
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, "Wide", got[0].ShotType)
	})

	t.Run("Конверт в markdown", func(t *testing.T) {
		got, err := generation.ParseScenes("```json\n{\"scenes\": [" + item + "]}\n```")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "p", got[0].ImagePrompt)
	})

	t.Run("Мусор", func(t *testing.T) {
		_, err := generation.ParseScenes("sure, here are your scenes")
		assert.True(t, errors.Is(err, generation.ErrMalformedScenes))
	})

	t.Run("Объект без scenes", func(t *testing.T) {
		_, err := generation.ParseScenes(`{"items": []}`)
		assert.True(t, errors.Is(err, generation.ErrMalformedScenes))
	})

	t.Run("Пусто", func(t *testing.T) {
		_, err := generation.ParseScenes("  ")
		assert.True(t, errors.Is(err, generation.ErrEmptyResponse))
	})
}

func TestSceneArrayGeminiSchema(t *testing.T) {
	s := generation.SceneArrayGeminiSchema()
	assert.Equal(t, genai.TypeArray, s.Type)
	require.NotNil(t, s.Items)
	assert.Equal(t, genai.TypeObject, s.Items.Type)
	assert.ElementsMatch(t, []string{"shotType", "description", "location", "mood", "imagePrompt"}, s.Items.Required)
	assert.Equal(t, []string{"shotType", "description", "location", "mood", "imagePrompt"}, s.Items.PropertyOrdering)
	assert.Equal(t, genai.TypeString, s.Items.Properties["mood"].Type)
}
