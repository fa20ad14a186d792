package generation_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-server/internal/generation"
)

func TestPrompts(t *testing.T) {
	t.Run("Встроенные шаблоны", func(t *testing.T) {
		p, err := generation.DefaultPrompts()
		require.NoError(t, err)
		assert.Contains(t, p.CharacterDescription, "comma-separated list")
		assert.NotEmpty(t, p.JSONSystem)

		out, err := p.RenderBreakdown(generation.BreakdownData{Story: "The heist", Subject: "tall man", Count: 7})
		require.NoError(t, err)
		assert.Contains(t, out, `Story: "The heist"`)
		assert.Contains(t, out, `Character Description: "tall man"`)
		assert.Contains(t, out, "exactly 7 scene objects")
		assert.Contains(t, out, `"A photo of tall man, now sitting at a cafe, looking thoughtful."`)
	})

	t.Run("Файл переопределяет только заданные ключи", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompts.yaml")
		require.NoError(t, os.WriteFile(path, []byte("scene_breakdown: \"{{.Count}} scenes of {{.Story}}\"\n"), 0o600))

		p, err := generation.LoadPrompts(path)
		require.NoError(t, err)
		assert.Contains(t, p.CharacterDescription, "Describe the person")

		out, err := p.RenderBreakdown(generation.BreakdownData{Story: "x", Count: 5})
		require.NoError(t, err)
		assert.Equal(t, "5 scenes of x", out)
	})

	t.Run("Битый шаблон", func(t *testing.T) {
		_, err := generation.ParsePrompts([]byte("scene_breakdown: \"{{.Story\"\n"))
		assert.Error(t, err)
	})

	t.Run("Нет файла", func(t *testing.T) {
		_, err := generation.LoadPrompts(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
