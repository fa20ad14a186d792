package utils_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-server/shared/utils"
)

func withSecretsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := utils.SecretsDir
	utils.SecretsDir = dir
	t.Cleanup(func() { utils.SecretsDir = prev })
	return dir
}

func TestReadSecretOrEnv(t *testing.T) {
	t.Run("Файл имеет приоритет", func(t *testing.T) {
		dir := withSecretsDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "gemini_api_key"), []byte("  from-file\n"), 0o600))
		t.Setenv("GEMINI_API_KEY", "from-env")

		v, err := utils.ReadSecretOrEnv("gemini_api_key", "GEMINI_API_KEY")
		require.NoError(t, err)
		assert.Equal(t, "from-file", v)
	})

	t.Run("Fallback на env", func(t *testing.T) {
		withSecretsDir(t)
		t.Setenv("GEMINI_API_KEY", "from-env")

		v, err := utils.ReadSecretOrEnv("gemini_api_key", "GEMINI_API_KEY")
		require.NoError(t, err)
		assert.Equal(t, "from-env", v)
	})

	t.Run("Пустой файл и нет env", func(t *testing.T) {
		dir := withSecretsDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "k"), []byte("   "), 0o600))
		t.Setenv("K", "")

		_, err := utils.ReadSecretOrEnv("k", "K")
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrSecretNotFound))
	})
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", utils.MaskSecret(""))
	assert.Equal(t, "****", utils.MaskSecret("abc"))
	assert.Equal(t, "****6789", utils.MaskSecret("123456789"))
}
