package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretsDir - стандартный каталог Docker Secrets.
var SecretsDir = "/run/secrets"

// ErrSecretNotFound - секрет не найден ни в файле, ни в окружении.
var ErrSecretNotFound = errors.New("secret not found")

// ReadSecret читает секрет из файла <SecretsDir>/<name>.
func ReadSecret(name string) (string, error) {
	path := filepath.Join(SecretsDir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// ReadSecretOrEnv сначала пробует файл секрета, затем переменную окружения envName.
func ReadSecretOrEnv(name, envName string) (string, error) {
	if secret, err := ReadSecret(name); err == nil {
		return secret, nil
	}
	if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s (file %s or env %s)", ErrSecretNotFound, name, filepath.Join(SecretsDir, name), envName)
}

// MaskSecret оставляет от секрета только последние 4 символа для логов.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
