package model

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
)

// Media - бинарный payload с MIME-типом (референс, кадр, видео).
type Media struct {
	Data     []byte
	MIMEType string
}

// Empty возвращает true, если данных нет.
func (m Media) Empty() bool {
	return len(m.Data) == 0
}

// DataURL кодирует payload в data: URL.
func (m Media) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", m.MIMEType, base64.StdEncoding.EncodeToString(m.Data))
}

// Extension возвращает расширение файла для MIME-типа без точки.
func (m Media) Extension(fallback string) string {
	switch strings.ToLower(m.MIMEType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	}
	if exts, err := mime.ExtensionsByType(m.MIMEType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return fallback
}
