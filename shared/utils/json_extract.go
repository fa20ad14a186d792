package utils

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	jsonBlockRegex = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyBlockRegex  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// ExtractJSON достает JSON из ответа модели.
// Порядок поиска: блок ```json, любой блок ```, фрагмент от первой { или [ до последней парной скобки.
// Возвращает пустую строку, если ничего похожего на валидный JSON не найдено.
func ExtractJSON(rawText string) string {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return ""
	}
	if isValidJSON(rawText) {
		return rawText
	}

	for _, re := range []*regexp.Regexp{jsonBlockRegex, anyBlockRegex} {
		if m := re.FindStringSubmatch(rawText); len(m) > 1 && isValidJSON(m[1]) {
			return strings.TrimSpace(m[1])
		}
	}

	firstBrace := strings.Index(rawText, "{")
	firstBracket := strings.Index(rawText, "[")
	open, closing := "{", "}"
	start := firstBrace
	if firstBracket != -1 && (firstBrace == -1 || firstBracket < firstBrace) {
		open, closing = "[", "]"
		start = firstBracket
	}
	if start == -1 {
		return ""
	}
	end := strings.LastIndex(rawText, closing)
	if end <= start {
		return ""
	}
	candidate := rawText[start : end+1]
	if strings.HasPrefix(candidate, open) && isValidJSON(candidate) {
		return candidate
	}
	return ""
}

func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

// Truncate обрезает строку до maxLen байт, добавляя многоточие, если строка была обрезана.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
