package generation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts - набор шаблонов промтов.
type Prompts struct {
	CharacterDescription string `yaml:"character_description"`
	SceneBreakdown       string `yaml:"scene_breakdown"`
	JSONSystem           string `yaml:"json_system"`

	breakdown *template.Template
}

// BreakdownData - данные для шаблона раскадровки.
type BreakdownData struct {
	Story   string
	Subject string
	Count   int
}

// DefaultPrompts возвращает встроенные шаблоны.
func DefaultPrompts() (*Prompts, error) {
	return ParsePrompts(defaultPromptsYAML)
}

// LoadPrompts читает шаблоны из файла. Пустой path означает встроенные шаблоны.
// Незаданные в файле ключи берутся из встроенных.
func LoadPrompts(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла промтов %s: %w", path, err)
	}

	base, err := DefaultPrompts()
	if err != nil {
		return nil, err
	}
	override, err := ParsePrompts(raw)
	if err != nil {
		return nil, fmt.Errorf("файл промтов %s: %w", path, err)
	}
	if override.CharacterDescription != "" {
		base.CharacterDescription = override.CharacterDescription
	}
	if override.SceneBreakdown != "" {
		base.SceneBreakdown = override.SceneBreakdown
		base.breakdown = override.breakdown
	}
	if override.JSONSystem != "" {
		base.JSONSystem = override.JSONSystem
	}
	return base, nil
}

// ParsePrompts разбирает YAML и компилирует шаблоны.
func ParsePrompts(raw []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("ошибка разбора YAML промтов: %w", err)
	}
	p.CharacterDescription = strings.TrimSpace(p.CharacterDescription)
	p.JSONSystem = strings.TrimSpace(p.JSONSystem)
	if p.SceneBreakdown != "" {
		tmpl, err := template.New("scene_breakdown").Option("missingkey=error").Parse(p.SceneBreakdown)
		if err != nil {
			return nil, fmt.Errorf("ошибка компиляции шаблона scene_breakdown: %w", err)
		}
		p.breakdown = tmpl
	}
	return &p, nil
}

// RenderBreakdown подставляет историю, описание персонажа и количество сцен.
func (p *Prompts) RenderBreakdown(data BreakdownData) (string, error) {
	if p.breakdown == nil {
		return "", fmt.Errorf("шаблон scene_breakdown не задан")
	}
	var sb strings.Builder
	if err := p.breakdown.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("ошибка рендеринга scene_breakdown: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
