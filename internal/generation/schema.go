package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"google.golang.org/genai"

	"storyboard-server/internal/model"
	"storyboard-server/shared/utils"
)

// sceneEnvelope - обертка списка сцен. Строгий structured output (openai)
// требует объект на верхнем уровне, поэтому массив кладется в поле scenes.
type sceneEnvelope struct {
	Scenes []model.SceneDescription `json:"scenes" jsonschema_description:"The cinematic scenes of the story in order."`
}

// generateSchema строит JSON Schema без ссылок и без лишних свойств.
func generateSchema[T any]() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var (
	sceneEnvelopeSchema = generateSchema[sceneEnvelope]()
	sceneItemSchema     = generateSchema[model.SceneDescription]()
)

// toGeminiSchema переводит JSON Schema в genai.Schema (OpenAPI-подмножество, типы в верхнем регистре).
func toGeminiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Required:    s.Required,
		Items:       toGeminiSchema(s.Items),
	}
	if s.Properties != nil && s.Properties.Len() > 0 {
		out.Properties = make(map[string]*genai.Schema, s.Properties.Len())
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			out.Properties[pair.Key] = toGeminiSchema(pair.Value)
			out.PropertyOrdering = append(out.PropertyOrdering, pair.Key)
		}
	}
	return out
}

// sceneArrayGeminiSchema - схема ответа раскадровки для Gemini: массив объектов сцены.
func sceneArrayGeminiSchema() *genai.Schema {
	return &genai.Schema{
		Type:  genai.TypeArray,
		Items: toGeminiSchema(sceneItemSchema),
	}
}

// parseScenes разбирает ответ модели: голый массив или объект {"scenes": [...]}.
// Markdown-обертка и поясняющий текст вокруг JSON допускаются.
func parseScenes(raw string) ([]model.SceneDescription, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}
	text := utils.ExtractJSON(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: no JSON found in response", ErrMalformedScenes)
	}

	if strings.HasPrefix(text, "[") {
		var scenes []model.SceneDescription
		if err := json.Unmarshal([]byte(text), &scenes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedScenes, err)
		}
		return scenes, nil
	}

	var env sceneEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedScenes, err)
	}
	if env.Scenes == nil {
		return nil, fmt.Errorf("%w: field scenes is missing", ErrMalformedScenes)
	}
	return env.Scenes, nil
}
