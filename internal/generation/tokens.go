package generation

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokensTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storyboard_generation_tokens_total",
		Help: "Total number of text model tokens by backend and direction (prompt, completion).",
	},
	[]string{"backend", "type"},
)

// fallbackEncoding - словарь для моделей, которых tiktoken не знает (ollama, OpenRouter).
const fallbackEncoding = "cl100k_base"

// estimateTokens оценивает число токенов через tiktoken. Словарь скачивается при первом вызове,
// при недоступности возвращается 0.
func estimateTokens(modelName string, texts ...string) int {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return 0
		}
	}
	n := 0
	for _, t := range texts {
		n += len(enc.Encode(t, nil, nil))
	}
	return n
}

// recordTokens добавляет токены к метрике.
func recordTokens(backend string, prompt, completion int) {
	if prompt > 0 {
		tokensTotal.WithLabelValues(backend, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		tokensTotal.WithLabelValues(backend, "completion").Add(float64(completion))
	}
}
