package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"storyboard-server/shared/utils"
)

// Политики сверки количества сцен с запрошенным.
const (
	SceneCountStrict   = "strict"
	SceneCountTruncate = "truncate"
)

// Config - конфигурация storyboard-server и cmd/render.
type Config struct {
	// Сервер
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	MaxUploadBytes  int64         `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	PublicBaseURL   string        `envconfig:"PUBLIC_BASE_URL" default:""`

	// Логирование
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	LogOutput   string `envconfig:"LOG_OUTPUT" default:""`

	// Генерация
	TextBackend      string        `envconfig:"TEXT_BACKEND" default:"gemini"` // gemini, openai, ollama
	GeminiBaseURL    string        `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	GeminiTextModel  string        `envconfig:"GEMINI_TEXT_MODEL" default:"gemini-2.5-flash"`
	GeminiImageModel string        `envconfig:"GEMINI_IMAGE_MODEL" default:"gemini-2.5-flash-image"`
	GeminiVideoModel string        `envconfig:"GEMINI_VIDEO_MODEL" default:"veo-2.0-generate-001"`
	OpenAIBaseURL    string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel      string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OllamaURL        string        `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel      string        `envconfig:"OLLAMA_MODEL" default:"llava"`
	RequestTimeout   time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"180s"`
	PromptsFile      string        `envconfig:"PROMPTS_FILE" default:""`
	SceneCountPolicy string        `envconfig:"SCENE_COUNT_POLICY" default:"strict"`
	MaxActiveTasks   int           `envconfig:"MAX_ACTIVE_TASKS" default:"64"`
	EstimateTokens   bool          `envconfig:"AI_ESTIMATE_TOKENS" default:"false"`
	RateLimitPerMin  int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`

	// Видео
	VideoPollInterval    time.Duration `envconfig:"VIDEO_POLL_INTERVAL" default:"10s"`
	VideoMaxPollAttempts int           `envconfig:"VIDEO_MAX_POLL_ATTEMPTS" default:"60"`
	VideoPollTimeout     time.Duration `envconfig:"VIDEO_POLL_TIMEOUT" default:"15m"`

	// Артефакты
	ArtifactBackend  string        `envconfig:"ARTIFACT_BACKEND" default:"file"` // file, redis
	ArtifactDir      string        `envconfig:"ARTIFACT_DIR" default:"./data/artifacts"`
	ArtifactTTL      time.Duration `envconfig:"ARTIFACT_TTL" default:"24h"`
	JanitorSchedule  string        `envconfig:"ARTIFACT_JANITOR_SCHEDULE" default:"@every 1h"`
	RedisAddr        string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix   string        `envconfig:"REDIS_KEY_PREFIX" default:"storyboard:artifact:"`
	RedisDialRetries int           `envconfig:"REDIS_DIAL_RETRIES" default:"5"`

	// RabbitMQ (опционально, пусто = публикация событий выключена)
	RabbitMQURL      string `envconfig:"RABBITMQ_URL" default:""`
	RabbitMQExchange string `envconfig:"RABBITMQ_SCENE_EXCHANGE" default:"storyboard.scenes"`

	// Экспорт
	ExportDelay time.Duration `envconfig:"EXPORT_DELAY" default:"300ms"`

	// Секреты без envconfig тегов
	GeminiAPIKey  string `ignored:"true"`
	OpenAIAPIKey  string `ignored:"true"`
	RedisPassword string `ignored:"true"`
}

// Load читает .env (если есть), переменные окружения и секреты.
func Load() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	var err error
	cfg.GeminiAPIKey, err = utils.ReadSecretOrEnv("gemini_api_key", "GEMINI_API_KEY")
	if err != nil {
		return nil, err
	}
	if cfg.TextBackend == "openai" {
		cfg.OpenAIAPIKey, err = utils.ReadSecretOrEnv("openai_api_key", "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
	}
	if cfg.ArtifactBackend == "redis" {
		// Пароль redis опционален
		cfg.RedisPassword, _ = utils.ReadSecretOrEnv("redis_password", "REDIS_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, которые envconfig проверить не может.
func (c *Config) Validate() error {
	switch c.TextBackend {
	case "gemini", "openai", "ollama":
	default:
		return fmt.Errorf("неизвестный TEXT_BACKEND: %q", c.TextBackend)
	}
	switch c.ArtifactBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("неизвестный ARTIFACT_BACKEND: %q", c.ArtifactBackend)
	}
	switch c.SceneCountPolicy {
	case SceneCountStrict, SceneCountTruncate:
	default:
		return fmt.Errorf("неизвестный SCENE_COUNT_POLICY: %q", c.SceneCountPolicy)
	}
	if c.VideoPollInterval <= 0 {
		return fmt.Errorf("VIDEO_POLL_INTERVAL должен быть положительным")
	}
	if c.VideoMaxPollAttempts <= 0 {
		return fmt.Errorf("VIDEO_MAX_POLL_ATTEMPTS должен быть положительным")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES должен быть положительным")
	}
	if c.RabbitMQURL != "" {
		if _, err := url.Parse(c.RabbitMQURL); err != nil {
			return fmt.Errorf("некорректный RABBITMQ_URL: %w", err)
		}
	}
	return nil
}

// LogSummary пишет конфигурацию в лог без секретов.
func (c *Config) LogSummary(log *zap.Logger) {
	log.Info("Configuration loaded",
		zap.String("port", c.Port),
		zap.Strings("cors_origins", c.AllowedOrigins),
		zap.String("text_backend", c.TextBackend),
		zap.String("gemini_base_url", c.GeminiBaseURL),
		zap.String("gemini_text_model", c.GeminiTextModel),
		zap.String("gemini_image_model", c.GeminiImageModel),
		zap.String("gemini_video_model", c.GeminiVideoModel),
		zap.String("gemini_api_key", utils.MaskSecret(c.GeminiAPIKey)),
		zap.String("openai_model", c.OpenAIModel),
		zap.String("openai_api_key", utils.MaskSecret(c.OpenAIAPIKey)),
		zap.String("ollama_url", c.OllamaURL),
		zap.String("scene_count_policy", c.SceneCountPolicy),
		zap.Int("max_active_tasks", c.MaxActiveTasks),
		zap.Bool("estimate_tokens", c.EstimateTokens),
		zap.Int("rate_limit_per_minute", c.RateLimitPerMin),
		zap.Duration("video_poll_interval", c.VideoPollInterval),
		zap.Int("video_max_poll_attempts", c.VideoMaxPollAttempts),
		zap.Duration("video_poll_timeout", c.VideoPollTimeout),
		zap.String("artifact_backend", c.ArtifactBackend),
		zap.String("artifact_dir", c.ArtifactDir),
		zap.Duration("artifact_ttl", c.ArtifactTTL),
		zap.String("redis_addr", c.RedisAddr),
		zap.Bool("rabbitmq_enabled", c.RabbitMQURL != ""),
		zap.String("prompts_file", c.PromptsFile),
		zap.Duration("export_delay", c.ExportDelay),
	)
}

// OriginsAllowAll - true, если в CORS разрешены все источники.
func (c *Config) OriginsAllowAll() bool {
	for _, o := range c.AllowedOrigins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
