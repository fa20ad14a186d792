package model

// ImageStatus - состояние трека генерации изображения сцены.
type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "pending"
	ImageStatusGenerating ImageStatus = "generating"
	ImageStatusReady      ImageStatus = "ready"
	ImageStatusFailed     ImageStatus = "failed"
)

// Terminal возвращает true для ready и failed.
func (s ImageStatus) Terminal() bool {
	return s == ImageStatusReady || s == ImageStatusFailed
}

// VideoStatus - состояние трека генерации видео. Не зависит от трека изображения.
type VideoStatus string

const (
	VideoStatusNone       VideoStatus = "none"
	VideoStatusGenerating VideoStatus = "generating"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusFailed     VideoStatus = "failed"
)

// Тексты ошибок сцены, которые видит пользователь.
const (
	SceneErrorImageFailed = "Image generation failed"
	SceneErrorVideoFailed = "Video generation failed"
)

// Метки прогресса генерации видео.
const (
	VideoProgressQueued     = "Initializing..."
	VideoProgressStarting   = "Starting video generation..."
	VideoProgressProcessing = "Processing... This can take several minutes."
	VideoProgressChecking   = "Checking status..."
	VideoProgressFetching   = "Fetching video data..."
	VideoProgressDone       = "Done"
)

// SceneDescription - описательная часть сцены, которую возвращает шаг describe.
type SceneDescription struct {
	ShotType    string `json:"shotType" jsonschema_description:"A cinematic shot type, e.g. Medium Close-Up, Extreme Wide Shot, Point of View."`
	Description string `json:"description" jsonschema_description:"A one-paragraph description of the action and emotion in the scene."`
	Location    string `json:"location" jsonschema_description:"A brief description of the setting."`
	Mood        string `json:"mood" jsonschema_description:"Two or three keywords describing the emotional tone."`
	ImagePrompt string `json:"imagePrompt" jsonschema_description:"A detailed prompt for an image editing model that starts with the character description."`
}

// Scene - одна сцена прогона. ID и описательные поля не меняются после создания,
// мутируют только артефакты и статусы (см. ScenePatch).
type Scene struct {
	ID int `json:"id"`
	SceneDescription

	ImageURL    string      `json:"imageUrl,omitempty"`
	ImageKey    string      `json:"-"`
	ImageStatus ImageStatus `json:"imageStatus"`

	VideoURL      string      `json:"videoUrl,omitempty"`
	VideoKey      string      `json:"-"`
	VideoStatus   VideoStatus `json:"videoStatus"`
	VideoProgress string      `json:"videoGenerationProgress,omitempty"`

	IsGeneratingImage bool `json:"isGeneratingImage"`
	IsGeneratingVideo bool `json:"isGeneratingVideo"`

	Error string `json:"error,omitempty"`
}

// HasImage сообщает, готово ли изображение сцены.
func (s Scene) HasImage() bool {
	return s.ImageStatus == ImageStatusReady && s.ImageKey != ""
}

// NewScene создает сцену из описания. id - позиция в ответе describe, начиная с 1.
func NewScene(id int, desc SceneDescription) Scene {
	return Scene{
		ID:                id,
		SceneDescription:  desc,
		ImageStatus:       ImageStatusGenerating,
		VideoStatus:       VideoStatusNone,
		IsGeneratingImage: true,
	}
}

// ScenePatch - частичное обновление сцены. Содержит только изменяемые поля,
// поэтому описательные атрибуты через него поменять нельзя.
// nil означает "не трогать".
type ScenePatch struct {
	ImageURL      *string
	ImageKey      *string
	ImageStatus   *ImageStatus
	VideoURL      *string
	VideoKey      *string
	VideoStatus   *VideoStatus
	VideoProgress *string
	Error         *string
}

// Empty возвращает true, если патч ничего не меняет.
func (p ScenePatch) Empty() bool {
	return p == ScenePatch{}
}

// ApplyTo возвращает копию сцены с примененным патчем. Флаги IsGenerating* выводятся из статусов.
func (p ScenePatch) ApplyTo(s Scene) Scene {
	if p.ImageURL != nil {
		s.ImageURL = *p.ImageURL
	}
	if p.ImageKey != nil {
		s.ImageKey = *p.ImageKey
	}
	if p.ImageStatus != nil {
		s.ImageStatus = *p.ImageStatus
	}
	if p.VideoURL != nil {
		s.VideoURL = *p.VideoURL
	}
	if p.VideoKey != nil {
		s.VideoKey = *p.VideoKey
	}
	if p.VideoStatus != nil {
		s.VideoStatus = *p.VideoStatus
	}
	if p.VideoProgress != nil {
		s.VideoProgress = *p.VideoProgress
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
	s.IsGeneratingImage = s.ImageStatus == ImageStatusGenerating
	s.IsGeneratingVideo = s.VideoStatus == VideoStatusGenerating
	return s
}

// Ptr - помощник для заполнения полей ScenePatch.
func Ptr[T any](v T) *T {
	return &v
}
