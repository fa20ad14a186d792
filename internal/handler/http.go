package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyboard-server/internal/artifact"
	"storyboard-server/internal/export"
	"storyboard-server/internal/model"
	"storyboard-server/internal/store"
)

// StoryboardService - операции оркестратора, доступные через HTTP.
type StoryboardService interface {
	StartRun(ctx context.Context, params model.RunParams) (model.Run, error)
	Snapshot() store.Snapshot
	GenerateVideo(ctx context.Context, sceneID int) error
	RetryImage(ctx context.Context, sceneID int) error
	Artifact(ctx context.Context, key string) (model.Media, error)
	SceneImage(ctx context.Context, sceneID int) (model.Scene, model.Media, error)
	Export(ctx context.Context, sink export.Sink, opts export.Options) (export.Result, error)
}

// Options - параметры HTTP-слоя.
type Options struct {
	MaxUploadBytes int64
	PublicBaseURL  string
}

// StoryboardHandler обрабатывает HTTP запросы раскадровки.
type StoryboardHandler struct {
	service StoryboardService
	opts    Options
	logger  *zap.Logger
}

// NewStoryboardHandler создает StoryboardHandler.
func NewStoryboardHandler(s StoryboardService, opts Options, logger *zap.Logger) *StoryboardHandler {
	return &StoryboardHandler{
		service: s,
		opts:    opts,
		logger:  logger.Named("StoryboardHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API. limiter (может быть nil) ставится только на
// маршруты, запускающие генерацию.
func (h *StoryboardHandler) RegisterRoutes(router gin.IRouter, limiter gin.HandlerFunc) {
	limited := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if limiter == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{limiter, handler}
	}

	api := router.Group("/api")
	{
		api.POST("/runs", limited(h.startRun)...)
		api.GET("/runs/current", h.currentRun)

		api.POST("/scenes/:id/video", limited(h.generateVideo)...)
		api.POST("/scenes/:id/image/retry", limited(h.retryImage)...)
		api.GET("/scenes/:id/image", h.downloadSceneImage)

		api.GET("/artifacts/:key", h.getArtifact)
		api.GET("/export", h.exportArchive)
	}
}

func (h *StoryboardHandler) startRun(c *gin.Context) {
	if h.opts.MaxUploadBytes > 0 {
		if c.Request.ContentLength > h.opts.MaxUploadBytes {
			h.abortTooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	}

	ref, err := h.readReferenceImage(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.abortTooLarge(c)
			return
		}
		h.logger.Warn("Failed to read reference image", zap.Error(err))
	}

	params := model.RunParams{
		ReferenceImage: ref,
		Story:          c.PostForm("story"),
		SceneCount:     model.DefaultScenes,
		AspectRatio:    model.AspectRatioPortrait,
	}
	if raw := strings.TrimSpace(c.PostForm("scenes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleServiceError(c, h.logger, &model.ValidationError{Field: "scenes", Message: "scene count must be a number"})
			return
		}
		params.SceneCount = n
	}
	if raw := strings.TrimSpace(c.PostForm("aspectRatio")); raw != "" {
		params.AspectRatio = model.AspectRatio(raw)
	}

	run, err := h.service.StartRun(c.Request.Context(), params)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, RunResponse{Run: run})
}

func (h *StoryboardHandler) abortTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
		Error: fmt.Sprintf("Reference image exceeds %d bytes", h.opts.MaxUploadBytes),
	})
}

// readReferenceImage возвращает пустой Media, если поле image не передано: это отловит валидация.
func (h *StoryboardHandler) readReferenceImage(c *gin.Context) (model.Media, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return model.Media{}, nil
		}
		return model.Media{}, err
	}
	f, err := fh.Open()
	if err != nil {
		return model.Media{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.Media{}, err
	}
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return model.Media{Data: data, MIMEType: mimeType}, nil
}

func (h *StoryboardHandler) currentRun(c *gin.Context) {
	c.JSON(http.StatusOK, toSnapshotResponse(h.service.Snapshot(), h.opts.PublicBaseURL))
}

func (h *StoryboardHandler) generateVideo(c *gin.Context) {
	sceneID, ok := h.sceneID(c)
	if !ok {
		return
	}
	if err := h.service.GenerateVideo(c.Request.Context(), sceneID); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{SceneID: sceneID, Status: string(model.VideoStatusGenerating)})
}

func (h *StoryboardHandler) retryImage(c *gin.Context) {
	sceneID, ok := h.sceneID(c)
	if !ok {
		return
	}
	if err := h.service.RetryImage(c.Request.Context(), sceneID); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{SceneID: sceneID, Status: string(model.ImageStatusGenerating)})
}

func (h *StoryboardHandler) downloadSceneImage(c *gin.Context) {
	sceneID, ok := h.sceneID(c)
	if !ok {
		return
	}
	_, media, err := h.service.SceneImage(c.Request.Context(), sceneID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.SceneImageName(sceneID, media)))
	c.Data(http.StatusOK, media.MIMEType, media.Data)
}

func (h *StoryboardHandler) getArtifact(c *gin.Context) {
	key := c.Param("key")
	if !artifact.ValidKey(key) {
		handleServiceError(c, h.logger, model.ErrArtifactMissing)
		return
	}
	media, err := h.service.Artifact(c.Request.Context(), key)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	// Ключ уникален для прогона и сцены, содержимое по ключу не меняется
	c.Header("Cache-Control", "private, max-age=86400, immutable")
	c.Data(http.StatusOK, media.MIMEType, media.Data)
}

func (h *StoryboardHandler) exportArchive(c *gin.Context) {
	snap := h.service.Snapshot()
	if snap.Run.ID == uuid.Nil {
		handleServiceError(c, h.logger, model.ErrNoActiveRun)
		return
	}
	if !snap.ExportAvailable() {
		handleServiceError(c, h.logger, export.ErrNothingToExport)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="storyboard.zip"`)
	c.Status(http.StatusOK)

	sink := export.NewZipSink(c.Writer)
	opts := export.Options{IncludeVideos: c.Query("videos") == "true"}
	res, err := h.service.Export(c.Request.Context(), sink, opts)
	if err != nil {
		// Заголовки уже отправлены, остается только обрезать архив
		h.logger.Error("Export archive interrupted", zap.Int("files", len(res.Files)), zap.Error(err))
		return
	}
	if err := sink.Close(); err != nil {
		h.logger.Error("Failed to finalize export archive", zap.Error(err))
	}
}

func (h *StoryboardHandler) sceneID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid scene id"})
		return 0, false
	}
	return id, true
}
