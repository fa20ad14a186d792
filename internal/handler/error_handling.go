package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyboard-server/internal/export"
	"storyboard-server/internal/model"
	"storyboard-server/pkg/taskmanager"
)

func handleServiceError(c *gin.Context, logger *zap.Logger, err error) {
	var statusCode int
	var message string

	var validationErr *model.ValidationError
	switch {
	case errors.As(err, &validationErr):
		statusCode = http.StatusBadRequest
		message = validationErr.Message
	case errors.Is(err, model.ErrNoActiveRun):
		statusCode = http.StatusNotFound
		message = "No active run"
	case errors.Is(err, model.ErrSceneNotFound):
		statusCode = http.StatusNotFound
		message = "Scene not found"
	case errors.Is(err, model.ErrArtifactMissing):
		statusCode = http.StatusNotFound
		message = "Artifact not found"
	case errors.Is(err, export.ErrNothingToExport):
		statusCode = http.StatusNotFound
		message = "No generated images to export"
	case errors.Is(err, model.ErrNoImage):
		statusCode = http.StatusConflict
		message = "Scene has no generated image yet"
	case errors.Is(err, model.ErrVideoInProgress):
		statusCode = http.StatusConflict
		message = "Video generation is already in progress for this scene"
	case errors.Is(err, model.ErrImageNotFailed):
		statusCode = http.StatusConflict
		message = "Image generation has not failed for this scene"
	case errors.Is(err, model.ErrStaleRun), errors.Is(err, taskmanager.ErrDuplicateTask):
		statusCode = http.StatusConflict
		message = "Operation conflicts with work in progress, try again"
	case errors.Is(err, taskmanager.ErrTooManyTasks), errors.Is(err, taskmanager.ErrClosed):
		statusCode = http.StatusServiceUnavailable
		message = "Server is busy, try again later"
	default:
		logger.Error("Unhandled internal error", zap.String("path", c.FullPath()), zap.Error(err))
		statusCode = http.StatusInternalServerError
		message = "An unexpected internal error occurred"
	}

	c.AbortWithStatusJSON(statusCode, ErrorResponse{Error: message})
}
