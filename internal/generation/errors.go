package generation

import "errors"

// Ошибки бэкендов и проверки ответов
var (
	ErrEmptyResponse    = errors.New("empty response from generation backend")
	ErrMalformedScenes  = errors.New("malformed scene list")
	ErrSceneCount       = errors.New("scene count does not match the requested count")
	ErrIncompleteScene  = errors.New("scene is missing a required field")
	ErrNoImageReturned  = errors.New("no image returned by the image model")
	ErrVideoJobFailed   = errors.New("video job failed")
	ErrVideoNoURI       = errors.New("video generation completed but no download link was found")
	ErrVideoPollTimeout = errors.New("video job did not finish in time")
	ErrUnsupported      = errors.New("operation is not supported by this backend")
)
