package generation

import (
	"context"
	"time"
)

// SetSleep подменяет ожидание между опросами видео.
func (c *Client) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

var (
	ParseScenes            = parseScenes
	SceneArrayGeminiSchema = sceneArrayGeminiSchema
)
