package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storyboard-server/internal/store"
)

// eventSource - часть SceneStore, нужная форвардеру.
type eventSource interface {
	Subscribe(buffer int) (<-chan store.Event, func())
}

// Forwarder пересылает события стора в EventPublisher.
type Forwarder struct {
	source    eventSource
	publisher EventPublisher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewForwarder создает форвардер.
func NewForwarder(source eventSource, publisher EventPublisher, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		source:    source,
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    logger.Named("EventForwarder"),
	}
}

// Run читает события до отмены ctx. Ошибка публикации логируется, событие теряется.
func (f *Forwarder) Run(ctx context.Context) {
	events, unsubscribe := f.source.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			pubCtx, cancel := context.WithTimeout(ctx, f.timeout)
			if err := f.publisher.PublishSceneEvent(pubCtx, NewSceneEvent(ev)); err != nil {
				f.logger.Warn("Scene event dropped", zap.String("kind", string(ev.Kind)), zap.Error(err))
			}
			cancel()
		}
	}
}
