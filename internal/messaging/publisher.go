package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventPublisher отправляет события сцен во внешнюю шину.
type EventPublisher interface {
	PublishSceneEvent(ctx context.Context, event SceneEvent) error
	Close() error
}

// amqpChannel - часть *amqp091.Channel, которой пользуется издатель.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitMQScenePublisher публикует события в fanout exchange.
type RabbitMQScenePublisher struct {
	ch       amqpChannel
	exchange string
	logger   *zap.Logger
}

var _ EventPublisher = (*RabbitMQScenePublisher)(nil)

// NewRabbitMQScenePublisher открывает канал на conn и объявляет durable fanout exchange.
func NewRabbitMQScenePublisher(conn *amqp091.Connection, exchange string, logger *zap.Logger) (*RabbitMQScenePublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	p, err := newScenePublisher(ch, exchange, logger)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return p, nil
}

func newScenePublisher(ch amqpChannel, exchange string, logger *zap.Logger) (*RabbitMQScenePublisher, error) {
	log := logger.Named("ScenePublisher")
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		log.Error("Failed to declare exchange", zap.String("exchange", exchange), zap.Error(err))
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}
	log.Info("Scene event exchange declared", zap.String("exchange", exchange))
	return &RabbitMQScenePublisher{ch: ch, exchange: exchange, logger: log}, nil
}

// PublishSceneEvent сериализует событие в JSON и публикует его.
func (p *RabbitMQScenePublisher) PublishSceneEvent(ctx context.Context, event SceneEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal scene event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   event.EventID,
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		p.logger.Error("Failed to publish scene event", zap.String("kind", string(event.Kind)), zap.Error(err))
		return fmt.Errorf("failed to publish scene event: %w", err)
	}
	p.logger.Debug("Scene event published", zap.String("kind", string(event.Kind)), zap.Stringer("run_id", event.RunID))
	return nil
}

// Close закрывает канал. Соединение принадлежит вызывающему.
func (p *RabbitMQScenePublisher) Close() error {
	return p.ch.Close()
}

// ConnectRabbitMQ подключается к брокеру с повторами.
func ConnectRabbitMQ(ctx context.Context, url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp091.Connection, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ", zap.Int("attempt", attempt))
			go func() {
				notifyClose := conn.NotifyClose(make(chan *amqp091.Error, 1))
				if err := <-notifyClose; err != nil {
					logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(err))
				}
			}()
			return conn, nil
		}
		lastErr = err
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, lastErr)
}
