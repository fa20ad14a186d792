package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

const (
	fieldData = "data"
	fieldMIME = "mime"
)

// RedisStore хранит артефакты в хешах Redis с TTL. Подходит, когда несколько инстансов
// сервера отдают одни и те же артефакты.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore создает стор. ttl <= 0 означает хранение без срока.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.Named("RedisArtifactStore"),
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// Put пишет data и mime одним пайплайном и ставит TTL.
func (s *RedisStore) Put(ctx context.Context, key string, media model.Media) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	rk := s.redisKey(key)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, rk, fieldData, media.Data, fieldMIME, media.MIMEType)
	if s.ttl > 0 {
		pipe.Expire(ctx, rk, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to store artifact in redis", zap.String("key", rk), zap.Error(err))
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	s.logger.Debug("Artifact stored", zap.String("key", rk), zap.Int("size_bytes", len(media.Data)), zap.Duration("ttl", s.ttl))
	return nil
}

// Get читает артефакт. Истекший ключ возвращает model.ErrArtifactMissing.
func (s *RedisStore) Get(ctx context.Context, key string) (model.Media, error) {
	if !ValidKey(key) {
		return model.Media{}, fmt.Errorf("%w: invalid key %q", model.ErrArtifactMissing, key)
	}
	vals, err := s.client.HMGet(ctx, s.redisKey(key), fieldData, fieldMIME).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.Media{}, fmt.Errorf("failed to read artifact: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return model.Media{}, fmt.Errorf("%w: %s", model.ErrArtifactMissing, key)
	}
	data, _ := vals[0].(string)
	mimeType, _ := vals[1].(string)
	return model.Media{Data: []byte(data), MIMEType: mimeType}, nil
}

// Delete удаляет ключ.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// DeleteRun находит ключи прогона через SCAN и удаляет их.
func (s *RedisStore) DeleteRun(ctx context.Context, runID uuid.UUID) (int, error) {
	pattern := s.prefix + runPrefix(runID) + "*"
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan run artifacts: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete run artifacts: %w", err)
	}
	s.logger.Info("Run artifacts deleted", zap.Stringer("run_id", runID), zap.Int64("count", n))
	return int(n), nil
}

// Purge ничего не делает: срок жизни ключей контролирует TTL Redis.
func (s *RedisStore) Purge(context.Context, time.Duration) (int, error) {
	return 0, nil
}

// Ping проверяет соединение.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
