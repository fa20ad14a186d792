package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

// FileStore хранит артефакты файлами в каталоге. MIME-тип восстанавливается по расширению.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore создает каталог, если его нет.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger.Named("FileArtifactStore")}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("%w: invalid key %q", model.ErrArtifactMissing, key)
	}
	return filepath.Join(s.dir, key), nil
}

// Put пишет файл через временный файл и rename, чтобы читатель не увидел половину.
func (s *FileStore) Put(_ context.Context, key string, media model.Media) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(media.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	s.logger.Debug("Artifact saved", zap.String("path", path), zap.Int("size_bytes", len(media.Data)))
	return nil
}

// Get читает файл артефакта.
func (s *FileStore) Get(_ context.Context, key string) (model.Media, error) {
	path, err := s.path(key)
	if err != nil {
		return model.Media{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Media{}, fmt.Errorf("%w: %s", model.ErrArtifactMissing, key)
	}
	if err != nil {
		return model.Media{}, fmt.Errorf("failed to read artifact: %w", err)
	}
	return model.Media{Data: data, MIMEType: mimeForExt(filepath.Ext(key))}, nil
}

func mimeForExt(ext string) string {
	switch ext {
	case ".mp4":
		// во встроенной таблице Go нет видео-типов
		return "video/mp4"
	case ".png":
		return "image/png"
	}
	mimeType := mime.TypeByExtension(ext)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return mimeType
}

// Delete удаляет файл. Отсутствующий файл не ошибка.
func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// DeleteRun удаляет все файлы с префиксом прогона.
func (s *FileStore) DeleteRun(ctx context.Context, runID uuid.UUID) (int, error) {
	prefix := runPrefix(runID)
	return s.removeWhere(ctx, func(name string, _ fs.FileInfo) bool {
		return strings.HasPrefix(name, prefix)
	})
}

// Purge удаляет файлы, измененные раньше чем olderThan назад.
func (s *FileStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	return s.removeWhere(ctx, func(_ string, info fs.FileInfo) bool {
		return info.ModTime().Before(cutoff)
	})
}

func (s *FileStore) removeWhere(ctx context.Context, match func(name string, info fs.FileInfo) bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list artifact dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() || !ValidKey(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !match(e.Name(), info) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to remove artifact", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
