package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"storyboard-server/internal/artifact"
	"storyboard-server/internal/model"
)

// ErrNothingToExport - ни у одной сцены нет готового изображения.
var ErrNothingToExport = errors.New("no scene has a generated image")

// SceneImageName - имя файла кадра сцены: scene_<id>_image.<ext>.
func SceneImageName(id int, media model.Media) string {
	return fmt.Sprintf("scene_%d_image.%s", id, media.Extension("png"))
}

// SceneVideoName - имя файла видео сцены.
func SceneVideoName(id int, media model.Media) string {
	return fmt.Sprintf("scene_%d_video.%s", id, media.Extension("mp4"))
}

// Sink принимает экспортируемые файлы по одному.
type Sink interface {
	Write(ctx context.Context, name string, media model.Media) error
}

// Options - параметры выгрузки.
type Options struct {
	// Delay - пауза между файлами.
	Delay time.Duration
	// IncludeVideos добавляет готовые видео после кадра той же сцены.
	IncludeVideos bool
}

// Result - итог выгрузки.
type Result struct {
	Files []string
}

// Exporter выгружает артефакты сцен в Sink.
type Exporter struct {
	artifacts artifact.Store
	logger    *zap.Logger
}

// NewExporter создает Exporter.
func NewExporter(artifacts artifact.Store, logger *zap.Logger) *Exporter {
	return &Exporter{artifacts: artifacts, logger: logger.Named("Exporter")}
}

// ExportAll пишет кадры всех сцен с готовым изображением по возрастанию id, последовательно,
// с паузой opts.Delay между файлами. Сцены без изображения пропускаются.
func (e *Exporter) ExportAll(ctx context.Context, scenes []model.Scene, sink Sink, opts Options) (Result, error) {
	ready := make([]model.Scene, 0, len(scenes))
	for _, sc := range scenes {
		if sc.HasImage() {
			ready = append(ready, sc)
		}
	}
	if len(ready) == 0 {
		return Result{}, ErrNothingToExport
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })

	var res Result
	write := func(key string, name func(int, model.Media) string, id int) error {
		if len(res.Files) > 0 && opts.Delay > 0 {
			t := time.NewTimer(opts.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		media, err := e.artifacts.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("scene %d: %w", id, err)
		}
		fileName := name(id, media)
		if err := sink.Write(ctx, fileName, media); err != nil {
			return fmt.Errorf("scene %d: %w", id, err)
		}
		res.Files = append(res.Files, fileName)
		return nil
	}

	for _, sc := range ready {
		if err := write(sc.ImageKey, SceneImageName, sc.ID); err != nil {
			return res, err
		}
		if opts.IncludeVideos && sc.VideoStatus == model.VideoStatusReady && sc.VideoKey != "" {
			if err := write(sc.VideoKey, SceneVideoName, sc.ID); err != nil {
				return res, err
			}
		}
	}
	e.logger.Info("Export finished", zap.Int("files", len(res.Files)))
	return res, nil
}

// DirSink пишет файлы в каталог.
type DirSink struct {
	Dir string
}

// Write создает каталог при необходимости и пишет файл.
func (d DirSink) Write(_ context.Context, name string, media model.Media) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.Dir, filepath.Base(name)), media.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// ZipSink пишет файлы потоком в zip-архив.
type ZipSink struct {
	zw *zip.Writer
}

// NewZipSink создает архив поверх w. Close обязателен.
func NewZipSink(w io.Writer) *ZipSink {
	return &ZipSink{zw: zip.NewWriter(w)}
}

// Write добавляет файл в архив. Медиа уже сжато, поэтому без компрессии.
func (z *ZipSink) Write(_ context.Context, name string, media model.Media) error {
	fw, err := z.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	if _, err := fw.Write(media.Data); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", name, err)
	}
	return nil
}

// Close дописывает оглавление архива.
func (z *ZipSink) Close() error {
	return z.zw.Close()
}
