package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"storyboard-server/internal/artifact"
	"storyboard-server/internal/config"
	"storyboard-server/internal/export"
	"storyboard-server/internal/generation"
	"storyboard-server/internal/model"
	"storyboard-server/internal/service"
	"storyboard-server/internal/store"
	"storyboard-server/pkg/taskmanager"
	"storyboard-server/shared/logger"
)

func main() {
	imagePath := flag.String("image", "", "Путь к референсному изображению персонажа")
	story := flag.String("story", "", "Текст истории")
	scenes := flag.Int("scenes", model.DefaultScenes, "Количество сцен (5-20)")
	ratio := flag.String("ratio", string(model.AspectRatioPortrait), "Соотношение сторон: 9:16 или 16:9")
	outDir := flag.String("out", "storyboard", "Каталог для выгрузки кадров")
	videos := flag.Bool("videos", false, "Сгенерировать видео для каждой сцены с кадром")
	flag.Parse()

	if *imagePath == "" || strings.TrimSpace(*story) == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: "console", OutputPath: cfg.LogOutput})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, options{
		imagePath: *imagePath,
		story:     *story,
		scenes:    *scenes,
		ratio:     model.AspectRatio(*ratio),
		outDir:    *outDir,
		videos:    *videos,
	}); err != nil {
		log.Error("Render failed", zap.Error(err))
		os.Exit(1)
	}
}

type options struct {
	imagePath string
	story     string
	scenes    int
	ratio     model.AspectRatio
	outDir    string
	videos    bool
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, opts options) error {
	data, err := os.ReadFile(opts.imagePath)
	if err != nil {
		return fmt.Errorf("failed to read reference image: %w", err)
	}
	ref := model.Media{Data: data, MIMEType: http.DetectContentType(data)}

	// Артефакты CLI живут во временном каталоге, результат выгружается в -out
	workDir, err := os.MkdirTemp("", "storyboard-render-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	artifacts, err := artifact.NewFileStore(workDir, log)
	if err != nil {
		return err
	}
	gen, err := generation.NewFromConfig(ctx, cfg, log)
	if err != nil {
		return err
	}
	orch := service.NewOrchestrator(gen, store.NewSceneStore(log), taskmanager.New(taskmanager.Config{}, log), artifacts, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = orch.Shutdown(shutdownCtx)
	}()

	current, err := orch.StartRun(ctx, model.RunParams{
		ReferenceImage: ref,
		Story:          opts.story,
		SceneCount:     opts.scenes,
		AspectRatio:    opts.ratio,
	})
	if err != nil {
		return err
	}
	log.Info("Run started", zap.Stringer("run_id", current.ID), zap.Int("scenes", opts.scenes))

	snap, err := orch.Wait(ctx, current.ID)
	if err != nil {
		return err
	}
	if snap.Run.Status == model.RunStatusFailed {
		return errors.New(snap.Run.Error)
	}
	logScenes(log, snap)

	if opts.videos {
		started := 0
		for _, sc := range snap.Scenes {
			if !sc.HasImage() {
				continue
			}
			if err := orch.GenerateVideo(ctx, sc.ID); err != nil {
				log.Warn("Failed to start video", zap.Int("scene_id", sc.ID), zap.Error(err))
				continue
			}
			started++
		}
		log.Info("Video generation started", zap.Int("scenes", started))
		if snap, err = orch.WaitVideos(ctx, current.ID); err != nil {
			return err
		}
		logScenes(log, snap)
	}

	absOut, _ := filepath.Abs(opts.outDir)
	res, err := orch.Export(ctx, export.DirSink{Dir: absOut}, export.Options{
		Delay:         cfg.ExportDelay,
		IncludeVideos: opts.videos,
	})
	if err != nil {
		return err
	}
	log.Info("Storyboard exported", zap.String("dir", absOut), zap.Strings("files", res.Files))
	return nil
}

func logScenes(log *zap.Logger, snap store.Snapshot) {
	for _, sc := range snap.Scenes {
		log.Info("Scene",
			zap.Int("scene_id", sc.ID),
			zap.String("shot_type", sc.ShotType),
			zap.String("image_status", string(sc.ImageStatus)),
			zap.String("video_status", string(sc.VideoStatus)),
			zap.String("error", sc.Error),
		)
	}
}
