package service_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storyboard-server/internal/artifact"
	"storyboard-server/internal/export"
	"storyboard-server/internal/generation"
	"storyboard-server/internal/mocks"
	"storyboard-server/internal/model"
	"storyboard-server/internal/service"
	"storyboard-server/internal/store"
	"storyboard-server/pkg/taskmanager"
)

var (
	refImage = model.Media{Data: []byte("ref"), MIMEType: "image/jpeg"}
	pngFrame = model.Media{Data: []byte("png-bytes"), MIMEType: "image/png"}
	mp4Clip  = model.Media{Data: []byte("mp4-bytes"), MIMEType: "video/mp4"}
)

type fixture struct {
	orch  *service.Orchestrator
	gen   *mocks.MockGenerator
	tasks *taskmanager.TaskManager
	files *artifact.FileStore
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, zap.NewNop(), nil)
}

// newFixtureWith позволяет подменить логгер и обернуть хранилище артефактов.
func newFixtureWith(t *testing.T, logger *zap.Logger, wrap func(artifact.Store) artifact.Store) *fixture {
	t.Helper()
	files, err := artifact.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)
	var artifacts artifact.Store = files
	if wrap != nil {
		artifacts = wrap(files)
	}
	gen := mocks.NewMockGenerator(t)
	tasks := taskmanager.New(taskmanager.Config{MaxTasks: 50}, logger)
	orch := service.NewOrchestrator(gen, store.NewSceneStore(logger), tasks, artifacts, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &fixture{orch: orch, gen: gen, tasks: tasks, files: files}
}

// logGate останавливает первую запись лога с заданным сообщением до release.
type logGate struct {
	msg     string
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func newLogGate(msg string) *logGate {
	return &logGate{msg: msg, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *logGate) logger() *zap.Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(io.Discard), zapcore.DebugLevel)
	return zap.New(core, zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == g.msg {
			g.once.Do(func() {
				close(g.reached)
				<-g.release
			})
		}
		return nil
	}))
}

// putHookStore вызывает beforePut перед каждой записью.
type putHookStore struct {
	artifact.Store
	beforePut func(key string)
}

func (s *putHookStore) Put(ctx context.Context, key string, media model.Media) error {
	s.beforePut(key)
	return s.Store.Put(ctx, key, media)
}

func runParams(story string, count int) model.RunParams {
	return model.RunParams{
		ReferenceImage: refImage,
		Story:          story,
		SceneCount:     count,
		AspectRatio:    model.AspectRatioPortrait,
	}
}

func sceneDescs(prompts ...string) []model.SceneDescription {
	out := make([]model.SceneDescription, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, model.SceneDescription{
			ShotType:    "Medium Shot",
			Description: "desc " + p,
			Location:    "street",
			Mood:        "calm",
			ImagePrompt: p,
		})
	}
	return out
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOrchestrator_StartRun_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.StartRun(context.Background(), model.RunParams{SceneCount: 5, AspectRatio: model.AspectRatioPortrait})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	_, err = f.orch.StartRun(context.Background(), runParams("story", 3))
	assert.True(t, model.IsValidation(err))

	assert.Equal(t, model.RunStatusIdle, f.orch.Snapshot().Run.Status)
}

func TestOrchestrator_Pipeline(t *testing.T) {
	f := newFixture(t)

	f.gen.On("DescribeScenes", mock.Anything, refImage, "a story", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, "p3", model.AspectRatioPortrait, refImage).
		Return(model.Media{}, errors.New("safety block")).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.MatchedBy(func(p string) bool { return p != "p3" }), model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil).Times(4)

	run, err := f.orch.StartRun(context.Background(), runParams("a story", 5))
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDescribing, run.Status)

	snap, err := f.orch.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, snap.Run.Status)
	require.Len(t, snap.Scenes, 5)
	assert.True(t, snap.ExportAvailable())

	for _, sc := range snap.Scenes {
		if sc.ID == 3 {
			assert.Equal(t, model.ImageStatusFailed, sc.ImageStatus)
			assert.Equal(t, model.SceneErrorImageFailed, sc.Error)
			assert.Empty(t, sc.ImageURL)
			continue
		}
		assert.Equal(t, model.ImageStatusReady, sc.ImageStatus)
		assert.False(t, sc.IsGeneratingImage)
		assert.Equal(t, artifact.URLPath(sc.ImageKey), sc.ImageURL)

		media, err := f.orch.Artifact(context.Background(), sc.ImageKey)
		require.NoError(t, err)
		assert.Equal(t, pngFrame.Data, media.Data)
	}

	_, media, err := f.orch.SceneImage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "image/png", media.MIMEType)

	_, _, err = f.orch.SceneImage(context.Background(), 3)
	assert.ErrorIs(t, err, model.ErrNoImage)
}

func TestOrchestrator_DescribeFailure(t *testing.T) {
	f := newFixture(t)

	f.gen.On("DescribeScenes", mock.Anything, refImage, "story", 5).
		Return(nil, generation.ErrMalformedScenes).Once()

	run, err := f.orch.StartRun(context.Background(), runParams("story", 5))
	require.NoError(t, err)

	snap, err := f.orch.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, snap.Run.Status)
	assert.Equal(t, model.RunErrorDescribeFailed, snap.Run.Error)
	assert.Empty(t, snap.Scenes)
	f.gen.AssertNotCalled(t, "GenerateImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_RetryImage(t *testing.T) {
	f := newFixture(t)

	f.gen.On("DescribeScenes", mock.Anything, refImage, "story", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, "p2", model.AspectRatioPortrait, refImage).
		Return(model.Media{}, errors.New("boom")).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)

	run, err := f.orch.StartRun(context.Background(), runParams("story", 5))
	require.NoError(t, err)
	_, err = f.orch.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.RetryImage(context.Background(), 1), model.ErrImageNotFailed)
	assert.ErrorIs(t, f.orch.RetryImage(context.Background(), 42), model.ErrSceneNotFound)

	imageKey := taskmanager.Key{RunID: run.ID, SceneID: 2, Kind: taskmanager.KindImage}
	require.Eventually(t, func() bool { return !f.tasks.IsActive(imageKey) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.orch.RetryImage(context.Background(), 2))

	require.Eventually(t, func() bool {
		snap := f.orch.Snapshot()
		return snap.Run.Status == model.RunStatusCompleted && snap.Scenes[1].ImageStatus == model.ImageStatusReady
	}, 2*time.Second, 5*time.Millisecond)

	sc := f.orch.Snapshot().Scenes[1]
	assert.Empty(t, sc.Error)
	assert.NotEmpty(t, sc.ImageURL)
}

func TestOrchestrator_GenerateVideo(t *testing.T) {
	f := newFixture(t)

	f.gen.On("DescribeScenes", mock.Anything, refImage, "story", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, "p5", model.AspectRatioPortrait, refImage).
		Return(model.Media{}, errors.New("boom")).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)

	run, err := f.orch.StartRun(context.Background(), runParams("story", 5))
	require.NoError(t, err)
	_, err = f.orch.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.GenerateVideo(context.Background(), 5), model.ErrNoImage)

	release := make(chan struct{})
	started := make(chan struct{})
	f.gen.On("GenerateVideo", mock.Anything, "p1", mock.MatchedBy(func(m model.Media) bool {
		return string(m.Data) == string(pngFrame.Data)
	}), model.AspectRatioPortrait, mock.Anything).
		Run(func(args mock.Arguments) {
			progress := args.Get(4).(generation.ProgressFunc)
			progress("Processing...")
			close(started)
			<-release
		}).
		Return(mp4Clip, nil).Once()

	require.NoError(t, f.orch.GenerateVideo(context.Background(), 1))
	<-started

	sc := f.orch.Snapshot().Scenes[0]
	assert.Equal(t, model.VideoStatusGenerating, sc.VideoStatus)
	assert.True(t, sc.IsGeneratingVideo)
	assert.Equal(t, "Processing...", sc.VideoProgress)

	assert.ErrorIs(t, f.orch.GenerateVideo(context.Background(), 1), model.ErrVideoInProgress)

	close(release)
	snap, err := f.orch.WaitVideos(waitCtx(t), run.ID)
	require.NoError(t, err)

	sc = snap.Scenes[0]
	assert.Equal(t, model.VideoStatusReady, sc.VideoStatus)
	assert.Equal(t, model.VideoProgressDone, sc.VideoProgress)
	assert.Equal(t, artifact.URLPath(sc.VideoKey), sc.VideoURL)
	assert.Equal(t, model.ImageStatusReady, sc.ImageStatus)

	media, err := f.orch.Artifact(context.Background(), sc.VideoKey)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", media.MIMEType)
}

func TestOrchestrator_VideoFailureKeepsImage(t *testing.T) {
	f := newFixture(t)

	f.gen.On("DescribeScenes", mock.Anything, refImage, "story", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)
	f.gen.On("GenerateVideo", mock.Anything, "p2", mock.Anything, model.AspectRatioPortrait, mock.Anything).
		Return(model.Media{}, generation.ErrVideoPollTimeout).Once()

	run, err := f.orch.StartRun(context.Background(), runParams("story", 5))
	require.NoError(t, err)
	_, err = f.orch.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)

	require.NoError(t, f.orch.GenerateVideo(context.Background(), 2))
	snap, err := f.orch.WaitVideos(waitCtx(t), run.ID)
	require.NoError(t, err)

	sc := snap.Scenes[1]
	assert.Equal(t, model.VideoStatusFailed, sc.VideoStatus)
	assert.Equal(t, model.SceneErrorVideoFailed, sc.Error)
	assert.Equal(t, model.ImageStatusReady, sc.ImageStatus)
	assert.NotEmpty(t, sc.ImageURL)
}

func TestOrchestrator_NewRunSupersedesOld(t *testing.T) {
	f := newFixture(t)

	firstStarted := make(chan struct{})
	f.gen.On("DescribeScenes", mock.Anything, refImage, "first", 5).
		Run(func(args mock.Arguments) {
			close(firstStarted)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()
	f.gen.On("DescribeScenes", mock.Anything, refImage, "second", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)

	first, err := f.orch.StartRun(context.Background(), runParams("first", 5))
	require.NoError(t, err)
	<-firstStarted

	second, err := f.orch.StartRun(context.Background(), runParams("second", 5))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = f.orch.Wait(waitCtx(t), first.ID)
	assert.ErrorIs(t, err, model.ErrStaleRun)

	snap, err := f.orch.Wait(waitCtx(t), second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, snap.Run.ID)
	assert.Equal(t, model.RunStatusCompleted, snap.Run.Status)
	assert.Equal(t, "second", snap.Run.Story)
}

func TestOrchestrator_Export(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Export(context.Background(), export.DirSink{Dir: t.TempDir()}, export.Options{})
	assert.ErrorIs(t, err, model.ErrNoActiveRun)

	f.gen.On("DescribeScenes", mock.Anything, refImage, "story", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, "p4", model.AspectRatioPortrait, refImage).
		Return(model.Media{}, errors.New("boom")).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)

	run, err := f.orch.StartRun(context.Background(), runParams("story", 5))
	require.NoError(t, err)
	_, err = f.orch.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)

	dir := t.TempDir()
	res, err := f.orch.Export(context.Background(), export.DirSink{Dir: dir}, export.Options{Delay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"scene_1_image.png",
		"scene_2_image.png",
		"scene_3_image.png",
		"scene_5_image.png",
	}, res.Files)

	data, err := os.ReadFile(filepath.Join(dir, "scene_5_image.png"))
	require.NoError(t, err)
	assert.Equal(t, pngFrame.Data, data)
}

func TestOrchestrator_ConcurrentStartRun(t *testing.T) {
	gate := newLogGate("Previous run discarded")
	f := newFixtureWith(t, gate.logger(), nil)

	secondRef := model.Media{Data: []byte("ref-b"), MIMEType: "image/jpeg"}

	f.gen.On("DescribeScenes", mock.Anything, refImage, "zero", 5).
		Return(sceneDescs("z1", "z2", "z3", "z4", "z5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)
	f.gen.On("DescribeScenes", mock.Anything, refImage, "first", 5).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Maybe()
	f.gen.On("DescribeScenes", mock.Anything, secondRef, "second", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, secondRef).
		Return(pngFrame, nil).Times(5)

	zero, err := f.orch.StartRun(context.Background(), runParams("zero", 5))
	require.NoError(t, err)
	_, err = f.orch.Wait(waitCtx(t), zero.ID)
	require.NoError(t, err)

	// Первый StartRun останавливается сразу после смены прогона в сторе
	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orch.StartRun(context.Background(), runParams("first", 5))
		firstDone <- err
	}()
	<-gate.reached

	secondParams := runParams("second", 5)
	secondParams.ReferenceImage = secondRef
	secondDone := make(chan model.Run, 1)
	go func() {
		run, err := f.orch.StartRun(context.Background(), secondParams)
		assert.NoError(t, err)
		secondDone <- run
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate.release)

	require.NoError(t, <-firstDone)
	second := <-secondDone

	snap, err := f.orch.Wait(waitCtx(t), second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, snap.Run.Status)
	assert.Equal(t, "second", snap.Run.Story)
	require.Len(t, snap.Scenes, 5)
	for _, sc := range snap.Scenes {
		assert.Equal(t, model.ImageStatusReady, sc.ImageStatus)
	}
}

func TestOrchestrator_VideoRequestWhileFinishing(t *testing.T) {
	gate := newLogGate("Scene video ready")
	f := newFixtureWith(t, gate.logger(), nil)

	f.gen.On("DescribeScenes", mock.Anything, refImage, "story", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)
	f.gen.On("GenerateVideo", mock.Anything, "p1", mock.Anything, model.AspectRatioPortrait, mock.Anything).
		Return(mp4Clip, nil).Once()

	run, err := f.orch.StartRun(context.Background(), runParams("story", 5))
	require.NoError(t, err)
	_, err = f.orch.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)

	require.NoError(t, f.orch.GenerateVideo(context.Background(), 1))
	<-gate.reached

	// Видео уже ready, но задача еще не снята с учета
	err = f.orch.GenerateVideo(context.Background(), 1)
	assert.ErrorIs(t, err, taskmanager.ErrDuplicateTask)

	sc := f.orch.Snapshot().Scenes[0]
	assert.Equal(t, model.VideoStatusReady, sc.VideoStatus)
	assert.Equal(t, model.VideoProgressDone, sc.VideoProgress)
	assert.NotEmpty(t, sc.VideoKey)
	assert.Empty(t, sc.Error)

	close(gate.release)
	snap, err := f.orch.WaitVideos(waitCtx(t), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VideoStatusReady, snap.Scenes[0].VideoStatus)
}

func TestOrchestrator_RetryWhileFailureRecorded(t *testing.T) {
	gate := newLogGate("Image generation failed")
	f := newFixtureWith(t, gate.logger(), nil)

	f.gen.On("DescribeScenes", mock.Anything, refImage, "story", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, "p2", model.AspectRatioPortrait, refImage).
		Return(model.Media{}, errors.New("boom")).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)

	_, err := f.orch.StartRun(context.Background(), runParams("story", 5))
	require.NoError(t, err)
	<-gate.reached

	err = f.orch.RetryImage(context.Background(), 2)
	assert.ErrorIs(t, err, taskmanager.ErrDuplicateTask)

	sc := f.orch.Snapshot().Scenes[1]
	assert.Equal(t, model.ImageStatusFailed, sc.ImageStatus)
	assert.Equal(t, model.SceneErrorImageFailed, sc.Error)

	close(gate.release)
}

func TestOrchestrator_SupersededImageLeavesNoArtifact(t *testing.T) {
	type started struct {
		run model.Run
		err error
	}
	var (
		f    *fixture
		once sync.Once
	)
	ready := make(chan struct{})
	secondCh := make(chan started, 1)
	f = newFixtureWith(t, zap.NewNop(), func(s artifact.Store) artifact.Store {
		return &putHookStore{Store: s, beforePut: func(string) {
			<-ready
			once.Do(func() {
				// Новый прогон стартует между генерацией кадра и его записью
				run, err := f.orch.StartRun(context.Background(), runParams("second", 5))
				secondCh <- started{run: run, err: err}
			})
		}}
	})

	f.gen.On("DescribeScenes", mock.Anything, refImage, "first", 5).
		Return(sceneDescs("a1", "a2", "a3", "a4", "a5"), nil).Once()
	f.gen.On("DescribeScenes", mock.Anything, refImage, "second", 5).
		Return(sceneDescs("p1", "p2", "p3", "p4", "p5"), nil).Once()
	f.gen.On("GenerateImage", mock.Anything, mock.Anything, model.AspectRatioPortrait, refImage).
		Return(pngFrame, nil)

	first, err := f.orch.StartRun(context.Background(), runParams("first", 5))
	require.NoError(t, err)
	close(ready)

	var second started
	select {
	case second = <-secondCh:
	case <-waitCtx(t).Done():
		t.Fatal("second run was not started")
	}
	require.NoError(t, second.err)

	snap, err := f.orch.Wait(waitCtx(t), second.run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, snap.Run.Status)

	for id := 1; id <= 5; id++ {
		key := taskmanager.Key{RunID: first.ID, SceneID: id, Kind: taskmanager.KindImage}
		require.Eventually(t, func() bool { return !f.tasks.IsActive(key) }, 2*time.Second, 5*time.Millisecond)
	}
	n, err := f.files.DeleteRun(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "artifacts of the superseded run must not survive")
}
