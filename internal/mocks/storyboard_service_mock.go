package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyboard-server/internal/export"
	"storyboard-server/internal/handler"
	"storyboard-server/internal/model"
	"storyboard-server/internal/store"
)

// MockStoryboardService is a mock type for the StoryboardService type
type MockStoryboardService struct {
	mock.Mock
}

// StartRun provides a mock function with given fields: ctx, params
func (_m *MockStoryboardService) StartRun(ctx context.Context, params model.RunParams) (model.Run, error) {
	ret := _m.Called(ctx, params)

	var r0 model.Run
	if rf, ok := ret.Get(0).(func(context.Context, model.RunParams) model.Run); ok {
		r0 = rf(ctx, params)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.Run)
	}
	return r0, ret.Error(1)
}

// Snapshot provides a mock function with no fields
func (_m *MockStoryboardService) Snapshot() store.Snapshot {
	ret := _m.Called()

	var r0 store.Snapshot
	if rf, ok := ret.Get(0).(func() store.Snapshot); ok {
		r0 = rf()
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(store.Snapshot)
	}
	return r0
}

// GenerateVideo provides a mock function with given fields: ctx, sceneID
func (_m *MockStoryboardService) GenerateVideo(ctx context.Context, sceneID int) error {
	ret := _m.Called(ctx, sceneID)
	return ret.Error(0)
}

// RetryImage provides a mock function with given fields: ctx, sceneID
func (_m *MockStoryboardService) RetryImage(ctx context.Context, sceneID int) error {
	ret := _m.Called(ctx, sceneID)
	return ret.Error(0)
}

// Artifact provides a mock function with given fields: ctx, key
func (_m *MockStoryboardService) Artifact(ctx context.Context, key string) (model.Media, error) {
	ret := _m.Called(ctx, key)

	var r0 model.Media
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.Media)
	}
	return r0, ret.Error(1)
}

// SceneImage provides a mock function with given fields: ctx, sceneID
func (_m *MockStoryboardService) SceneImage(ctx context.Context, sceneID int) (model.Scene, model.Media, error) {
	ret := _m.Called(ctx, sceneID)

	var r0 model.Scene
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.Scene)
	}
	var r1 model.Media
	if ret.Get(1) != nil {
		r1 = ret.Get(1).(model.Media)
	}
	return r0, r1, ret.Error(2)
}

// Export provides a mock function with given fields: ctx, sink, opts
func (_m *MockStoryboardService) Export(ctx context.Context, sink export.Sink, opts export.Options) (export.Result, error) {
	ret := _m.Called(ctx, sink, opts)

	var r0 export.Result
	if rf, ok := ret.Get(0).(func(context.Context, export.Sink, export.Options) export.Result); ok {
		r0 = rf(ctx, sink, opts)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(export.Result)
	}
	return r0, ret.Error(1)
}

// NewMockStoryboardService creates a new instance of MockStoryboardService.
func NewMockStoryboardService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStoryboardService {
	m := &MockStoryboardService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ handler.StoryboardService = (*MockStoryboardService)(nil)
