package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyboard-server/internal/generation"
	"storyboard-server/internal/model"
	"storyboard-server/internal/service"
)

// MockGenerator is a mock type for the Generator type
type MockGenerator struct {
	mock.Mock
}

// DescribeScenes provides a mock function with given fields: ctx, ref, story, count
func (_m *MockGenerator) DescribeScenes(ctx context.Context, ref model.Media, story string, count int) ([]model.SceneDescription, error) {
	ret := _m.Called(ctx, ref, story, count)

	var r0 []model.SceneDescription
	if rf, ok := ret.Get(0).(func(context.Context, model.Media, string, int) []model.SceneDescription); ok {
		r0 = rf(ctx, ref, story, count)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.SceneDescription)
	}
	return r0, ret.Error(1)
}

// GenerateImage provides a mock function with given fields: ctx, prompt, ratio, ref
func (_m *MockGenerator) GenerateImage(ctx context.Context, prompt string, ratio model.AspectRatio, ref model.Media) (model.Media, error) {
	ret := _m.Called(ctx, prompt, ratio, ref)

	var r0 model.Media
	if rf, ok := ret.Get(0).(func(context.Context, string, model.AspectRatio, model.Media) model.Media); ok {
		r0 = rf(ctx, prompt, ratio, ref)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.Media)
	}
	return r0, ret.Error(1)
}

// GenerateVideo provides a mock function with given fields: ctx, prompt, source, ratio, onProgress
func (_m *MockGenerator) GenerateVideo(ctx context.Context, prompt string, source model.Media, ratio model.AspectRatio, onProgress generation.ProgressFunc) (model.Media, error) {
	ret := _m.Called(ctx, prompt, source, ratio, onProgress)

	var r0 model.Media
	if rf, ok := ret.Get(0).(func(context.Context, string, model.Media, model.AspectRatio, generation.ProgressFunc) model.Media); ok {
		r0 = rf(ctx, prompt, source, ratio, onProgress)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.Media)
	}
	return r0, ret.Error(1)
}

// NewMockGenerator creates a new instance of MockGenerator.
func NewMockGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockGenerator {
	m := &MockGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ service.Generator = (*MockGenerator)(nil)
