package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyboard-server/internal/generation"
	"storyboard-server/internal/model"
)

// MockTextModel is a mock type for the TextModel type
type MockTextModel struct {
	mock.Mock
}

// DescribeImage provides a mock function with given fields: ctx, image, instruction
func (_m *MockTextModel) DescribeImage(ctx context.Context, image model.Media, instruction string) (string, error) {
	ret := _m.Called(ctx, image, instruction)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, model.Media, string) string); ok {
		r0 = rf(ctx, image, instruction)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}
	return r0, ret.Error(1)
}

// BreakdownScenes provides a mock function with given fields: ctx, prompt, count
func (_m *MockTextModel) BreakdownScenes(ctx context.Context, prompt string, count int) ([]model.SceneDescription, error) {
	ret := _m.Called(ctx, prompt, count)

	var r0 []model.SceneDescription
	if rf, ok := ret.Get(0).(func(context.Context, string, int) []model.SceneDescription); ok {
		r0 = rf(ctx, prompt, count)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.SceneDescription)
	}
	return r0, ret.Error(1)
}

// NewMockTextModel creates a new instance of MockTextModel.
func NewMockTextModel(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTextModel {
	m := &MockTextModel{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockImageModel is a mock type for the ImageModel type
type MockImageModel struct {
	mock.Mock
}

// GenerateImages provides a mock function with given fields: ctx, images, prompt, ratio
func (_m *MockImageModel) GenerateImages(ctx context.Context, images []model.Media, prompt string, ratio model.AspectRatio) ([]model.Media, error) {
	ret := _m.Called(ctx, images, prompt, ratio)

	var r0 []model.Media
	if rf, ok := ret.Get(0).(func(context.Context, []model.Media, string, model.AspectRatio) []model.Media); ok {
		r0 = rf(ctx, images, prompt, ratio)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Media)
	}
	return r0, ret.Error(1)
}

// NewMockImageModel creates a new instance of MockImageModel.
func NewMockImageModel(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockImageModel {
	m := &MockImageModel{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockVideoModel is a mock type for the VideoModel type
type MockVideoModel struct {
	mock.Mock
}

// SubmitVideo provides a mock function with given fields: ctx, image, prompt, ratio
func (_m *MockVideoModel) SubmitVideo(ctx context.Context, image model.Media, prompt string, ratio model.AspectRatio) (generation.VideoJob, error) {
	ret := _m.Called(ctx, image, prompt, ratio)

	var r0 generation.VideoJob
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(generation.VideoJob)
	}
	return r0, ret.Error(1)
}

// PollVideo provides a mock function with given fields: ctx, job
func (_m *MockVideoModel) PollVideo(ctx context.Context, job generation.VideoJob) (generation.VideoJobStatus, error) {
	ret := _m.Called(ctx, job)

	var r0 generation.VideoJobStatus
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(generation.VideoJobStatus)
	}
	return r0, ret.Error(1)
}

// FetchVideo provides a mock function with given fields: ctx, uri
func (_m *MockVideoModel) FetchVideo(ctx context.Context, uri string) (model.Media, error) {
	ret := _m.Called(ctx, uri)

	var r0 model.Media
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.Media)
	}
	return r0, ret.Error(1)
}

// NewMockVideoModel creates a new instance of MockVideoModel.
func NewMockVideoModel(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockVideoModel {
	m := &MockVideoModel{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var (
	_ generation.TextModel  = (*MockTextModel)(nil)
	_ generation.ImageModel = (*MockImageModel)(nil)
	_ generation.VideoModel = (*MockVideoModel)(nil)
)
