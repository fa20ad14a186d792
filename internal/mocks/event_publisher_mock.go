package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyboard-server/internal/messaging"
)

// MockEventPublisher is a mock type for the EventPublisher type
type MockEventPublisher struct {
	mock.Mock
}

// PublishSceneEvent provides a mock function with given fields: ctx, event
func (_m *MockEventPublisher) PublishSceneEvent(ctx context.Context, event messaging.SceneEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

// Close provides a mock function with no fields
func (_m *MockEventPublisher) Close() error {
	ret := _m.Called()
	return ret.Error(0)
}

var _ messaging.EventPublisher = (*MockEventPublisher)(nil)
