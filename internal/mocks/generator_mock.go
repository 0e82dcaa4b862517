package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/ai"
	"storybook-server/internal/models"
)

// MockGenerator is a mock type for the ai.Generator type
type MockGenerator struct {
	mock.Mock
}

// GenerateStory provides a mock function with given fields: ctx, input
func (_m *MockGenerator) GenerateStory(ctx context.Context, input models.BookInput) (string, error) {
	ret := _m.Called(ctx, input)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, models.BookInput) string); ok {
		r0 = rf(ctx, input)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(string)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, models.BookInput) error); ok {
		r1 = rf(ctx, input)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// ExtractElements provides a mock function with given fields: ctx, story
func (_m *MockGenerator) ExtractElements(ctx context.Context, story string) (models.StoryElements, error) {
	ret := _m.Called(ctx, story)

	var r0 models.StoryElements
	if rf, ok := ret.Get(0).(func(context.Context, string) models.StoryElements); ok {
		r0 = rf(ctx, story)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(models.StoryElements)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, story)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// IllustrationPrompt provides a mock function with given fields: ctx, scene, animal, setting
func (_m *MockGenerator) IllustrationPrompt(ctx context.Context, scene string, animal string, setting string) (string, error) {
	ret := _m.Called(ctx, scene, animal, setting)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) string); ok {
		r0 = rf(ctx, scene, animal, setting)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(string)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string, string) error); ok {
		r1 = rf(ctx, scene, animal, setting)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// GenerateIllustration provides a mock function with given fields: ctx, prompt
func (_m *MockGenerator) GenerateIllustration(ctx context.Context, prompt string) ([]byte, error) {
	ret := _m.Called(ctx, prompt)

	var r0 []byte
	if rf, ok := ret.Get(0).(func(context.Context, string) []byte); ok {
		r0 = rf(ctx, prompt)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]byte)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, prompt)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockGenerator creates a new instance of MockGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockGenerator(t interface {
	mock.TestingT
	Cleanup(func())
	Helper()
}) *MockGenerator {
	m := &MockGenerator{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	t.Helper()
	return m
}

var _ ai.Generator = (*MockGenerator)(nil)
