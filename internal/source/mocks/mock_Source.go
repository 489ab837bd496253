// Package mocks provides test doubles for the message source.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	source "github.com/sells-group/comms-cli/internal/source"
)

// MockSource is a mock type for the Source interface.
type MockSource struct {
	mock.Mock
}

// FetchMessages provides a mock function with given fields: ctx, accountToken, q
func (_m *MockSource) FetchMessages(ctx context.Context, accountToken string, q source.Query) (*source.Page, error) {
	ret := _m.Called(ctx, accountToken, q)

	if len(ret) == 0 {
		panic("no return value specified for FetchMessages")
	}

	var r0 *source.Page
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, source.Query) (*source.Page, error)); ok {
		return rf(ctx, accountToken, q)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, source.Query) *source.Page); ok {
		r0 = rf(ctx, accountToken, q)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*source.Page)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, source.Query) error); ok {
		r1 = rf(ctx, accountToken, q)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockSource creates a new instance of MockSource. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockSource(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSource {
	m := &MockSource{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
