package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/monitor"
)

// MockChangeSource implements monitor.ChangeSource for testing across packages
type MockChangeSource struct {
	mock.Mock
}

func (m *MockChangeSource) Latest(ctx context.Context) (ntfind.Bookmark, error) {
	args := m.Called(ctx)

	// Handle function return types (for complex tests)
	if fn, ok := args.Get(0).(func(context.Context) ntfind.Bookmark); ok {
		return fn(ctx), args.Error(1)
	}

	if args.Get(0) == nil {
		return ntfind.Bookmark{}, args.Error(1)
	}
	return args.Get(0).(ntfind.Bookmark), args.Error(1)
}

func (m *MockChangeSource) ReadBatch(ctx context.Context, from ntfind.Bookmark, max int) ([]ntfind.ChangeEvent, ntfind.Bookmark, error) {
	args := m.Called(ctx, from, max)

	// Handle function return types (for complex tests)
	if fn, ok := args.Get(0).(func(context.Context, ntfind.Bookmark, int) ([]ntfind.ChangeEvent, ntfind.Bookmark)); ok {
		evs, next := fn(ctx, from, max)
		return evs, next, args.Error(2)
	}

	var evs []ntfind.ChangeEvent
	if args.Get(0) != nil {
		evs = args.Get(0).([]ntfind.ChangeEvent)
	}
	next := from
	if args.Get(1) != nil {
		next = args.Get(1).(ntfind.Bookmark)
	}
	return evs, next, args.Error(2)
}

var _ monitor.ChangeSource = (*MockChangeSource)(nil)

// MockBookmarkStore implements monitor.BookmarkStore for testing across packages
type MockBookmarkStore struct {
	mock.Mock
}

func (m *MockBookmarkStore) SaveBookmark(volume string, b ntfind.Bookmark) error {
	args := m.Called(volume, b)
	return args.Error(0)
}

func (m *MockBookmarkStore) LoadBookmark(volume string) (ntfind.Bookmark, error) {
	args := m.Called(volume)

	if args.Get(0) == nil {
		return ntfind.Bookmark{}, args.Error(1)
	}
	return args.Get(0).(ntfind.Bookmark), args.Error(1)
}

var _ monitor.BookmarkStore = (*MockBookmarkStore)(nil)
