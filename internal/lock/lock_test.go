package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	held     map[string]string
	failNext error
	releases int
}

func newMemStore() *memStore {
	return &memStore{held: map[string]string{}}
}

func (s *memStore) QueryAcquireLock(_ context.Context, key, instance string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return false, err
	}
	if _, ok := s.held[key]; ok {
		return false, nil
	}
	s.held[key] = instance
	return true, nil
}

func (s *memStore) QueryReleaseLock(_ context.Context, key, instance string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if s.held[key] != instance {
		return false, nil
	}
	delete(s.held, key)
	return true, nil
}

func TestTryRunRunsAndReleases(t *testing.T) {
	store := newMemStore()
	l := NewLocker(store, "a", time.Minute, nil)

	called := false
	ran, err := l.TryRun(context.Background(), "job", func(context.Context) error {
		called = true
		assert.Equal(t, "a", store.held["job"])
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, called)
	assert.Empty(t, store.held)
}

func TestTryRunSkipsWhenHeld(t *testing.T) {
	store := newMemStore()
	store.held["job"] = "other"
	l := NewLocker(store, "a", 0, nil)

	ran, err := l.TryRun(context.Background(), "job", func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, "other", store.held["job"])
	assert.Equal(t, 0, store.releases)
}

func TestTryRunAcquireError(t *testing.T) {
	store := newMemStore()
	store.failNext = errors.New("db down")
	l := NewLocker(store, "a", 0, nil)

	ran, err := l.TryRun(context.Background(), "job", func(context.Context) error { return nil })
	assert.False(t, ran)
	assert.ErrorContains(t, err, "db down")
}

func TestTryRunReleasesOnError(t *testing.T) {
	store := newMemStore()
	l := NewLocker(store, "a", 0, nil)
	boom := errors.New("boom")

	ran, err := l.TryRun(context.Background(), "job", func(context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.held)
}

func TestTryRunReleasesAfterCancel(t *testing.T) {
	store := newMemStore()
	l := NewLocker(store, "a", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ran, err := l.TryRun(ctx, "job", func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.held)
}
