package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/repository"
	"github.com/xiaot623/teamdesk/tests/helpers"
)

func TestUserDirectoryCaches(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, store, domain.RoleEmployee, "alice")
	ctx := context.Background()
	dir := NewUserDirectory(store, time.Minute)

	u, err := dir.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)

	require.NoError(t, store.UpsertUser(ctx, &domain.User{ID: "alice", Name: "Alice Renamed", Enabled: true}))
	u, err = dir.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name, "served from cache")

	dir.Invalidate("alice")
	u, err = dir.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice Renamed", u.Name)

	_, err = dir.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// slowUsers blocks GetUser until release is closed and fails it when the
// context it was handed has been cancelled by then.
type slowUsers struct {
	repository.Store
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *slowUsers) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
	}
	<-s.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetUser(ctx, id)
}

func TestUserDirectorySharedLookupSurvivesCallerCancel(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, store, domain.RoleEmployee, "alice")
	slow := &slowUsers{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	dir := NewUserDirectory(slow, 0)

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := dir.GetUser(firstCtx, "alice")
		first <- err
	}()
	<-slow.entered

	second := make(chan error, 1)
	go func() {
		_, err := dir.GetUser(context.Background(), "alice")
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(slow.release)

	require.NoError(t, <-second, "a waiting caller is not failed by another caller's cancellation")
	require.NoError(t, <-first)
}

func TestUserDirectoryResolve(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, store, domain.RoleEmployee, "alice", "bob")
	dir := NewUserDirectory(store, time.Minute)

	found, missing, err := dir.Resolve(context.Background(), []string{"bob", "ghost", "alice", "ghost"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, []string{"ghost"}, missing)
}

func TestKeyLockSerializesSameKey(t *testing.T) {
	locks := newKeyLock()
	var (
		wg      sync.WaitGroup
		active  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("chat-1")
			defer unlock()
			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Empty(t, locks.locks, "released keys are forgotten")
}

func TestKeyLockIndependentKeys(t *testing.T) {
	locks := newKeyLock()
	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}
}
