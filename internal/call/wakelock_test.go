package call

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	mu sync.Mutex

	failures int
	acquires int
	releases int
}

func (f *fakeLock) Acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.failures > 0 {
		f.failures--
		return errors.New("platform busy")
	}
	return nil
}

func (f *fakeLock) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeLock) counts() (acquires, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.releases
}

func TestKeeperFollowsRoster(t *testing.T) {
	lock := &fakeLock{}
	k := NewKeeper(lock)

	k.Want(true)
	k.Want(true)
	acquires, releases := lock.counts()
	assert.Equal(t, 1, acquires)
	assert.Zero(t, releases)

	k.Want(false)
	acquires, releases = lock.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)
}

func TestKeeperRetriesFailedAcquire(t *testing.T) {
	lock := &fakeLock{failures: 1}
	k := NewKeeper(lock)
	k.delay = 10 * time.Millisecond

	k.Want(true)
	require.Eventually(t, func() bool {
		acquires, _ := lock.counts()
		return acquires == 2
	}, time.Second, 5*time.Millisecond)

	k.mu.Lock()
	held := k.held
	k.mu.Unlock()
	assert.True(t, held)
}

func TestKeeperStopsRetryingWhenRosterEmpties(t *testing.T) {
	lock := &fakeLock{failures: 10}
	k := NewKeeper(lock)
	k.delay = 10 * time.Millisecond

	k.Want(true)
	k.Want(false)

	time.Sleep(50 * time.Millisecond)
	acquires, releases := lock.counts()
	assert.Equal(t, 1, acquires)
	// The lock was never held, so there is nothing to release.
	assert.Zero(t, releases)
}

func TestKeeperReacquiresOnVisibleAfterRevoke(t *testing.T) {
	lock := &fakeLock{}
	k := NewKeeper(lock)

	k.Want(true)
	k.OnVisible()
	acquires, _ := lock.counts()
	assert.Equal(t, 1, acquires)

	k.Revoked()
	k.OnVisible()
	acquires, _ = lock.counts()
	assert.Equal(t, 2, acquires)
}
