package call

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// WakeLock is the platform keep-awake capability. Best effort: failures are
// retried, never propagated.
type WakeLock interface {
	Acquire() error
	Release() error
}

// NopWakeLock is used on platforms without a keep-awake facility.
type NopWakeLock struct{}

func (NopWakeLock) Acquire() error { return nil }
func (NopWakeLock) Release() error { return nil }

const wakeLockRetryDelay = 2 * time.Second

// Keeper holds a wake lock while the call roster is non-empty. The platform
// may revoke the lock at any time; OnVisible re-acquires it.
type Keeper struct {
	lock  WakeLock
	delay time.Duration

	mu    sync.Mutex
	want  bool
	held  bool
	retry *time.Timer
}

func NewKeeper(lock WakeLock) *Keeper {
	if lock == nil {
		lock = NopWakeLock{}
	}
	return &Keeper{lock: lock, delay: wakeLockRetryDelay}
}

// Want sets the desired lock state and reconciles immediately.
func (k *Keeper) Want(on bool) {
	k.mu.Lock()
	if k.want == on {
		k.mu.Unlock()
		return
	}
	k.want = on
	if !on && k.retry != nil {
		k.retry.Stop()
		k.retry = nil
	}
	k.mu.Unlock()

	if on {
		k.acquire()
	} else {
		k.release()
	}
}

// OnVisible re-acquires a lock the platform released while hidden.
func (k *Keeper) OnVisible() {
	k.mu.Lock()
	need := k.want && !k.held
	k.mu.Unlock()
	if need {
		k.acquire()
	}
}

// Revoked marks the lock as lost without releasing the desire for it.
func (k *Keeper) Revoked() {
	k.mu.Lock()
	k.held = false
	k.mu.Unlock()
}

func (k *Keeper) acquire() {
	k.mu.Lock()
	if !k.want || k.held {
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()

	if err := k.lock.Acquire(); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("wake lock acquire failed, retrying")
		k.mu.Lock()
		if k.want && k.retry == nil {
			k.retry = time.AfterFunc(k.delay, func() {
				k.mu.Lock()
				k.retry = nil
				k.mu.Unlock()
				k.acquire()
			})
		}
		k.mu.Unlock()
		return
	}

	k.mu.Lock()
	k.held = true
	stillWanted := k.want
	k.mu.Unlock()
	if !stillWanted {
		k.release()
	}
}

func (k *Keeper) release() {
	k.mu.Lock()
	if !k.held {
		k.mu.Unlock()
		return
	}
	k.held = false
	k.mu.Unlock()
	if err := k.lock.Release(); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("wake lock release failed")
	}
}
