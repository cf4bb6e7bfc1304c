/**
 * @description
 * Per-resource mutual exclusion for read-modify-write sequences against the
 * persisted tables. Each resource key owns its own mutex, so writes to the
 * signup table never wait on writes to the staff table.
 *
 * @notes
 * - sync.Mutex switches to starvation mode under contention, which keeps a
 *   waiting caller from being overtaken indefinitely.
 * - The lock is released by defer, so an error or a panic inside fn never
 *   leaves it held.
 */
package lock

import "sync"

// Resource keys guarded in this service.
const (
	ResourceSignups       = "signups"
	ResourceStaffAccounts = "staff-accounts"
)

// Guard serializes work per resource key.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*sync.Mutex)}
}

func (g *Guard) mutexFor(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.locks[key]
	if !ok {
		m = &sync.Mutex{}
		g.locks[key] = m
	}
	return m
}

// WithLock runs fn while holding the lock for key and returns fn's error.
func (g *Guard) WithLock(key string, fn func() error) error {
	m := g.mutexFor(key)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// Do runs fn under the lock for key and returns its result.
func Do[T any](g *Guard, key string, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	err = g.WithLock(key, func() error {
		out, err = fn()
		return err
	})
	return out, err
}
