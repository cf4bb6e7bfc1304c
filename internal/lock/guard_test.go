package lock

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithLock_SerializesSameKey(t *testing.T) {
	g := NewGuard()

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.WithLock(ResourceSignups, func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("expected at most one holder per key, observed %d", maxInFlight)
	}
}

func TestWithLock_IndependentKeysRunConcurrently(t *testing.T) {
	g := NewGuard()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = g.WithLock(ResourceSignups, func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	go func() {
		_ = g.WithLock(ResourceStaffAccounts, func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("staff-accounts lock blocked behind signups lock")
	}
	close(release)
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	g := NewGuard()
	boom := errors.New("boom")

	if err := g.WithLock(ResourceSignups, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = g.WithLock(ResourceSignups, func() error { return nil })
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock still held after fn returned an error")
	}
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	g := NewGuard()

	func() {
		defer func() { _ = recover() }()
		_ = g.WithLock(ResourceSignups, func() error { panic("fail") })
	}()

	acquired := make(chan struct{})
	go func() {
		_ = g.WithLock(ResourceSignups, func() error { return nil })
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock still held after fn panicked")
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	g := NewGuard()
	got, err := Do(g, ResourceSignups, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("Do() = %d, %v; want 42, nil", got, err)
	}
}
