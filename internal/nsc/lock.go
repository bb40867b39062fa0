package nsc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// Guard is the Global Lock over a credential store directory. It serializes
// holders inside this process with a one-slot semaphore and across processes
// with flock(2) on <store>/locks/global.lock.
//
// Guard is not reentrant: a holder that calls Acquire again deadlocks until its
// context is done. Composite driver operations call unlocked helpers instead.
type Guard struct {
	path string
	sem  chan struct{}
}

var (
	guardsMu sync.Mutex
	guards   = map[string]*Guard{}
)

// guardFor returns the process-wide guard for a lock file path, so every
// Driver pointed at the same store shares one in-process semaphore.
func guardFor(path string) *Guard {
	guardsMu.Lock()
	defer guardsMu.Unlock()

	if g, ok := guards[path]; ok {
		return g
	}
	g := &Guard{path: path, sem: make(chan struct{}, 1)}
	guards[path] = g
	return g
}

// Path returns the lock file location.
func (g *Guard) Path() string { return g.path }

// Acquire blocks until the lock is held or ctx is done. The returned release
// function is safe to call more than once.
func (g *Guard) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := os.MkdirAll(filepath.Dir(g.path), 0o770); err != nil {
		<-g.sem
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(g.path)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		<-g.sem
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("acquire global lock %s: %w", g.path, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = fl.Unlock()
			<-g.sem
		})
	}, nil
}

// Do runs fn while holding the lock.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
