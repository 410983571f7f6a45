package nudge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Locker provides per-user mutual exclusion for dispatches.
//
// TryLock returns ok=false when the key is held elsewhere. The returned
// unlock must be called exactly once when ok is true.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

// NewMemoryLocker creates a MemoryLocker that waits up to wait for a held
// key to be released before reporting contention.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{}), wait: wait}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	var deadline <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		l.mu.Lock()
		released, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, true, nil
		}
		l.mu.Unlock()

		if deadline == nil {
			return nil, false, nil
		}
		select {
		case <-released:
		case <-deadline:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// LeaseStore persists expiring per-key leases shared across instances.
type LeaseStore interface {
	// TryAcquireLease takes the lease when it is free or expired.
	TryAcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, holder string) error
}

// LeaseLocker is a Locker backed by a LeaseStore, so concurrent dispatches
// for one user are excluded across processes. The TTL bounds how long a
// crashed holder blocks the user.
type LeaseLocker struct {
	leases LeaseStore
	holder string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger *slog.Logger
}

// NewLeaseLocker creates a LeaseLocker for one holder identity.
func NewLeaseLocker(leases LeaseStore, holder string, ttl, wait time.Duration) *LeaseLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &LeaseLocker{leases: leases, holder: holder, ttl: ttl, wait: wait, poll: 50 * time.Millisecond, logger: slog.Default()}
}

// WithLogger sets the logger that reports failed releases.
func (l *LeaseLocker) WithLogger(logger *slog.Logger) *LeaseLocker {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *LeaseLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	// Each acquisition gets its own token so two dispatches in one process
	// exclude each other too.
	token := l.holder + "/" + uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.leases.TryAcquireLease(ctx, key, token, l.ttl)
		if err != nil {
			return nil, false, errors.Wrapf(err, "failed to acquire lease for %s", key)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release must run even when the dispatch context is gone.
					rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					if err := l.leases.ReleaseLease(rctx, key, token); err != nil {
						// The lease stays held until its TTL runs out.
						l.logger.Error("failed to release dispatch lease",
							"key", key,
							"holder", token,
							"ttl", l.ttl,
							"error", err,
						)
					}
				})
			}, true, nil
		}
		if l.wait <= 0 || time.Now().After(deadline) {
			return nil, false, nil
		}
		select {
		case <-time.After(l.poll):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
