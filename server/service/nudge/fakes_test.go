package nudge

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type fakeUsers struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	failures map[string]error
	pages    int
	pageErr  error
}

func newFakeUsers(profiles ...*Profile) *fakeUsers {
	u := &fakeUsers{profiles: make(map[string]*Profile), failures: make(map[string]error)}
	for _, p := range profiles {
		u.profiles[p.UserID] = p
	}
	return u
}

func (u *fakeUsers) GetProfile(_ context.Context, userID string) (*Profile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err, ok := u.failures[userID]; ok {
		return nil, err
	}
	p, ok := u.profiles[userID]
	if !ok {
		return nil, errors.Wrapf(ErrUserNotFound, "user %s", userID)
	}
	cp := *p
	return &cp, nil
}

func (u *fakeUsers) ListProfiles(_ context.Context, afterUserID string, limit int) ([]*Profile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pages++
	if u.pageErr != nil {
		return nil, u.pageErr
	}
	ids := make([]string, 0, len(u.profiles))
	for id := range u.profiles {
		if id > afterUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Profile, 0, len(ids))
	for _, id := range ids {
		cp := *u.profiles[id]
		out = append(out, &cp)
	}
	return out, nil
}

type fakeEngagement struct {
	mu        sync.Mutex
	clicks    []EngagementSample
	delivered []Outcome
}

func (e *fakeEngagement) RecentClickSamples(_ context.Context, userID string, _ time.Duration) ([]EngagementSample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []EngagementSample
	for _, c := range e.clicks {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *fakeEngagement) RecordDelivery(_ context.Context, _, _ string, outcome Outcome, _ time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delivered = append(e.delivered, outcome)
	return nil
}

type fakeGenerator struct {
	content *Content
	err     error
	calls   atomic.Int32
	params  map[string]any
	mu      sync.Mutex
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, params map[string]any) (*Content, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.params = params
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	if g.content == nil {
		return nil, nil
	}
	cp := *g.content
	return &cp, nil
}

// fakeChannel fails the first pushFailures push calls with pushErr.
type fakeChannel struct {
	pushFailures int32
	pushErr      error
	emailErr     error

	// When set, SendPush signals started and blocks until release is closed.
	started chan struct{}
	release chan struct{}

	pushCalls  atomic.Int32
	emailCalls atomic.Int32

	mu       sync.Mutex
	metadata []map[string]string
}

func (c *fakeChannel) SendPush(ctx context.Context, _, _, _ string, metadata map[string]string) error {
	n := c.pushCalls.Add(1)
	c.mu.Lock()
	c.metadata = append(c.metadata, metadata)
	c.mu.Unlock()

	if c.started != nil {
		c.started <- struct{}{}
		select {
		case <-c.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= c.pushFailures {
		if c.pushErr != nil {
			return c.pushErr
		}
		return errors.New("network error")
	}
	return nil
}

func (c *fakeChannel) SendEmail(_ context.Context, _, _, _ string) error {
	c.emailCalls.Add(1)
	return c.emailErr
}

type permanentErr struct{}

func (permanentErr) Error() string     { return "invalid device token" }
func (permanentErr) IsRetryable() bool { return false }

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func intPtr(v int) *int {
	return &v
}
