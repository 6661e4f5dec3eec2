package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

// Memory is an in-process Service for tests and the demo mode. Expiry
// is evaluated lazily against the injected clock on every access.
type Memory struct {
	clk clock.Clock

	mu    sync.Mutex
	locks map[string]*memLock
}

type memLock struct {
	owner    string
	token    string
	deadline time.Time
}

// NewMemory creates an in-process lock service.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{clk: clk, locks: make(map[string]*memLock)}
}

// live returns the lock for key if it has not expired, pruning it
// otherwise. Caller holds mu.
func (m *Memory) live(key string) *memLock {
	l, ok := m.locks[key]
	if !ok {
		return nil
	}
	if m.clk.Now().After(l.deadline) {
		delete(m.locks, key)
		return nil
	}
	return l
}

// Acquire implements Service.
func (m *Memory) Acquire(_ context.Context, key, owner string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.live(key); l != nil && l.owner != owner {
		return "", fmt.Errorf("%w: %s", ErrHeld, l.owner)
	}
	token := uuid.NewString()
	m.locks[key] = &memLock{owner: owner, token: token, deadline: m.clk.Now().Add(ttl)}
	return token, nil
}

// Refresh implements Service.
func (m *Memory) Refresh(_ context.Context, key, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.live(key)
	if l == nil {
		return ErrNotHeld
	}
	if l.owner != owner {
		return fmt.Errorf("%w: %s", ErrHeld, l.owner)
	}
	l.deadline = m.clk.Now().Add(ttl)
	return nil
}

// Verify implements Service.
func (m *Memory) Verify(_ context.Context, key, owner, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.live(key)
	if l == nil {
		return ErrNotHeld
	}
	if l.owner != owner {
		return fmt.Errorf("%w: %s", ErrHeld, l.owner)
	}
	if l.token != token {
		return ErrNotHeld
	}
	return nil
}

// Release implements Service.
func (m *Memory) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.live(key); l != nil && l.owner == owner {
		delete(m.locks, key)
	}
	return nil
}

// Inspect implements Service.
func (m *Memory) Inspect(_ context.Context, key string) (Holder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.live(key)
	if l == nil {
		return Holder{}, false, nil
	}
	return Holder{Owner: l.owner, Token: l.token}, true, nil
}
