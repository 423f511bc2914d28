package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoKeys is returned when Lock is called without keys.
var ErrNoKeys = errors.New("lock: no keys")

// Locker serializes work on named resources such as an order id.
// Lock blocks until every key is held or ctx is done; the returned
// function releases them all.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// normalize sorts and de-duplicates keys so two callers locking the same
// set always acquire in the same order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Local is an in-process Locker backed by one channel mutex per key. A
// key's slot lives only while someone holds or waits on it.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) acquire(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	held := make([]*slot, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			l.drop(keys[i], held[i])
		}
	}

	for _, k := range keys {
		s := l.acquire(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, s)
		case <-ctx.Done():
			l.drop(k, s)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

var _ Locker = (*Local)(nil)
