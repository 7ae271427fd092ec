// ABOUTME: In-memory Store implementation used in tests and single-node runs.
// ABOUTME: Mirrors the Redis semantics including TTL expiry and list operations.

package store

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// entry holds either a string value or a list, plus an optional expiry.
type entry struct {
	value   string
	list    []string
	isList  bool
	expires time.Time // zero means no expiry
}

// MemStore is a thread-safe, in-process Store with lazy TTL expiry. It exists
// for tests and for running the gateway without an external store; multiple
// gateway instances cannot share it.
type MemStore struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time
}

// NewMemStore creates an empty MemStore using the wall clock.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

// SetClock replaces the store's time source. Tests use this to step past
// window and retention TTLs without sleeping.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// live returns the entry at key if it exists and has not expired. Expired
// entries are deleted on access. Must be called with mu held.
func (s *MemStore) live(key string) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

func (s *MemStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok || e.isList {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *MemStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	e := &entry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.data[key] = e
	return true, nil
}

func (s *MemStore) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(key, n)
}

func (s *MemStore) DecrBy(_ context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(key, -n)
}

// addLocked applies an increment, creating the key at zero like Redis does.
// Must be called with mu held.
func (s *MemStore) addLocked(key string, n int64) (int64, error) {
	e, ok := s.live(key)
	if !ok {
		e = &entry{}
		s.data[key] = e
	}
	cur, _ := strconv.ParseInt(e.value, 10, 64)
	cur += n
	e.value = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *MemStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return ErrNotFound
	}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	} else {
		e.expires = time.Time{}
	}
	return nil
}

func (s *MemStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return 0, ErrNotFound
	}
	if e.expires.IsZero() {
		return 0, nil
	}
	return e.expires.Sub(s.now()), nil
}

func (s *MemStore) LPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.listLocked(key)
	for _, v := range values {
		e.list = append([]string{v}, e.list...)
	}
	return nil
}

func (s *MemStore) RPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.listLocked(key)
	e.list = append(e.list, values...)
	return nil
}

// listLocked returns the live list entry at key, creating it if needed.
// Must be called with mu held.
func (s *MemStore) listLocked(key string) *entry {
	e, ok := s.live(key)
	if !ok {
		e = &entry{isList: true}
		s.data[key] = e
	}
	return e
}

func (s *MemStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil
	}
	lo, hi := normalizeRange(start, stop, int64(len(e.list)))
	if lo > hi {
		e.list = nil
		return nil
	}
	e.list = e.list[lo : hi+1]
	return nil
}

func (s *MemStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, nil
	}
	lo, hi := normalizeRange(start, stop, int64(len(e.list)))
	if lo > hi {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, e.list[lo:hi+1])
	return out, nil
}

func (s *MemStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return 0, nil
	}
	return int64(len(e.list)), nil
}

func (s *MemStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *MemStore) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.data {
		if _, ok := s.live(k); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemStore) Close() error {
	return nil
}

// normalizeRange converts a Redis-style inclusive range (with negative
// indexes counting from the tail) into clamped slice bounds.
func normalizeRange(start, stop, length int64) (int64, int64) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}
