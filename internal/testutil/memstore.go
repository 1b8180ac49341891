// Package testutil provides in-process stand-ins for the hub's external
// collaborators: a KV store, a Lightning node and a BOLT11 invoice factory.
package testutil

import (
	"context"
	"errors"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"lnhub/pkg/kvstore"
)

var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

type memEntry struct {
	str     string
	list    []string
	isList  bool
	expires time.Time
}

// MemoryStore is an in-memory kvstore.Store with Redis semantics for the
// commands the hub uses, including TTLs against a controllable clock.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]*memEntry
	offset time.Duration

	// Fail, when set, is consulted before every operation; a non-nil error is returned as-is.
	Fail func(op, key string) error
}

var _ kvstore.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]*memEntry{}}
}

// Advance moves the store's clock forward so TTLs can be tested without sleeping.
func (m *MemoryStore) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset += d
}

func (m *MemoryStore) now() time.Time {
	return time.Now().Add(m.offset)
}

// entry returns the live entry for key, dropping it if expired. Caller holds mu.
func (m *MemoryStore) entry(key string) *memEntry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return nil
	}
	return e
}

func (m *MemoryStore) fail(op, key string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op, key)
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Get", key); err != nil {
		return "", err
	}

	e := m.entry(key)
	if e == nil {
		return "", nil
	}
	if e.isList {
		return "", ErrWrongType
	}
	return e.str, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Set", key); err != nil {
		return err
	}

	m.data[key] = &memEntry{str: value, expires: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SetNX", key); err != nil {
		return false, err
	}

	if m.entry(key) != nil {
		return false, nil
	}
	m.data[key] = &memEntry{str: value, expires: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, k := range keys {
		if err := m.fail("Delete", k); err != nil {
			return n, err
		}
		if m.entry(k) != nil {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Expire", key); err != nil {
		return err
	}

	if e := m.entry(key); e != nil {
		e.expires = m.expiry(ttl)
	}
	return nil
}

func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Incr", key); err != nil {
		return 0, err
	}

	e := m.entry(key)
	if e == nil {
		e = &memEntry{str: "0"}
		m.data[key] = e
	}
	if e.isList {
		return 0, ErrWrongType
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, errors.New("ERR value is not an integer or out of range")
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RPush", key); err != nil {
		return 0, err
	}

	e := m.entry(key)
	if e == nil {
		e = &memEntry{isList: true}
		m.data[key] = e
	}
	if !e.isList {
		return 0, ErrWrongType
	}
	e.list = append(e.list, values...)
	return int64(len(e.list)), nil
}

// LRange follows Redis index rules, including negative offsets from the end.
func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("LRange", key); err != nil {
		return nil, err
	}

	e := m.entry(key)
	if e == nil {
		return []string{}, nil
	}
	if !e.isList {
		return nil, ErrWrongType
	}

	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out, nil
}

func (m *MemoryStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Scan", pattern); err != nil {
		return nil, err
	}

	var keys []string
	for k := range m.data {
		if m.entry(k) == nil {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// TTL reports the remaining lifetime of key: -1 for no expiry, -2 if missing.
func (m *MemoryStore) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(key)
	switch {
	case e == nil:
		return -2
	case e.expires.IsZero():
		return -1
	default:
		return e.expires.Sub(m.now())
	}
}
