// Package cache holds the two caching tiers in front of the price store: a
// process-local LRU for hot keys and a Redis-backed store for computed
// analysis results.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/tgrady/market-risk-service/internal/models"
)

// TTLConfig maps each TTL class to its freshness window.
type TTLConfig struct {
	Live       time.Duration
	Historical time.Duration
	Analysis   time.Duration
}

// TTL returns the window for a class.
func (c TTLConfig) TTL(class models.TTLClass) time.Duration {
	switch class {
	case models.TTLLive:
		return c.Live
	case models.TTLHistorical:
		return c.Historical
	default:
		return c.Analysis
	}
}

type entry struct {
	key       string
	value     interface{}
	class     models.TTLClass
	fetchedAt time.Time
}

// Memory is a process-local LRU cache with lazy TTL expiry. It is a
// disposable copy of the persistent tier, never authoritative: eviction or
// restart loses nothing but latency.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	ttls       TTLConfig
	ll         *list.List
	items      map[string]*list.Element
	now        func() time.Time

	hits, misses int64
}

// NewMemory creates a bounded LRU. maxEntries <= 0 falls back to 1024.
func NewMemory(maxEntries int, ttls TTLConfig) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Memory{
		maxEntries: maxEntries,
		ttls:       ttls,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get returns the cached value if present and fresh. An expired entry is
// treated as absent and removed; expiry is only ever checked here, there is
// no background sweep.
func (m *Memory) Get(key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		m.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if m.now().Sub(e.fetchedAt) > m.ttls.TTL(e.class) {
		m.removeElement(el)
		m.misses++
		return nil, false
	}
	m.ll.MoveToFront(el)
	m.hits++
	return e.value, true
}

// Set stores a value under the given TTL class, evicting the least recently
// used entry when the cache is full.
func (m *Memory) Set(key string, value interface{}, class models.TTLClass) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.ll.MoveToFront(el)
		e := el.Value.(*entry)
		e.value = value
		e.class = class
		e.fetchedAt = m.now()
		return
	}
	el := m.ll.PushFront(&entry{key: key, value: value, class: class, fetchedAt: m.now()})
	m.items[key] = el
	if m.ll.Len() > m.maxEntries {
		if oldest := m.ll.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}
}

// Delete removes one key. Returns whether it was present.
func (m *Memory) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if ok {
		m.removeElement(el)
	}
	return ok
}

// DeletePrefix removes every key with the given prefix and returns the count.
// Keys embed the symbol, so per-symbol invalidation is a prefix sweep.
func (m *Memory) DeletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, el := range m.items {
		if strings.HasPrefix(key, prefix) {
			m.removeElement(el)
			removed++
		}
	}
	return removed
}

// Purge empties the cache and returns the number of entries dropped.
func (m *Memory) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.ll.Len()
	m.ll.Init()
	m.items = make(map[string]*list.Element)
	return n
}

// Len returns the current entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// Stats returns cumulative hit/miss counters.
func (m *Memory) Stats() (hits, misses int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

func (m *Memory) removeElement(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*entry).key)
}
