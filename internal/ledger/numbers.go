package ledger

import (
	"container/list"
	"sync"
)

// KnownNumbers is an LRU of transaction numbers already committed. It fronts the
// store's unique constraint so hot retries are rejected without a round trip;
// a miss proves nothing and the constraint stays authoritative.
type KnownNumbers struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewKnownNumbers(capacity int) *KnownNumbers {
	if capacity <= 0 {
		capacity = 1
	}
	return &KnownNumbers{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if number exists (promotes to front).
func (k *KnownNumbers) Contains(number string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	elem, exists := k.cache[number]
	if exists {
		k.lruList.MoveToFront(elem)
	}
	return exists
}

// Add inserts a number (or promotes it if present).
func (k *KnownNumbers) Add(number string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.add(number)
}

// Warm loads numbers oldest first, so the newest end up most recently used.
func (k *KnownNumbers) Warm(newestFirst []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := len(newestFirst) - 1; i >= 0; i-- {
		k.add(newestFirst[i])
	}
}

// Forget drops every entry. Used when the store is reset.
func (k *KnownNumbers) Forget() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cache = make(map[string]*list.Element, k.capacity)
	k.lruList.Init()
}

func (k *KnownNumbers) add(number string) {
	if elem, exists := k.cache[number]; exists {
		k.lruList.MoveToFront(elem)
		return
	}
	k.cache[number] = k.lruList.PushFront(number)

	if k.lruList.Len() > k.capacity {
		oldest := k.lruList.Back()
		k.lruList.Remove(oldest)
		delete(k.cache, oldest.Value.(string))
		k.evictions++
	}
}

func (k *KnownNumbers) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lruList.Len()
}

func (k *KnownNumbers) Evictions() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.evictions
}
