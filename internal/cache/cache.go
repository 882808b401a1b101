// Package cache implements a fixed capacity LRU over an arena of slots.
//
// Entries live in a slice and are linked through slot indices, the most
// recently used entry at the head. The cache is not safe for concurrent use;
// the owner serializes access.
package cache

const nilSlot = -1

type slot[K comparable, V any] struct {
	key   K
	value V
	prev  int
	next  int
}

// Cache maps keys to values and drops the least recently used entry when a
// new key does not fit.
type Cache[K comparable, V any] struct {
	capacity int
	slots    []slot[K, V]
	free     []int
	index    map[K]int
	head     int
	tail     int

	onEvict func(K, V)
	metrics Metrics
}

// New returns a cache holding up to capacity entries. onEvict, when set, is
// called for every entry dropped by Put or SetCapacity. name labels the
// metrics of this cache.
func New[K comparable, V any](name string, capacity int, onEvict func(K, V)) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache[K, V]{
		capacity: capacity,
		index:    make(map[K]int, capacity),
		head:     nilSlot,
		tail:     nilSlot,
		onEvict:  onEvict,
		metrics:  newMetrics(name),
	}
	return c
}

func (c *Cache[K, V]) Metrics() Metrics {
	return c.metrics
}

func (c *Cache[K, V]) Len() int {
	return len(c.index)
}

func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Changes the capacity, evicting from the tail when it shrinks
func (c *Cache[K, V]) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	c.capacity = capacity
	for len(c.index) > c.capacity {
		c.evict()
	}
}

// Returns the value of key and marks it most recently used
func (c *Cache[K, V]) Get(key K) (V, bool) {
	i, ok := c.index[key]
	if !ok {
		c.metrics.Misses.Inc()
		var zero V
		return zero, false
	}
	c.metrics.Hits.Inc()
	c.moveToFront(i)
	return c.slots[i].value, true
}

// Returns the value of key without touching the recency order or metrics
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	i, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return c.slots[i].value, true
}

func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.index[key]
	return ok
}

// Marks key most recently used. Returns false when key is not resident.
func (c *Cache[K, V]) Touch(key K) bool {
	i, ok := c.index[key]
	if ok {
		c.moveToFront(i)
	}
	return ok
}

// Stores value under key as the most recently used entry, evicting the least
// recently used entry when the cache is full
func (c *Cache[K, V]) Put(key K, value V) {
	if i, ok := c.index[key]; ok {
		c.slots[i].value = value
		c.moveToFront(i)
		return
	}
	if len(c.index) >= c.capacity {
		c.evict()
	}

	var i int
	if n := len(c.free); n > 0 {
		i = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		c.slots = append(c.slots, slot[K, V]{})
		i = len(c.slots) - 1
	}
	c.slots[i] = slot[K, V]{key: key, value: value, prev: nilSlot, next: nilSlot}
	c.index[key] = i
	c.pushFront(i)
	c.metrics.Resident.Set(float64(len(c.index)))
}

// Removes key without calling the eviction callback
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	i, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	v := c.slots[i].value
	c.release(i)
	return v, true
}

// Drops every entry without calling the eviction callback
func (c *Cache[K, V]) Clear() {
	c.slots = c.slots[:0]
	c.free = c.free[:0]
	clear(c.index)
	c.head, c.tail = nilSlot, nilSlot
	c.metrics.Resident.Set(0)
}

// Calls fn for entries from the most to the least recently used until fn
// returns false
func (c *Cache[K, V]) Each(fn func(K, V) bool) {
	for i := c.head; i != nilSlot; i = c.slots[i].next {
		if !fn(c.slots[i].key, c.slots[i].value) {
			return
		}
	}
}

// Keys from the most to the least recently used
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.index))
	c.Each(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func (c *Cache[K, V]) evict() {
	i := c.tail
	if i == nilSlot {
		return
	}
	k, v := c.slots[i].key, c.slots[i].value
	c.release(i)
	c.metrics.Evictions.Inc()
	if c.onEvict != nil {
		c.onEvict(k, v)
	}
}

func (c *Cache[K, V]) release(i int) {
	c.unlink(i)
	delete(c.index, c.slots[i].key)
	c.slots[i] = slot[K, V]{prev: nilSlot, next: nilSlot}
	c.free = append(c.free, i)
	c.metrics.Resident.Set(float64(len(c.index)))
}

func (c *Cache[K, V]) moveToFront(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.pushFront(i)
}

func (c *Cache[K, V]) pushFront(i int) {
	s := &c.slots[i]
	s.prev = nilSlot
	s.next = c.head
	if c.head != nilSlot {
		c.slots[c.head].prev = i
	}
	c.head = i
	if c.tail == nilSlot {
		c.tail = i
	}
}

func (c *Cache[K, V]) unlink(i int) {
	s := &c.slots[i]
	if s.prev != nilSlot {
		c.slots[s.prev].next = s.next
	} else {
		c.head = s.next
	}
	if s.next != nilSlot {
		c.slots[s.next].prev = s.prev
	} else {
		c.tail = s.prev
	}
	s.prev, s.next = nilSlot, nilSlot
}
