package storage

import (
	"container/list"
	"sync"
)

// lru is a fixed-capacity least-recently-used cache safe for concurrent use.
type lru[K comparable, V any] struct {
	mu       sync.Mutex
	order    *list.List
	elements map[K]*list.Element
	cap      int
}

type lruEntry[K comparable, V any] struct {
	key K
	val V
}

func newLRU[K comparable, V any](capacity int) *lru[K, V] {
	return &lru[K, V]{
		order:    list.New(),
		elements: make(map[K]*list.Element),
		cap:      capacity,
	}
}

func (c *lru[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToBack(el)
	return el.Value.(*lruEntry[K, V]).val, true
}

func (c *lru[K, V]) Put(key K, val V) {
	if c.cap <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elements[key]; ok {
		el.Value.(*lruEntry[K, V]).val = val
		c.order.MoveToBack(el)
		return
	}
	if c.order.Len() >= c.cap {
		c.removeLeastRecentlyUsed()
	}
	c.elements[key] = c.order.PushBack(&lruEntry[K, V]{key: key, val: val})
}

func (c *lru[K, V]) removeLeastRecentlyUsed() {
	front := c.order.Front()
	if front == nil {
		return
	}
	delete(c.elements, front.Value.(*lruEntry[K, V]).key)
	c.order.Remove(front)
}

func (c *lru[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *lru[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.elements = make(map[K]*list.Element)
}
