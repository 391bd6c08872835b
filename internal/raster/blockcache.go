package raster

import "sync"

// blockCache is a small thread-safe LRU of decoded blocks keyed by block index.
type blockCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[int]*block
	head       *block // most recently used
	tail       *block // least recently used
}

type block struct {
	index  int
	values []float64
	prev   *block
	next   *block
}

func newBlockCache(maxEntries int) *blockCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &blockCache{
		maxEntries: maxEntries,
		entries:    make(map[int]*block),
	}
}

func (c *blockCache) get(index int) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.entries[index]
	if !ok {
		return nil, false
	}
	c.moveToFront(b)
	return b.values, true
}

func (c *blockCache) put(index int, values []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.entries[index]; ok {
		b.values = values
		c.moveToFront(b)
		return
	}

	b := &block{index: index, values: values}
	c.entries[index] = b
	c.addToFront(b)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *blockCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *blockCache) moveToFront(b *block) {
	if b == c.head {
		return
	}
	c.unlink(b)
	c.addToFront(b)
}

func (c *blockCache) addToFront(b *block) {
	b.next = c.head
	b.prev = nil
	if c.head != nil {
		c.head.prev = b
	}
	c.head = b
	if c.tail == nil {
		c.tail = b
	}
}

func (c *blockCache) unlink(b *block) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		c.head = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		c.tail = b.prev
	}
}

func (c *blockCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.index)
	c.unlink(c.tail)
}
