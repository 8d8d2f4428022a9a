package pipeline

import (
	"sync"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// positionCache is a thread-safe LRU of the last frame seen per sonde.
type positionCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.TelemetryEvent
	prev  *entry
	next  *entry
}

func newPositionCache(maxEntries int) *positionCache {
	return &positionCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *positionCache) get(serial string) (domain.TelemetryEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[serial]
	if !ok {
		return domain.TelemetryEvent{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

// put stores the frame unless an entry with a later timestamp is already
// cached, so a late frame cannot rewind the reference point.
func (c *positionCache) put(serial string, value domain.TelemetryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[serial]; ok {
		if !value.Timestamp.Before(e.value.Timestamp) {
			e.value = value
		}
		c.moveToFront(e)
		return
	}

	e := &entry{key: serial, value: value}
	c.entries[serial] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *positionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *positionCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *positionCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *positionCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *positionCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
