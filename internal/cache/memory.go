package cache

import (
	"container/list"
	"sync"
)

// memoryCache is the in-memory LRU front. It holds decoded artifacts so
// hot segments replay without touching disk.
type memoryCache struct {
	mu        sync.Mutex
	items     map[string]*list.Element
	lru       *list.List
	size      int64
	sizeLimit int64
}

type memoryEntry struct {
	key  string
	art  *Artifact
	size int64
}

func newMemoryCache(sizeLimit int64) *memoryCache {
	return &memoryCache{
		items:     make(map[string]*list.Element),
		lru:       list.New(),
		sizeLimit: sizeLimit,
	}
}

func (mc *memoryCache) get(key string) (*Artifact, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	elem, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	mc.lru.MoveToFront(elem)
	return elem.Value.(*memoryEntry).art, true
}

func (mc *memoryCache) put(key string, art *Artifact) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	size := int64(len(art.Data)) + 256 // metadata overhead
	if elem, ok := mc.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		mc.size += size - entry.size
		entry.art = art
		entry.size = size
		mc.lru.MoveToFront(elem)
		return
	}

	for mc.size+size > mc.sizeLimit && mc.lru.Len() > 0 {
		mc.removeElement(mc.lru.Back())
	}

	elem := mc.lru.PushFront(&memoryEntry{key: key, art: art, size: size})
	mc.items[key] = elem
	mc.size += size
}

func (mc *memoryCache) delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if elem, ok := mc.items[key]; ok {
		mc.removeElement(elem)
	}
}

func (mc *memoryCache) clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.items = make(map[string]*list.Element)
	mc.lru.Init()
	mc.size = 0
}

// evictExpiredKeys drops entries whose disk counterpart is gone, so the
// memory front never resurrects an evicted key.
func (mc *memoryCache) evictExpiredKeys(onDisk func(key string) bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for elem := mc.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if !onDisk(elem.Value.(*memoryEntry).key) {
			mc.removeElement(elem)
		}
		elem = prev
	}
}

// removeElement must be called with the lock held.
func (mc *memoryCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(mc.items, entry.key)
	mc.lru.Remove(elem)
	mc.size -= entry.size
}
