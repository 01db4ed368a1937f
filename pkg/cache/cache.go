// Package cache keeps encoded analysis reports between runs. Entries live in
// memory behind an LRU and, when a directory is configured, on disk as one
// msgpack file per key. An entry is only returned while the source it was
// built from hashes the same.
package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// Entry is one cached report
type Entry struct {
	Key       string    `msgpack:"key"`
	Hash      string    `msgpack:"hash"` // BLAKE3 of the source the data was built from
	CreatedAt time.Time `msgpack:"created_at"`
	Data      []byte    `msgpack:"data"`
}

// Options configures the cache.
type Options struct {
	// Dir holds one file per entry. Empty keeps entries in memory only.
	Dir string

	// MaxEntries bounds the in-memory entries.
	// 0 means unlimited.
	MaxEntries int

	// TTL expires entries older than this.
	// 0 means entries never expire.
	TTL time.Duration
}

// Stats counts cache traffic
type Stats struct {
	Hits   int
	Misses int
	Writes int
}

// Cache is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	opts  Options
	items map[string]*listItem
	lru   *list // most recent at front
	stats Stats
}

// listItem is an item in the doubly-linked list.
type listItem struct {
	Entry
	prev *listItem
	next *listItem
}

// list represents a doubly-linked list.
type list struct {
	head *listItem // most recently accessed
	tail *listItem // least recently accessed
	len  int
}

// moveToFront moves an item to the front (most recently used).
func (l *list) moveToFront(item *listItem) {
	if item == l.head {
		return
	}
	l.unlink(item)
	l.pushFront(item)
}

// unlink removes an item from wherever it sits.
func (l *list) unlink(item *listItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		l.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		l.tail = item.prev
	}
	item.prev, item.next = nil, nil
	l.len--
}

// pushFront adds an item to the front of the list.
func (l *list) pushFront(item *listItem) {
	item.next = l.head
	item.prev = nil
	if l.head != nil {
		l.head.prev = item
	}
	l.head = item
	if l.tail == nil {
		l.tail = item
	}
	l.len++
}

// New creates a cache, making Dir if needed.
func New(opts Options) (*Cache, error) {
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	return &Cache{
		opts:  opts,
		items: make(map[string]*listItem),
		lru:   &list{},
	}, nil
}

// HashBytes computes a BLAKE3 hash of data as a hex string.
func HashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Key derives an entry key from every input that shapes a report
func Key(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the data stored under key if it was built from a source with
// the given hash and has not expired.
func (c *Cache) Get(key, hash string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		entry, err := c.readEntry(key)
		if err != nil {
			c.stats.Misses++
			return nil, false
		}
		item = c.insert(entry)
	}

	if item.Hash != hash || c.expired(item.Entry) {
		c.remove(item)
		c.stats.Misses++
		return nil, false
	}
	c.lru.moveToFront(item)
	c.stats.Hits++
	return item.Data, true
}

// Set stores data built from a source with the given hash.
func (c *Cache) Set(key, hash string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{Key: key, Hash: hash, CreatedAt: time.Now(), Data: data}
	if item, ok := c.items[key]; ok {
		item.Entry = entry
		c.lru.moveToFront(item)
	} else {
		c.insert(entry)
	}
	c.stats.Writes++

	if c.opts.Dir == "" {
		return nil
	}
	encoded, err := msgpack.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := os.WriteFile(c.keyPath(key), encoded, 0644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Delete removes key from memory and disk.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.lru.unlink(item)
		delete(c.items, key)
	}
	if c.opts.Dir == "" {
		return nil
	}
	if err := os.Remove(c.keyPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes all entries.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*listItem)
	c.lru = &list{}
	if c.opts.Dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(c.opts.Dir, "*.msgpack"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the traffic counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) insert(entry Entry) *listItem {
	item := &listItem{Entry: entry}
	c.items[entry.Key] = item
	c.lru.pushFront(item)
	for c.opts.MaxEntries > 0 && c.lru.len > c.opts.MaxEntries {
		oldest := c.lru.tail
		c.lru.unlink(oldest)
		delete(c.items, oldest.Key)
	}
	return item
}

// remove drops a stale entry from memory and disk.
func (c *Cache) remove(item *listItem) {
	c.lru.unlink(item)
	delete(c.items, item.Key)
	if c.opts.Dir != "" {
		_ = os.Remove(c.keyPath(item.Key))
	}
}

func (c *Cache) expired(e Entry) bool {
	return c.opts.TTL > 0 && time.Since(e.CreatedAt) > c.opts.TTL
}

func (c *Cache) readEntry(key string) (Entry, error) {
	var entry Entry
	if c.opts.Dir == "" {
		return entry, os.ErrNotExist
	}
	data, err := os.ReadFile(c.keyPath(key))
	if err != nil {
		return entry, err
	}
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("decoding cache entry: %w", err)
	}
	if entry.Key != key {
		return entry, fmt.Errorf("cache entry holds key %s", entry.Key)
	}
	return entry, nil
}

// keyPath converts a key to a filesystem path.
func (c *Cache) keyPath(key string) string {
	hash := blake3.Sum256([]byte(key))
	return filepath.Join(c.opts.Dir, hex.EncodeToString(hash[:16])+".msgpack")
}
