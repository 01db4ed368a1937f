package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestCache_Basic(t *testing.T) {
	c := newCache(t, Options{})
	h := HashBytes([]byte("x = 1\n"))

	require.NoError(t, c.Set("a", h, []byte("report_a")))

	data, found := c.Get("a", h)
	require.True(t, found)
	assert.Equal(t, []byte("report_a"), data)

	_, found = c.Get("a", HashBytes([]byte("x = 2\n")))
	assert.False(t, found, "a changed source must miss")
	assert.Equal(t, 0, c.Len(), "stale entries are dropped")

	assert.Equal(t, Stats{Hits: 1, Misses: 1, Writes: 1}, c.Stats())
}

func TestCache_LRU_Eviction(t *testing.T) {
	c := newCache(t, Options{MaxEntries: 3})

	require.NoError(t, c.Set("a", "h", []byte("value_a")))
	require.NoError(t, c.Set("b", "h", []byte("value_b")))
	require.NoError(t, c.Set("c", "h", []byte("value_c")))

	// Access 'a' to make it most recently used
	c.Get("a", "h")

	// Add new item - should evict 'b' (least recently used)
	require.NoError(t, c.Set("d", "h", []byte("value_d")))

	assert.Equal(t, 3, c.Len())

	_, found := c.Get("b", "h")
	assert.False(t, found, "b should have been evicted")

	_, found = c.Get("a", "h")
	assert.True(t, found, "a should still be present")

	_, found = c.Get("d", "h")
	assert.True(t, found, "d should be present")
}

func TestCache_Persistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	first := newCache(t, Options{Dir: dir})
	require.NoError(t, first.Set("mod.py", "h1", []byte("payload")))

	matches, err := filepath.Glob(filepath.Join(dir, "*.msgpack"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	second := newCache(t, Options{Dir: dir})
	data, found := second.Get("mod.py", "h1")
	require.True(t, found)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, second.Delete("mod.py"))
	_, found = newCache(t, Options{Dir: dir}).Get("mod.py", "h1")
	assert.False(t, found)
	assert.NoError(t, second.Delete("mod.py"), "deleting a missing key is fine")
}

func TestCache_TTL(t *testing.T) {
	c := newCache(t, Options{TTL: time.Hour})
	require.NoError(t, c.Set("a", "h", []byte("v")))
	c.items["a"].CreatedAt = time.Now().Add(-2 * time.Hour)

	_, found := c.Get("a", "h")
	assert.False(t, found)
}

func TestCache_Clear(t *testing.T) {
	dir := t.TempDir()
	c := newCache(t, Options{Dir: dir})
	require.NoError(t, c.Set("a", "h", []byte("v")))
	require.NoError(t, c.Set("b", "h", []byte("v")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), nil, 0644))

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.txt", entries[0].Name())
}

func TestCache_CorruptFileMisses(t *testing.T) {
	dir := t.TempDir()
	c := newCache(t, Options{Dir: dir})
	require.NoError(t, os.WriteFile(c.keyPath("a"), []byte("not msgpack"), 0644))

	_, found := c.Get("a", "h")
	assert.False(t, found)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("a", "b"), Key("ab"))
	assert.NotEqual(t, Key("a", "b"), Key("b", "a"))
	assert.Len(t, Key("x"), 64)
}
