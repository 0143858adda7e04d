package relation

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/coocood/freecache"
	"github.com/vmihailenco/msgpack/v5"

	"sqlprovider/internal/planner"
)

// MinCacheSize is the smallest store freecache accepts.
const MinCacheSize = 512 * 1024

// Cache memoizes the rows fetched for one relationship batch.
//
// An entry is keyed by the relationship type, the table queried, the column
// matched, the sorted set of key values and the compiled extra conditions. A
// lookup never crosses those boundaries: the same keys against a different
// table or condition miss. Entries expire after the TTL (zero keeps them
// until evicted) or when Clear is called. Writes made through the provider
// do not invalidate entries.
type Cache struct {
	store *freecache.Cache
	ttl   time.Duration
}

// NewCache creates a cache holding at most sizeBytes of encoded rows.
func NewCache(sizeBytes int, ttl time.Duration) *Cache {
	if sizeBytes < MinCacheSize {
		sizeBytes = MinCacheSize
	}
	return &Cache{store: freecache.NewCache(sizeBytes), ttl: ttl}
}

// Get returns the rows stored under key.
func (c *Cache) Get(key []byte) ([]map[string]interface{}, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.store.Get(key)
	if err != nil {
		return nil, false
	}
	var rows []map[string]interface{}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&rows); err != nil {
		c.store.Del(key)
		return nil, false
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return rows, true
}

// Set stores rows under key.
func (c *Cache) Set(key []byte, rows []map[string]interface{}) error {
	if c == nil {
		return nil
	}
	raw, err := msgpack.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode cached rows: %w", err)
	}
	return c.store.Set(key, raw, int(c.ttl.Seconds()))
}

// Clear drops every entry.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.store.Clear()
}

// Len reports the number of live entries.
func (c *Cache) Len() int64 {
	if c == nil {
		return 0
	}
	return c.store.EntryCount()
}

// CacheKey fingerprints one batch fetch. Key values are normalized and
// sorted so the order records arrive in does not matter.
func CacheKey(relType Type, table, column string, keys []interface{}, condition string) []byte {
	normalized := make([]string, len(keys))
	for i, k := range keys {
		normalized[i] = planner.KeyOf(k)
	}
	sort.Strings(normalized)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00", relType, table, column, len(normalized))
	for _, k := range normalized {
		fmt.Fprintf(h, "%s\x1f", k)
	}
	fmt.Fprintf(h, "\x00%s", condition)
	return h.Sum(nil)
}
