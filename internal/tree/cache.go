package tree

import (
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultCacheCapacity bounds the number of memoised node values.
const DefaultCacheCapacity = 10000

type cacheKey struct {
	node        NodeID
	output      int
	fingerprint uint64
}

type cacheEntry struct {
	assignment string
	value      float64
}

// EvalCache memoises node values per output and variable assignment. Lookups
// are keyed by a fingerprint of the assignment but only hit when the full
// canonical assignment matches, so fingerprint collisions cost a recompute
// rather than a stale value. Once the cache holds its capacity, further values
// are computed but not stored.
type EvalCache struct {
	capacity int
	entries  map[cacheKey]cacheEntry
	version  uint64

	fingerprint uint64
	assignment  string
	hashValid   bool

	hits   int
	misses int
}

func NewEvalCache(capacity int) *EvalCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &EvalCache{
		capacity: capacity,
		entries:  make(map[cacheKey]cacheEntry),
	}
}

// Clear drops every entry and forgets the bound assignment.
func (c *EvalCache) Clear() {
	c.entries = make(map[cacheKey]cacheEntry)
	c.fingerprint = 0
	c.assignment = ""
	c.hashValid = false
	c.hits = 0
	c.misses = 0
}

func (c *EvalCache) Size() int {
	return len(c.entries)
}

func (c *EvalCache) Capacity() int {
	return c.capacity
}

// HashValid reports whether a variable assignment fingerprint is bound.
func (c *EvalCache) HashValid() bool {
	return c.hashValid
}

// Stats returns hit and miss counts since the last Clear.
func (c *EvalCache) Stats() (hits, misses int) {
	return c.hits, c.misses
}

func (c *EvalCache) bind(vars map[string]float64) {
	c.assignment = canonicalAssignment(vars)
	h := fnv.New64a()
	_, _ = h.Write([]byte(c.assignment))
	c.fingerprint = h.Sum64()
	c.hashValid = true
}

func (c *EvalCache) lookup(node NodeID, output int) (float64, bool) {
	entry, ok := c.entries[cacheKey{node: node, output: output, fingerprint: c.fingerprint}]
	if !ok || entry.assignment != c.assignment {
		c.misses++
		return 0, false
	}
	c.hits++
	return entry.value, true
}

func (c *EvalCache) store(node NodeID, output int, value float64) {
	key := cacheKey{node: node, output: output, fingerprint: c.fingerprint}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		return
	}
	c.entries[key] = cacheEntry{assignment: c.assignment, value: value}
}

func canonicalAssignment(vars map[string]float64) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(strconv.Quote(name))
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(math.Float64bits(vars[name]), 16))
		b.WriteByte(';')
	}
	return b.String()
}
