// Package cache implements the compiled-module cache: an LRU of
// already-decoded *wasm.Module keyed by a content hash of the raw bytes
// and the host's builtin name table, so a host that repeatedly instantiates the same module skips re-running
// the decoder. It is a pure performance layer; disabling it changes no
// observable behavior.
package cache

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/damus-io/nostrscript/internal/wasm"
)

// DefaultSize is the number of distinct modules kept resident when a host
// constructs a Cache with NewCache without specifying a size.
const DefaultSize = 32

// Cache memoizes wasm.Decode by a hash of the module bytes and the host's
// builtin name table: import resolution is baked into the decoded Module,
// so two hosts with different builtin tables must not share one entry.
// The zero value is not usable; construct with New or NewCache.
type Cache struct {
	modules *lru.Cache[[32]byte, *wasm.Module]
}

// New constructs a Cache holding at most size decoded modules, evicting the
// least recently used entry once full.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[[32]byte, *wasm.Module](size)
	if err != nil {
		return nil, err
	}
	return &Cache{modules: l}, nil
}

// NewCache is an alias for New(DefaultSize).
func NewCache() (*Cache, error) { return New(DefaultSize) }

// Decode returns the cached *wasm.Module for the (data, builtins) pair,
// decoding and inserting it on a miss. A Module is immutable once built
// and nothing downstream writes into it, so the returned pointer is safe
// to share across concurrently instantiated Interpreters.
func (c *Cache) Decode(data []byte, builtins []string) (*wasm.Module, error) {
	id := cacheKey(data, builtins)
	if m, ok := c.modules.Get(id); ok {
		return m, nil
	}
	m, err := wasm.Decode(data, builtins)
	if err != nil {
		return nil, err
	}
	c.modules.Add(id, m)
	return m, nil
}

func cacheKey(data []byte, builtins []string) [32]byte {
	h := sha256.New()
	h.Write(data)
	for _, name := range builtins {
		h.Write([]byte{0})
		h.Write([]byte(name))
	}
	var id [32]byte
	h.Sum(id[:0])
	return id
}

// Len reports the number of modules currently resident.
func (c *Cache) Len() int { return c.modules.Len() }

// Purge evicts every cached module.
func (c *Cache) Purge() { c.modules.Purge() }
