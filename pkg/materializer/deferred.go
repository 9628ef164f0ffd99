package materializer

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	lru "github.com/hashicorp/golang-lru/v2"
)

// deferredCache holds zstd-compressed bytes for paths declared via
// DeclareWrite but not yet materialized: content is kept zstd-compressed
// in memory, bounded by an LRU, until the first Ensure actually needs the
// bytes on disk. Eviction under memory pressure is intentional: a path
// whose evicted entry is later demanded again is simply treated as if it
// had never been deferred — its entry's Method.Bytes, if still present, or
// a failed read is the caller's signal to re-declare.
type deferredCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, []byte]
	enc     *zstd.Encoder
}

func newDeferredCache(size int) (*deferredCache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &deferredCache{entries: cache, enc: enc}, nil
}

// put compresses raw and stores it under path, returning the compressed
// size.
func (c *deferredCache) put(path string, raw []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	compressed := c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	c.entries.Add(path, compressed)
	return len(compressed), nil
}

// get returns the decompressed bytes for path, if still cached.
func (c *deferredCache) get(path string) ([]byte, bool, error) {
	c.mu.Lock()
	compressed, ok := c.entries.Get(path)
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	r, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// drop evicts path's cached bytes, if any (called once a path is actually
// materialized or invalidated).
func (c *deferredCache) drop(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(path)
}
