package mcts

import (
	"sync"
	"sync/atomic"
	"time"
)

const chunkEntryCount = 8

type cacheEntry struct {
	key       uint64
	value     float32
	moveCount int32
	priors    []float32
}

// PredictionCacheChunk is the unit of cache synchronization: a handful of
// entries behind one mutex, selected by key. A simulation that misses keeps
// the chunk pointer across its network round-trip so the store lands without
// a second hash.
type PredictionCacheChunk struct {
	mu         sync.Mutex
	entries    [chunkEntryCount]cacheEntry
	nextVictim int32
}

// Put records a prediction, evicting round-robin within the chunk. The
// priors slice is retained, so callers must pass an owned copy.
func (c *PredictionCacheChunk) Put(key uint64, value float32, priors []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].key == key {
			c.entries[i].value = value
			c.entries[i].moveCount = int32(len(priors))
			c.entries[i].priors = priors
			return
		}
	}
	victim := c.nextVictim
	c.nextVictim = (c.nextVictim + 1) % chunkEntryCount
	c.entries[victim] = cacheEntry{
		key:       key,
		value:     value,
		moveCount: int32(len(priors)),
		priors:    priors,
	}
}

func (c *PredictionCacheChunk) get(key uint64, moveCount int) (float32, []float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		entry := &c.entries[i]
		if entry.key != key || entry.priors == nil {
			continue
		}
		// A full-key collision across different positions shows up as a
		// move-count mismatch; treat it as a miss and let the caller
		// overwrite.
		if int(entry.moveCount) != moveCount {
			return 0, nil, false
		}
		return entry.value, entry.priors, true
	}
	return 0, nil, false
}

func (c *PredictionCacheChunk) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = [chunkEntryCount]cacheEntry{}
	c.nextVictim = 0
}

// PredictionCache memoizes network evaluations across games and workers,
// keyed by position hash. It is bounded: chunk count is fixed at
// construction and eviction is local to each chunk, so memory never grows
// with the number of distinct positions seen.
type PredictionCache struct {
	chunks []PredictionCacheChunk

	// atomic counters
	hits   int64
	misses int64
	puts   int64
}

func NewPredictionCache(chunkCount int) *PredictionCache {
	if chunkCount < 1 {
		chunkCount = 1
	}
	return &PredictionCache{chunks: make([]PredictionCacheChunk, chunkCount)}
}

// TryGetPrediction looks the position up and always returns the owning chunk
// so a miss can later store into it without rehashing.
func (p *PredictionCache) TryGetPrediction(key uint64, moveCount int) (*PredictionCacheChunk, float32, []float32, bool) {
	chunk := &p.chunks[key%uint64(len(p.chunks))]
	value, priors, ok := chunk.get(key, moveCount)
	if ok {
		atomic.AddInt64(&p.hits, 1)
	} else {
		atomic.AddInt64(&p.misses, 1)
	}
	return chunk, value, priors, ok
}

func (p *PredictionCache) CountPut() { atomic.AddInt64(&p.puts, 1) }

// Full reports whether enough stores have accumulated to plausibly have
// cycled the whole cache; the caller pairs it with a throttle before
// resetting.
func (p *PredictionCache) Full() bool {
	capacity := int64(len(p.chunks) * chunkEntryCount)
	return atomic.LoadInt64(&p.puts) >= capacity
}

// Reset drops every entry. Safe to run concurrently with lookups; racing
// simulations just see misses.
func (p *PredictionCache) Reset() {
	for i := range p.chunks {
		p.chunks[i].clear()
	}
	atomic.StoreInt64(&p.puts, 0)
}

func (p *PredictionCache) Hits() int64   { return atomic.LoadInt64(&p.hits) }
func (p *PredictionCache) Misses() int64 { return atomic.LoadInt64(&p.misses) }

// Throttle rate-limits an operation to once per interval across goroutines.
type Throttle struct {
	interval time.Duration

	// atomic, unix nanos of the last firing
	last int64
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// TryFire reports whether the caller won the right to perform the throttled
// operation now.
func (t *Throttle) TryFire() bool {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&t.last)
	if now-last < int64(t.interval) {
		return false
	}
	return atomic.CompareAndSwapInt64(&t.last, last, now)
}
