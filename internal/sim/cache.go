package sim

const (
	cacheLineWords = 16 // 64-byte lines
	cacheLines     = 32
)

type cacheLine struct {
	start  uint32
	valid  bool
	data   [cacheLineWords]uint32
	useSeq uint32
}

// Cache is the flash read cache with prefetch. Lines are replaced least
// recently used first.
type Cache struct {
	enabled  bool
	prefetch bool
	lines    []cacheLine
	mruIdx   int
	seq      uint32

	Hits   uint64
	Misses uint64
}

func newCache() *Cache {
	return &Cache{
		lines: make([]cacheLine, cacheLines),
		seq:   1,
	}
}

// EnablePrefetch turns on the prefetch buffer.
func (c *Cache) EnablePrefetch() { c.prefetch = true }

// EnableCache turns on the cache.
func (c *Cache) EnableCache() { c.enabled = true }

// DisableCache turns off the cache. Lines stay loaded until reset.
func (c *Cache) DisableCache() { c.enabled = false }

// ResetCache invalidates every line. As on the hardware it only takes effect
// while the cache is disabled.
func (c *Cache) ResetCache() {
	if c.enabled {
		return
	}
	c.invalidateAll()
}

// Enabled returns true while the cache is on.
func (c *Cache) Enabled() bool { return c.enabled }

func (c *Cache) invalidateAll() {
	for i := range c.lines {
		c.lines[i].valid = false
		c.lines[i].useSeq = 0
	}
	c.mruIdx = 0
}

func (c *Cache) find(addr uint32) (int, bool) {
	start := addr &^ (cacheLineWords*4 - 1)
	if l := &c.lines[c.mruIdx]; l.valid && l.start == start {
		return c.mruIdx, true
	}
	for i := range c.lines {
		if c.lines[i].valid && c.lines[i].start == start {
			return i, true
		}
	}
	return -1, false
}

func (c *Cache) nextLine() int {
	for i := range c.lines {
		if c.lines[i].useSeq == 0 {
			return i
		}
	}
	oldest := c.mruIdx
	for i := range c.lines {
		if c.lines[i].useSeq < c.lines[oldest].useSeq {
			oldest = i
		}
	}
	return oldest
}

// read returns the word at addr, filling the line from fill on a miss.
func (c *Cache) read(addr uint32, fill func(addr uint32) uint32) uint32 {
	if !c.enabled {
		return fill(addr)
	}
	idx, ok := c.find(addr)
	if ok {
		c.Hits++
	} else {
		c.Misses++
		idx = c.nextLine()
		l := &c.lines[idx]
		l.start = addr &^ (cacheLineWords*4 - 1)
		for i := range l.data {
			l.data[i] = fill(l.start + uint32(i)*4)
		}
		l.valid = true
	}
	l := &c.lines[idx]
	l.useSeq = c.seq
	c.seq++
	c.mruIdx = idx
	return l.data[(addr-l.start)/4]
}

// update writes v through to a loaded line holding addr.
func (c *Cache) update(addr, v uint32) {
	if idx, ok := c.find(addr); ok {
		l := &c.lines[idx]
		l.data[(addr-l.start)/4] = v
	}
}
