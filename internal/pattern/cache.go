package pattern

import (
	"fmt"

	"memdiag/internal/diag"
	"memdiag/internal/memwin"
)

// FlashController is the flash programming interface used by the cache test.
type FlashController interface {
	Unlock() error
	Lock()
	// ErasePage erases one page. On failure the failing page is returned
	// with the error.
	ErasePage(page uint32) (uint32, error)
	ProgramDoubleWord(addr uint32, data uint64) error
	// PageOf returns the page number containing addr.
	PageOf(addr uint32) (uint32, error)
}

// Cache controls the flash instruction/data cache and prefetch.
type Cache interface {
	EnablePrefetch()
	EnableCache()
	DisableCache()
	ResetCache()
}

// CacheResult is the outcome of one cache coherency test.
type CacheResult struct {
	Errors            uint32
	TransactionFailed bool
	Cached            uint32
	Direct            uint32
}

// CachePattern is the value programmed by the cache test during cycle.
func CachePattern(cycle uint32) uint32 {
	return Checkerboard1 ^ cycle
}

// CacheTest checks that a cached flash read and an uncached re-read observe
// the value just programmed at addr. The page holding addr is erased and the
// pattern programmed as a double word; the value is read once through the
// cache, the cache is disabled, reset and re-enabled, and the value is read
// again. Flash is locked again before return whatever happens.
//
// An erase or program failure is a transaction failure and ends the test
// with no data comparison. Otherwise each read that disagrees with the
// pattern counts as one error.
func CacheTest(mem memwin.Memory, fl FlashController, c Cache, addr, cycle uint32, rep Reporter) (CacheResult, error) {
	var res CacheResult

	w, err := memwin.New(mem, addr, 2*memwin.WordSize)
	if err != nil {
		return res, err
	}
	page, err := fl.PageOf(addr)
	if err != nil {
		return res, err
	}

	c.EnablePrefetch()
	c.EnableCache()

	if err := fl.Unlock(); err != nil {
		return res, fmt.Errorf("cache test: unlock: %w", err)
	}
	defer fl.Lock()

	if failing, err := fl.ErasePage(page); err != nil {
		res.TransactionFailed = true
		rep.TransactionFailure(fmt.Sprintf("erase page %d", failing), addr, err)
		return res, nil
	}

	pat := CachePattern(cycle)
	if err := fl.ProgramDoubleWord(addr, uint64(pat)); err != nil {
		res.TransactionFailed = true
		rep.TransactionFailure("program", addr, err)
		return res, nil
	}

	res.Cached = w.Read(0)

	c.DisableCache()
	c.ResetCache()
	c.EnableCache()

	res.Direct = w.Read(0)

	if res.Cached != pat {
		res.Errors++
		rep.Mismatch(Mismatch{Test: diag.AlgCache, Phase: "cached", Addr: addr, Observed: res.Cached, Expected: pat})
	}
	if res.Direct != pat {
		res.Errors++
		rep.Mismatch(Mismatch{Test: diag.AlgCache, Phase: "direct", Addr: addr, Observed: res.Direct, Expected: pat})
	}
	return res, nil
}
