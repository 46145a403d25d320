package vfs

import (
	"fmt"

	commonutils "github.com/freeekanayaka/go-dqlite/internal/common_utils"
	"go.uber.org/zap"
)

// --- Shared-Memory Emulation (WAL-index) ---

const (
	// shmRegionSize is the size of one WAL-index region, fixed by the
	// engine's WAL-index format.
	shmRegionSize = 32768

	// shmLockCount is the width of the WAL-index advisory lock table.
	shmLockCount = 8
)

// sharedMemory emulates the shared-memory segment a database file exposes
// for WAL-index coordination. In a disk-backed deployment these regions
// would be OS shared memory between processes; here they are plain byte
// slices shared by all handles on one content. Access is guarded by the
// owning fileContent's mutex.
type sharedMemory struct {
	regions  [][]byte
	refcount int // handles that have mapped at least one region

	// Advisory lock table. A slot is either held exclusively by one
	// handle or shared by any number of them.
	shared    [shmLockCount]int
	exclusive [shmLockCount]*File
}

// shmMap returns the region at index region, allocating a zero-filled one
// when region is exactly the next unmapped index. Regions must be mapped in
// increasing order, matching the engine's incremental mapping pattern.
func (c *fileContent) shmMap(f *File, region int) ([]byte, error) {
	if c.kind != MainDatabase {
		return nil, fmt.Errorf("shm map on %q: not a database file: %w",
			c.filename, ErrInvariant)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shm == nil {
		c.shm = &sharedMemory{}
	}
	sm := c.shm
	switch {
	case region < 0 || region > len(sm.regions):
		return nil, fmt.Errorf("shm map on %q: region %d with %d mapped: %w",
			c.filename, region, len(sm.regions), ErrInvalidRegion)
	case region == len(sm.regions):
		sm.regions = append(sm.regions, make([]byte, shmRegionSize))
	}
	if !f.shmMapped {
		f.shmMapped = true
		sm.refcount++
	}
	return sm.regions[region], nil
}

// shmLock acquires advisory locks over the slot range [start, start+n) on
// behalf of handle f. It fails with ErrBusy, changing nothing, when any slot
// in the range is held incompatibly by another handle.
func (c *fileContent) shmLock(f *File, start, n int, exclusive bool) error {
	if start < 0 || n <= 0 || start+n > shmLockCount {
		return fmt.Errorf("shm lock on %q: slots [%d, %d): %w",
			c.filename, start, start+n, ErrInvalidRegion)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shm == nil {
		c.shm = &sharedMemory{}
	}
	sm := c.shm
	for i := start; i < start+n; i++ {
		if sm.exclusive[i] != nil && sm.exclusive[i] != f {
			f.logger.Debug("shm lock contention",
				zap.String("file", c.filename),
				zap.Int("slot", i),
				zap.Int64("goroutine", commonutils.GoID()))
			return fmt.Errorf("shm lock on %q: slot %d: %w", c.filename, i, ErrBusy)
		}
		if exclusive && sm.shared[i] > sharedHeld(f, i) {
			f.logger.Debug("shm lock contention",
				zap.String("file", c.filename),
				zap.Int("slot", i),
				zap.Int64("goroutine", commonutils.GoID()))
			return fmt.Errorf("shm lock on %q: slot %d: %w", c.filename, i, ErrBusy)
		}
	}
	for i := start; i < start+n; i++ {
		if exclusive {
			sm.exclusive[i] = f
			f.shmExclusive |= 1 << i
		} else if f.shmShared&(1<<i) == 0 {
			sm.shared[i]++
			f.shmShared |= 1 << i
		}
	}
	return nil
}

// shmUnlock releases handle f's locks over the slot range [start, start+n).
// Slots the handle does not hold are ignored.
func (c *fileContent) shmUnlock(f *File, start, n int, exclusive bool) error {
	if start < 0 || n <= 0 || start+n > shmLockCount {
		return fmt.Errorf("shm unlock on %q: slots [%d, %d): %w",
			c.filename, start, start+n, ErrInvalidRegion)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shm == nil {
		return nil
	}
	for i := start; i < start+n; i++ {
		c.releaseShmSlotLocked(f, i, exclusive)
	}
	return nil
}

// shmUnmapAll drops every region mapping and advisory lock held by a closing
// handle. When the last mapping handle detaches, the region array is freed.
func (c *fileContent) shmUnmapAll(f *File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shm == nil {
		return
	}
	for i := 0; i < shmLockCount; i++ {
		c.releaseShmSlotLocked(f, i, true)
		c.releaseShmSlotLocked(f, i, false)
	}
	if f.shmMapped {
		f.shmMapped = false
		c.shm.refcount--
		if c.shm.refcount == 0 {
			c.shm.regions = nil
		}
	}
}

// releaseShmSlotLocked clears handle f's hold on one lock slot, if any.
// Callers must hold mu.
func (c *fileContent) releaseShmSlotLocked(f *File, i int, exclusive bool) {
	sm := c.shm
	if exclusive {
		if sm.exclusive[i] == f {
			sm.exclusive[i] = nil
			f.shmExclusive &^= 1 << i
		}
		return
	}
	if f.shmShared&(1<<i) != 0 {
		sm.shared[i]--
		f.shmShared &^= 1 << i
	}
}

// sharedHeld reports how many of the shared holds on slot i belong to f.
func sharedHeld(f *File, i int) int {
	if f.shmShared&(1<<i) != 0 {
		return 1
	}
	return 0
}
