package vfs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LockLevel is one of the engine's five advisory file-lock levels.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// File is one open instance of a file: a lightweight handle binding the
// engine's file-interface calls to the shared content it was opened against.
// Multiple handles may be open on the same content at once; they all observe
// the same pages. A File is not safe for concurrent use by multiple
// goroutines, matching the engine's one-connection-per-handle usage, but
// distinct handles may be used concurrently.
type File struct {
	id       uuid.UUID
	registry *Registry
	content  *fileContent
	logger   *zap.Logger

	lockLevel LockLevel

	// WAL-index state, owned by this handle.
	shmMapped    bool
	shmShared    uint16
	shmExclusive uint16

	closed bool
}

// ID returns the handle's unique identity, used for lock ownership
// diagnostics.
func (f *File) ID() uuid.UUID { return f.id }

// Filename returns the name the handle was opened against.
func (f *File) Filename() string { return f.content.filename }

// Kind returns the content kind of the underlying file.
func (f *File) Kind() FileKind { return f.content.kind }

// ReadAt implements io.ReaderAt against the file content. Reads entirely
// past the end of the file zero-fill p and succeed; reads straddling the end
// return the available bytes and ErrShortRead.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.content.readAt(p, off)
	f.registry.metrics.reads.Add(context.Background(), 1)
	return n, f.registry.observe(err)
}

// WriteAt implements io.WriterAt against the file content.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.content.writeAt(p, off)
	f.registry.metrics.writes.Add(context.Background(), 1)
	return n, f.registry.observe(err)
}

// Truncate shrinks the file to size bytes.
func (f *File) Truncate(size int64) error {
	return f.registry.observe(f.content.truncate(size))
}

// Sync is a no-op: memory is always as durable as it gets within the
// process lifetime.
func (f *File) Sync() error { return nil }

// Size returns the current file size in bytes.
func (f *File) Size() (int64, error) { return f.content.size(), nil }

// Lock upgrades the handle's advisory file lock to level. It fails with
// ErrBusy when another handle holds an incompatible lock; the engine retries
// on ErrBusy.
func (f *File) Lock(level LockLevel) error {
	return f.registry.observe(f.lock(level))
}

func (f *File) lock(level LockLevel) error {
	if level <= f.lockLevel {
		return nil
	}
	c := f.content
	c.mu.Lock()
	defer c.mu.Unlock()
	lk := &c.locks

	if level > LockShared && f.lockLevel < LockShared {
		return fmt.Errorf("lock %q: no shared lock held: %w", c.filename, ErrInvariant)
	}
	switch level {
	case LockShared:
		if lk.pending || lk.exclusive {
			return fmt.Errorf("lock %q shared: %w", c.filename, ErrBusy)
		}
		lk.shared++
	case LockReserved:
		if lk.reserved || lk.pending || lk.exclusive {
			return fmt.Errorf("lock %q reserved: %w", c.filename, ErrBusy)
		}
		lk.reserved = true
	case LockPending, LockExclusive:
		if (lk.reserved && f.lockLevel < LockReserved) ||
			(lk.pending && f.lockLevel < LockPending) || lk.exclusive {
			return fmt.Errorf("lock %q: %w", c.filename, ErrBusy)
		}
		lk.pending = true
		if level == LockExclusive {
			if lk.shared > 1 {
				// Other handles still hold shared locks; stay pending.
				f.lockLevel = LockPending
				return fmt.Errorf("lock %q exclusive: %w", c.filename, ErrBusy)
			}
			lk.exclusive = true
		}
	}
	f.lockLevel = level
	return nil
}

// Unlock downgrades the handle's advisory file lock to level.
func (f *File) Unlock(level LockLevel) error {
	if level >= f.lockLevel {
		return nil
	}
	c := f.content
	c.mu.Lock()
	defer c.mu.Unlock()
	f.unlockLocked(level)
	return nil
}

// unlockLocked releases lock state down to level. Callers must hold the
// content mutex.
func (f *File) unlockLocked(level LockLevel) {
	lk := &f.content.locks
	if f.lockLevel >= LockExclusive {
		lk.exclusive = false
	}
	if f.lockLevel >= LockPending && level < LockPending {
		lk.pending = false
	}
	if f.lockLevel >= LockReserved && level < LockReserved {
		lk.reserved = false
	}
	if f.lockLevel >= LockShared && level < LockShared {
		lk.shared--
	}
	f.lockLevel = level
}

// ShmMap maps WAL-index region index region, allocating it when it is the
// next region in sequence.
func (f *File) ShmMap(region int) ([]byte, error) {
	b, err := f.content.shmMap(f, region)
	return b, f.registry.observe(err)
}

// ShmLock acquires WAL-index advisory locks over slots [start, start+n).
func (f *File) ShmLock(start, n int, exclusive bool) error {
	return f.registry.observe(f.content.shmLock(f, start, n, exclusive))
}

// ShmUnlock releases WAL-index advisory locks over slots [start, start+n).
func (f *File) ShmUnlock(start, n int, exclusive bool) error {
	return f.registry.observe(f.content.shmUnlock(f, start, n, exclusive))
}

// ShmBarrier is a no-op: all shared-memory access in this emulation is
// already ordered by the content mutex.
func (f *File) ShmBarrier() {}

// ShmUnmap releases every region mapping and WAL-index lock this handle
// holds.
func (f *File) ShmUnmap() {
	f.content.shmUnmapAll(f)
}

// BeginTransaction records an in-flight transaction against the database
// this handle is open on. Checkpoints are gated on the transaction count
// returning to zero.
func (f *File) BeginTransaction() error {
	return f.registry.observe(f.content.beginTransaction())
}

// EndTransaction ends an in-flight transaction previously recorded with
// BeginTransaction.
func (f *File) EndTransaction() error {
	return f.registry.observe(f.content.endTransaction())
}

// CanCheckpoint reports whether no transaction is in flight on the database
// this handle is open on.
func (f *File) CanCheckpoint() bool {
	return f.content.canCheckpoint()
}

// Close releases the handle: it drops any file lock and shared-memory state
// and decrements the content's descriptor refcount. The content itself stays
// registered until an explicit Registry.Delete.
func (f *File) Close() error {
	if f.closed {
		return f.registry.observe(
			fmt.Errorf("close %q: handle already closed: %w", f.content.filename, ErrInvariant))
	}
	f.closed = true
	f.content.shmUnmapAll(f)
	f.content.mu.Lock()
	f.unlockLocked(LockNone)
	f.content.mu.Unlock()
	if err := f.registry.release(f.content); err != nil {
		return f.registry.observe(err)
	}
	f.registry.metrics.openHandles.Add(context.Background(), -1)
	f.logger.Debug("closed file handle",
		zap.String("file", f.content.filename),
		zap.String("handle", f.id.String()))
	return nil
}
