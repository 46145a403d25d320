package vfs

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// FileKind distinguishes the two file types the engine opens through this
// file system.
type FileKind int

const (
	MainDatabase FileKind = iota
	WriteAheadLog
)

func (k FileKind) String() string {
	if k == WriteAheadLog {
		return "wal"
	}
	return "database"
}

// fileLockState is the advisory file-lock table shared by all handles open
// on one content. It mirrors the engine's five-level locking protocol
// (NONE < SHARED < RESERVED < PENDING < EXCLUSIVE).
type fileLockState struct {
	shared    int
	reserved  bool
	pending   bool
	exclusive bool
}

// fileContent is the volatile content of one named file: its pages or WAL
// frames, the WAL file header, the shared-memory regions backing the
// WAL-index, and the reference counts tying its lifetime to open handles.
// A fileContent is created by the registry on the first open-with-create of
// its filename and freed only by an explicit delete.
type fileContent struct {
	mu sync.RWMutex

	filename string
	kind     FileKind

	hdr      []byte  // WAL file header, WAL content only
	pages    []*page // pages (database) or frames (WAL), index order
	pageSize int     // fixed once the first page is written

	refcount int // open handles referencing this content

	shm   *sharedMemory // WAL-index emulation, database content only
	locks fileLockState

	wal *fileContent // associated WAL content, database content only

	// Number of in-flight transactions across all connections sharing this
	// database. A checkpoint may only run when this is zero.
	txCount int
}

func newFileContent(filename string, kind FileKind) *fileContent {
	return &fileContent{filename: filename, kind: kind}
}

// extentLocked returns the current file size in bytes. Callers must hold mu.
func (c *fileContent) extentLocked() int64 {
	if c.kind == WriteAheadLog {
		if c.hdr == nil && len(c.pages) == 0 {
			return 0
		}
		return walHeaderSize + int64(len(c.pages))*int64(walFrameHeaderSize+c.pageSize)
	}
	return int64(len(c.pages)) * int64(c.pageSize)
}

func (c *fileContent) size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.extentLocked()
}

// readAt fills p with the file bytes at offset off. Reads entirely past the
// current extent are zero-filled with no error, matching the engine's probe
// behavior; reads that straddle the extent return the available bytes, zero
// the remainder and fail with ErrShortRead.
func (c *fileContent) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %q at %d: %w", c.filename, off, ErrInvalidOffset)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ext := c.extentLocked()
	if off >= ext {
		zeroFill(p)
		return len(p), nil
	}
	n := len(p)
	if off+int64(n) > ext {
		n = int(ext - off)
	}
	if c.kind == WriteAheadLog {
		c.readWALLocked(p[:n], off)
	} else {
		c.readDatabaseLocked(p[:n], off)
	}
	if n < len(p) {
		zeroFill(p[n:])
		return n, fmt.Errorf("read %q at %d: %d of %d bytes: %w",
			c.filename, off, n, len(p), ErrShortRead)
	}
	return n, nil
}

// readDatabaseLocked copies page bytes for a range known to be within the
// extent. Callers must hold mu.
func (c *fileContent) readDatabaseLocked(p []byte, off int64) {
	for n := 0; n < len(p); {
		o := off + int64(n)
		idx := int(o / int64(c.pageSize))
		po := int(o % int64(c.pageSize))
		n += copy(p[n:], c.pages[idx].buf[po:])
	}
}

// readWALLocked copies WAL bytes for a range known to be within the extent,
// overlaying each frame's patches onto its as-first-written bytes. Callers
// must hold mu.
func (c *fileContent) readWALLocked(p []byte, off int64) {
	span := int64(walFrameHeaderSize + c.pageSize)
	for n := 0; n < len(p); {
		o := off + int64(n)
		var m int
		if o < walHeaderSize {
			m = copy(p[n:], c.hdr[o:])
		} else {
			rel := o - walHeaderSize
			frame := c.pages[rel/span]
			fo := int(rel % span)
			if fo < walFrameHeaderSize {
				m = copy(p[n:], frame.hdr[fo:])
			} else {
				m = copy(p[n:], frame.buf[fo-walFrameHeaderSize:])
			}
			frame.overlay(p[n:n+m], fo)
		}
		if m == 0 {
			// The extent promised bytes the layout cannot serve. Serve
			// zeros instead of spinning under the content lock.
			zeroFill(p[n:])
			return
		}
		n += m
	}
}

// writeAt stores len(b) bytes at offset off. The first write to a fresh
// database file establishes the page size; page-creating writes must land
// exactly on a page boundary. WAL writes follow the engine's WAL layout and
// turn into byte patches once a frame exists.
func (c *fileContent) writeAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("write %q at %d: %w", c.filename, off, ErrInvalidOffset)
	}
	if len(b) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.kind == WriteAheadLog {
		err = c.writeWALLocked(b, off)
	} else {
		err = c.writeDatabaseLocked(b, off)
	}
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *fileContent) writeDatabaseLocked(b []byte, off int64) error {
	if c.pageSize == 0 {
		// The engine always issues a full-page write before any partial
		// one, so the first write fixes the page size.
		if off != 0 {
			return fmt.Errorf("write %q at %d: first write must start at 0: %w",
				c.filename, off, ErrInvalidOffset)
		}
		c.pageSize = len(b)
		c.pages = append(c.pages, newDatabasePage(b))
		return nil
	}
	for n := 0; n < len(b); {
		o := off + int64(n)
		idx := int(o / int64(c.pageSize))
		po := int(o % int64(c.pageSize))
		switch {
		case idx < len(c.pages):
		case idx == len(c.pages):
			if po != 0 {
				return fmt.Errorf("write %q at %d: not a page boundary: %w",
					c.filename, o, ErrInvalidOffset)
			}
			c.pages = append(c.pages, newZeroDatabasePage(c.pageSize))
		default:
			return fmt.Errorf("write %q at %d: beyond last page: %w",
				c.filename, o, ErrInvalidOffset)
		}
		n += copy(c.pages[idx].buf[po:], b[n:])
	}
	return nil
}

func (c *fileContent) writeWALLocked(b []byte, off int64) error {
	if off == 0 {
		if len(b) != walHeaderSize {
			return fmt.Errorf("write %q: WAL header must be %d bytes, got %d: %w",
				c.filename, walHeaderSize, len(b), ErrInvalidSize)
		}
		if c.hdr == nil {
			c.hdr = make([]byte, walHeaderSize)
		}
		copy(c.hdr, b)
		// The WAL header carries the database page size at bytes 8-11.
		if ps := int(binary.BigEndian.Uint32(b[8:12])); ps >= 512 && ps <= 65536 && ps&(ps-1) == 0 {
			c.pageSize = ps
		}
		return nil
	}
	if off < walHeaderSize {
		return fmt.Errorf("write %q at %d: inside WAL header: %w",
			c.filename, off, ErrInvalidOffset)
	}
	// After a WAL reset the engine rewrites the header before any frame;
	// a frame write on a headerless WAL is malformed.
	if c.hdr == nil {
		return fmt.Errorf("write %q at %d: no WAL header: %w",
			c.filename, off, ErrInvalidOffset)
	}
	if c.pageSize == 0 {
		return fmt.Errorf("write %q at %d: page size not established: %w",
			c.filename, off, ErrInvalidOffset)
	}
	span := int64(walFrameHeaderSize + c.pageSize)
	rel := off - walHeaderSize
	idx := int(rel / span)
	fo := int(rel % span)

	switch {
	case idx == len(c.pages):
		// Frames are append-only and start with their header write.
		if fo != 0 || len(b) != walFrameHeaderSize {
			return fmt.Errorf("write %q at %d: not a frame header write: %w",
				c.filename, off, ErrInvalidOffset)
		}
		c.pages = append(c.pages, newWALFrame(b, c.pageSize))
	case idx < len(c.pages):
		if int64(fo)+int64(len(b)) > span {
			return fmt.Errorf("write %q at %d: write crosses frame boundary: %w",
				c.filename, off, ErrInvalidOffset)
		}
		frame := c.pages[idx]
		if fo == walFrameHeaderSize && len(b) == c.pageSize && !frame.bufWritten {
			// First full write of the frame's page content.
			copy(frame.buf, b)
			frame.bufWritten = true
			return nil
		}
		// Rewrites of existing frame bytes never touch the original
		// buffer; the engine may read back either view.
		frame.addPatch(fo, b)
	default:
		return fmt.Errorf("write %q at %d: beyond last frame: %w",
			c.filename, off, ErrInvalidOffset)
	}
	return nil
}

// truncate drops trailing pages so the extent becomes size. Truncating a WAL
// to zero also drops its file header (WAL reset after a checkpoint). Growing
// a file through truncate is not supported.
func (c *fileContent) truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("truncate %q to %d: %w", c.filename, size, ErrInvalidSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncateLocked(size)
}

func (c *fileContent) truncateLocked(size int64) error {
	if size == 0 {
		c.pages = nil
		if c.kind == WriteAheadLog {
			c.hdr = nil
		}
		return nil
	}
	if c.pageSize == 0 {
		return fmt.Errorf("truncate %q to %d: empty file: %w", c.filename, size, ErrInvalidSize)
	}
	var n int64
	if c.kind == WriteAheadLog {
		span := int64(walFrameHeaderSize + c.pageSize)
		rel := size - walHeaderSize
		if rel < 0 || rel%span != 0 {
			return fmt.Errorf("truncate %q to %d: not a frame boundary: %w",
				c.filename, size, ErrInvalidSize)
		}
		n = rel / span
	} else {
		if size%int64(c.pageSize) != 0 {
			return fmt.Errorf("truncate %q to %d: not a page boundary: %w",
				c.filename, size, ErrInvalidSize)
		}
		n = size / int64(c.pageSize)
	}
	if n > int64(len(c.pages)) {
		return fmt.Errorf("truncate %q to %d: beyond current extent: %w",
			c.filename, size, ErrInvalidSize)
	}
	c.pages = c.pages[:n]
	return nil
}

// --- Transaction/Checkpoint Coordination ---

func (c *fileContent) beginTransaction() error {
	if c.kind != MainDatabase {
		return fmt.Errorf("begin transaction on %q: not a database file: %w",
			c.filename, ErrInvariant)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txCount++
	return nil
}

func (c *fileContent) endTransaction() error {
	if c.kind != MainDatabase {
		return fmt.Errorf("end transaction on %q: not a database file: %w",
			c.filename, ErrInvariant)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txCount == 0 {
		return fmt.Errorf("end transaction on %q: no transaction in flight: %w",
			c.filename, ErrInvariant)
	}
	c.txCount--
	return nil
}

func (c *fileContent) canCheckpoint() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.txCount == 0
}

func zeroFill(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
